package db

import (
	"database/sql"
	"log"
	"time"

	"github.com/deemkeen/solopub/domain"
	"github.com/google/uuid"
)

// Delivery queue queries
const (
	sqlInsertDelivery = `INSERT INTO delivery_queue(id, activity_uri, inbox_uri, activity_json, attempts, next_attempt_at, state, lease_expires_at, last_error, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlSelectClaimable = `SELECT id, activity_uri, inbox_uri, activity_json, attempts, next_attempt_at, state, lease_expires_at, last_error, created_at
		FROM delivery_queue WHERE state = 'queued' AND next_attempt_at <= ? ORDER BY created_at ASC LIMIT ?`

	sqlMarkInFlight = `UPDATE delivery_queue SET state = 'in_flight', lease_expires_at = ? WHERE id = ? AND state = 'queued'`

	sqlMarkDelivered = `UPDATE delivery_queue SET state = 'delivered', lease_expires_at = ? WHERE id = ? AND state = 'in_flight'`

	sqlMarkDeadLettered = `UPDATE delivery_queue SET state = 'dead_lettered', last_error = ? WHERE id = ? AND state = 'in_flight'`

	sqlReschedule = `UPDATE delivery_queue SET state = 'queued', attempts = ?, next_attempt_at = ?, last_error = ? WHERE id = ? AND state = 'in_flight'`

	sqlReleaseExpired = `UPDATE delivery_queue SET state = 'queued' WHERE state = 'in_flight' AND lease_expires_at <= ?`

	sqlSelectDeliveryById = `SELECT id, activity_uri, inbox_uri, activity_json, attempts, next_attempt_at, state, lease_expires_at, last_error, created_at FROM delivery_queue WHERE id = ?`

	sqlSelectDeliveriesByState = `SELECT id, activity_uri, inbox_uri, activity_json, attempts, next_attempt_at, state, lease_expires_at, last_error, created_at FROM delivery_queue WHERE state = ? ORDER BY created_at ASC`
)

func (db *DB) EnqueueDelivery(job *domain.DeliveryJob) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertDelivery,
			job.Id.String(),
			job.ActivityURI,
			job.InboxURI,
			job.ActivityJSON,
			job.Attempts,
			job.NextAttemptAt,
			job.State,
			job.LeaseExpiresAt,
			job.LastError,
			job.CreatedAt,
		)
		return err
	})
}

// ClaimDeliveries atomically moves up to limit due jobs from queued to
// in_flight with a lease. Select and update run in one transaction, so a job
// is handed to exactly one caller.
func (db *DB) ClaimDeliveries(limit int, leaseFor time.Duration) ([]domain.DeliveryJob, error) {
	now := time.Now()
	leaseUntil := now.Add(leaseFor)
	var jobs []domain.DeliveryJob

	err := db.wrapTransaction(func(tx *sql.Tx) error {
		jobs = jobs[:0]
		rows, err := tx.Query(sqlSelectClaimable, now, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var job domain.DeliveryJob
			var idStr string
			if err := rows.Scan(&idStr, &job.ActivityURI, &job.InboxURI, &job.ActivityJSON, &job.Attempts, &job.NextAttemptAt, &job.State, &job.LeaseExpiresAt, &job.LastError, &job.CreatedAt); err != nil {
				return err
			}
			job.Id, _ = uuid.Parse(idStr)
			jobs = append(jobs, job)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		for i := range jobs {
			if _, err := tx.Exec(sqlMarkInFlight, leaseUntil, jobs[i].Id.String()); err != nil {
				return err
			}
			jobs[i].State = domain.DeliveryInFlight
			jobs[i].LeaseExpiresAt = leaseUntil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// MarkDelivered finishes a claimed job. The update only matches jobs still
// in_flight: a worker whose lease expired and was handed out again must not
// overwrite the state the current owner set.
func (db *DB) MarkDelivered(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlMarkDelivered, time.Time{}, id.String())
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			log.Printf("MarkDelivered: lease on job %s no longer held, skipping", id)
		}
		return nil
	})
}

// MarkDeadLettered parks a claimed job permanently. Like MarkDelivered it is a
// no-op when the caller's lease has already expired.
func (db *DB) MarkDeadLettered(id uuid.UUID, reason string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlMarkDeadLettered, reason, id.String())
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			log.Printf("MarkDeadLettered: lease on job %s no longer held, skipping", id)
		}
		return nil
	})
}

// RescheduleDelivery returns a failed job to the queue with its attempt count
// and next attempt time updated. A stale caller whose lease expired cannot
// re-queue a job another worker already finished.
func (db *DB) RescheduleDelivery(id uuid.UUID, attempts int, nextAttemptAt time.Time, lastError string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlReschedule, attempts, nextAttemptAt, lastError, id.String())
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			log.Printf("RescheduleDelivery: lease on job %s no longer held, skipping", id)
		}
		return nil
	})
}

// ReleaseExpiredLeases returns stranded in_flight jobs to queued. Run at
// startup and on every dispatcher tick so a crash mid-send cannot park a job
// forever.
func (db *DB) ReleaseExpiredLeases() (int, error) {
	var released int64
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlReleaseExpired, time.Now())
		if err != nil {
			return err
		}
		released, _ = res.RowsAffected()
		return nil
	})
	return int(released), err
}

func (db *DB) ReadDeliveryById(id uuid.UUID) (*domain.DeliveryJob, error) {
	row := db.db.QueryRow(sqlSelectDeliveryById, id.String())
	var job domain.DeliveryJob
	var idStr string
	err := row.Scan(&idStr, &job.ActivityURI, &job.InboxURI, &job.ActivityJSON, &job.Attempts, &job.NextAttemptAt, &job.State, &job.LeaseExpiresAt, &job.LastError, &job.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	job.Id, _ = uuid.Parse(idStr)
	return &job, nil
}

func (db *DB) ReadDeliveriesByState(state string) ([]domain.DeliveryJob, error) {
	rows, err := db.db.Query(sqlSelectDeliveriesByState, state)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.DeliveryJob
	for rows.Next() {
		var job domain.DeliveryJob
		var idStr string
		if err := rows.Scan(&idStr, &job.ActivityURI, &job.InboxURI, &job.ActivityJSON, &job.Attempts, &job.NextAttemptAt, &job.State, &job.LeaseExpiresAt, &job.LastError, &job.CreatedAt); err != nil {
			return jobs, err
		}
		job.Id, _ = uuid.Parse(idStr)
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
