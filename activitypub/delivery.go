package activitypub

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/deemkeen/solopub/domain"
	"github.com/deemkeen/solopub/util"
	"github.com/google/uuid"
)

const (
	// retry schedule: 30s, 1m, 2m, ... doubling, capped at 6h
	baseBackoff = 30 * time.Second
	maxBackoff  = 6 * time.Hour
	maxAttempts = 8

	leaseDuration = 2 * time.Minute
	tickInterval  = 10 * time.Second

	// Each tick claims at most claimFactor jobs per worker. The lease must
	// outlast the worst case of a claimed job waiting in the channel behind
	// claimFactor sends, so keep claimFactor small relative to
	// leaseDuration / request timeout.
	claimFactor = 2
)

// Dispatcher owns the delivery job lifecycle: it queues one job per
// (activity, recipient inbox), and a bounded worker pool signs and POSTs each
// job with retry and backoff. Terminal states are delivered and dead_lettered.
type Dispatcher struct {
	db       Database
	conf     *util.AppConfig
	keys     *Keys
	resolver *Resolver
	client   HTTPClient
	workers  int

	jobs chan domain.DeliveryJob
	wg   sync.WaitGroup
}

func NewDispatcher(db Database, conf *util.AppConfig, keys *Keys, resolver *Resolver, client HTTPClient) *Dispatcher {
	return &Dispatcher{
		db:       db,
		conf:     conf,
		keys:     keys,
		resolver: resolver,
		client:   client,
		workers:  conf.Conf.DeliveryWorkers,
		jobs:     make(chan domain.DeliveryJob, conf.Conf.DeliveryWorkers*claimFactor),
	}
}

// Enqueue creates one delivery job per recipient actor URI. A recipient whose
// actor cannot be resolved gets a job that dead-letters immediately; it never
// delays the others.
func (d *Dispatcher) Enqueue(activityURI string, activityJSON []byte, recipients []string) error {
	for _, recipient := range recipients {
		actor, err := d.resolver.Resolve(recipient)
		if err != nil {
			log.Printf("Dispatcher: Recipient %s unresolvable, dead-lettering: %v", recipient, err)
			job := d.newJob(activityURI, activityJSON, recipient)
			job.State = domain.DeliveryDeadLettered
			job.LastError = err.Error()
			if err := d.db.EnqueueDelivery(job); err != nil {
				return fmt.Errorf("failed to record dead-lettered job: %w", err)
			}
			continue
		}

		if err := d.EnqueueToInbox(activityURI, activityJSON, actor.InboxURI); err != nil {
			return err
		}
	}
	return nil
}

// EnqueueToInbox queues delivery of an activity straight to a known inbox URL.
func (d *Dispatcher) EnqueueToInbox(activityURI string, activityJSON []byte, inboxURI string) error {
	job := d.newJob(activityURI, activityJSON, inboxURI)
	if err := d.db.EnqueueDelivery(job); err != nil {
		return fmt.Errorf("failed to queue delivery to %s: %w", inboxURI, err)
	}
	return nil
}

func (d *Dispatcher) newJob(activityURI string, activityJSON []byte, inboxURI string) *domain.DeliveryJob {
	return &domain.DeliveryJob{
		Id:            uuid.New(),
		ActivityURI:   activityURI,
		InboxURI:      inboxURI,
		ActivityJSON:  string(activityJSON),
		Attempts:      0,
		NextAttemptAt: time.Now(),
		State:         domain.DeliveryQueued,
		CreatedAt:     time.Now(),
	}
}

// Start launches the worker pool and the claim loop. It returns immediately;
// cancel ctx to stop. Workers finish the jobs already handed to them, then
// exit; anything still leased comes back via lease expiry on the next run.
func (d *Dispatcher) Start(ctx context.Context) {
	log.Printf("Dispatcher: Starting delivery dispatcher with %d workers", d.workers)

	// A previous run may have crashed mid-send
	if released, err := d.db.ReleaseExpiredLeases(); err != nil {
		log.Printf("Dispatcher: Failed to release expired leases: %v", err)
	} else if released > 0 {
		log.Printf("Dispatcher: Released %d stranded deliveries back to the queue", released)
	}

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}

	d.wg.Add(1)
	go d.claimLoop(ctx)
}

// Wait blocks until the claim loop and all workers have stopped.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) claimLoop(ctx context.Context) {
	defer d.wg.Done()
	defer close(d.jobs)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.db.ReleaseExpiredLeases(); err != nil {
				log.Printf("Dispatcher: Failed to release expired leases: %v", err)
			}

			claimed, err := d.db.ClaimDeliveries(d.workers*claimFactor, leaseDuration)
			if err != nil {
				log.Printf("Dispatcher: Failed to claim deliveries: %v", err)
				continue
			}

			for _, job := range claimed {
				select {
				case d.jobs <- job:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for job := range d.jobs {
		d.attempt(&job)
	}
}

// attempt sends one claimed job and records its outcome.
func (d *Dispatcher) attempt(job *domain.DeliveryJob) {
	err := d.send(job)
	if err == nil {
		log.Printf("Dispatcher: Delivered %s to %s", job.ActivityURI, job.InboxURI)
		if err := d.db.MarkDelivered(job.Id); err != nil {
			log.Printf("Dispatcher: Failed to mark job delivered: %v", err)
		}
		return
	}

	job.Attempts++
	if job.Attempts >= maxAttempts {
		log.Printf("Dispatcher: Giving up on delivery to %s after %d attempts: %v", job.InboxURI, job.Attempts, err)
		if err := d.db.MarkDeadLettered(job.Id, err.Error()); err != nil {
			log.Printf("Dispatcher: Failed to dead-letter job: %v", err)
		}
		return
	}

	next := time.Now().Add(backoffFor(job.Attempts))
	log.Printf("Dispatcher: Delivery to %s failed (attempt %d), retry at %s: %v", job.InboxURI, job.Attempts, next.Format(time.RFC3339), err)
	if err := d.db.RescheduleDelivery(job.Id, job.Attempts, next, err.Error()); err != nil {
		log.Printf("Dispatcher: Failed to reschedule job: %v", err)
	}
}

// send signs and POSTs one activity to one inbox. Any non-2xx response counts
// as a failure.
func (d *Dispatcher) send(job *domain.DeliveryJob) error {
	body := []byte(job.ActivityJSON)

	req, err := http.NewRequest("POST", job.InboxURI, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", util.UserAgent())
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", req.URL.Host)

	if err := SignRequest(req, d.keys, KeyIRI(d.conf), body); err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("remote server returned status: %d", resp.StatusCode)
	}

	return nil
}

// backoffFor doubles the delay per attempt: 30s after the first failure, then
// 1m, 2m, ... capped at 6h.
func backoffFor(attempts int) time.Duration {
	backoff := baseBackoff
	for i := 1; i < attempts; i++ {
		backoff *= 2
		if backoff >= maxBackoff {
			return maxBackoff
		}
	}
	return backoff
}

// IsTerminal reports whether a job state will never change again.
func IsTerminal(state string) bool {
	return state == domain.DeliveryDelivered || state == domain.DeliveryDeadLettered
}
