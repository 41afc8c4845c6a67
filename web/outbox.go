package web

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/deemkeen/solopub/activitypub"
	"github.com/deemkeen/solopub/domain"
	"github.com/deemkeen/solopub/util"
)

const itemsPerPage = 20

// GetOutbox returns the actor's public activities as an OrderedCollection.
// Page 0 is the collection metadata, pages start at 1.
func GetOutbox(database activitypub.Database, page int, conf *util.AppConfig) (string, error) {
	outboxURL := activitypub.OutboxIRI(conf)

	if page == 0 {
		totalItems, err := database.CountLocalActivities()
		if err != nil {
			log.Printf("Outbox: Failed to count activities: %v", err)
			return "", err
		}

		collection := map[string]interface{}{
			"@context":   "https://www.w3.org/ns/activitystreams",
			"id":         outboxURL,
			"type":       "OrderedCollection",
			"totalItems": totalItems,
			"first":      fmt.Sprintf("%s?page=1", outboxURL),
		}

		jsonBytes, err := json.Marshal(collection)
		if err != nil {
			return "", err
		}
		return string(jsonBytes), nil
	}

	return getOutboxPage(database, page, conf)
}

func getOutboxPage(database activitypub.Database, page int, conf *util.AppConfig) (string, error) {
	offset := (page - 1) * itemsPerPage

	// Fetch one extra row to learn whether a next page exists
	activities, err := database.ReadLocalActivities(itemsPerPage+1, offset)
	if err != nil {
		log.Printf("Outbox: Failed to fetch page %d: %v", page, err)
		return "", err
	}

	outboxURL := activitypub.OutboxIRI(conf)
	pageURL := fmt.Sprintf("%s?page=%d", outboxURL, page)

	hasMore := len(activities) > itemsPerPage
	if hasMore {
		activities = activities[:itemsPerPage]
	}

	items := []interface{}{}
	for _, activity := range activities {
		if activity.Tombstoned {
			continue
		}
		var item interface{}
		if err := json.Unmarshal([]byte(activity.RawJSON), &item); err != nil {
			log.Printf("Outbox: Skipping unreadable activity %s: %v", activity.ActivityURI, err)
			continue
		}
		items = append(items, item)
	}

	collectionPage := map[string]interface{}{
		"@context":     "https://www.w3.org/ns/activitystreams",
		"id":           pageURL,
		"type":         "OrderedCollectionPage",
		"partOf":       outboxURL,
		"orderedItems": items,
	}
	if hasMore {
		collectionPage["next"] = fmt.Sprintf("%s?page=%d", outboxURL, page+1)
	}
	if page > 1 {
		collectionPage["prev"] = fmt.Sprintf("%s?page=%d", outboxURL, page-1)
	}

	jsonBytes, err := json.Marshal(collectionPage)
	if err != nil {
		return "", err
	}
	return string(jsonBytes), nil
}

// GetFollowers returns the accepted followers as a collection of actor URIs.
func GetFollowers(database activitypub.Database, conf *util.AppConfig) (string, error) {
	follows, err := database.ReadFollowers(activitypub.ActorIRI(conf), domain.FollowAccepted)
	if err != nil {
		return "", err
	}

	uris := make([]string, 0, len(follows))
	for _, follow := range follows {
		uris = append(uris, follow.ActorURI)
	}
	return marshalURICollection(activitypub.FollowersIRI(conf), uris)
}

// GetFollowing returns the actors we follow with an accepted edge.
func GetFollowing(database activitypub.Database, conf *util.AppConfig) (string, error) {
	follows, err := database.ReadFollowing(activitypub.ActorIRI(conf), domain.FollowAccepted)
	if err != nil {
		return "", err
	}

	uris := make([]string, 0, len(follows))
	for _, follow := range follows {
		uris = append(uris, follow.TargetURI)
	}
	return marshalURICollection(activitypub.FollowingIRI(conf), uris)
}

func marshalURICollection(id string, uris []string) (string, error) {
	collection := map[string]interface{}{
		"@context":     "https://www.w3.org/ns/activitystreams",
		"id":           id,
		"type":         "OrderedCollection",
		"totalItems":   len(uris),
		"orderedItems": uris,
	}

	jsonBytes, err := json.Marshal(collection)
	if err != nil {
		return "", err
	}
	return string(jsonBytes), nil
}
