package web

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/deemkeen/solopub/activitypub"
	"github.com/deemkeen/solopub/util"
)

// GetWebfinger answers an acct: lookup for the one local actor. Any other
// resource is a miss.
func GetWebfinger(resource string, conf *util.AppConfig) (string, error) {
	local := fmt.Sprintf("%s@%s", conf.Conf.Username, conf.Conf.SslDomain)
	if resource != local && resource != conf.Conf.Username {
		return "", fmt.Errorf("unknown resource %s", resource)
	}

	doc := map[string]interface{}{
		"subject": fmt.Sprintf("acct:%s", local),
		"aliases": []string{activitypub.ActorIRI(conf)},
		"links": []map[string]interface{}{
			{
				"rel":  "self",
				"type": "application/activity+json",
				"href": activitypub.ActorIRI(conf),
			},
		},
	}

	jsonBytes, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(jsonBytes), nil
}

func GetWebFingerNotFound() string {
	return `{"detail":"Not Found"}`
}

// GetNodeInfoIndex returns the well-known pointer to the NodeInfo document.
func GetNodeInfoIndex(conf *util.AppConfig) string {
	return fmt.Sprintf(`{"links":[{"rel":"http://nodeinfo.diaspora.software/ns/schema/2.1","href":"https://%s/nodeinfo/2.1"}]}`, conf.Conf.SslDomain)
}

// GetNodeInfo returns the NodeInfo 2.1 document with the local post count.
func GetNodeInfo(database activitypub.Database, conf *util.AppConfig) (string, error) {
	posts, err := database.CountNotes()
	if err != nil {
		log.Printf("NodeInfo: Failed to count notes: %v", err)
		posts = 0
	}

	doc := map[string]interface{}{
		"version": "2.1",
		"software": map[string]interface{}{
			"name":    "solopub",
			"version": util.GetVersion(),
		},
		"protocols": []string{"activitypub"},
		"services": map[string]interface{}{
			"inbound":  []string{},
			"outbound": []string{},
		},
		"openRegistrations": false,
		"usage": map[string]interface{}{
			"users": map[string]interface{}{
				"total": 1,
			},
			"localPosts": posts,
		},
		"metadata": map[string]interface{}{},
	}

	jsonBytes, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(jsonBytes), nil
}
