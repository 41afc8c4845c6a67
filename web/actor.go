package web

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/deemkeen/solopub/activitypub"
	"github.com/deemkeen/solopub/util"
	"github.com/google/uuid"
)

// GetActor builds the ActivityPub Person document for the configured actor.
func GetActor(conf *util.AppConfig, publicKeyPem string) (string, error) {
	actorURI := activitypub.ActorIRI(conf)

	displayName := conf.Conf.DisplayName
	if displayName == "" {
		displayName = conf.Conf.Username
	}

	actor := map[string]interface{}{
		"@context": []string{
			"https://www.w3.org/ns/activitystreams",
			"https://w3id.org/security/v1",
		},
		"id":                        actorURI,
		"type":                      "Person",
		"preferredUsername":         conf.Conf.Username,
		"name":                      displayName,
		"summary":                   conf.Conf.Summary,
		"inbox":                     activitypub.InboxIRI(conf),
		"outbox":                    activitypub.OutboxIRI(conf),
		"followers":                 activitypub.FollowersIRI(conf),
		"following":                 activitypub.FollowingIRI(conf),
		"url":                       actorURI,
		"manuallyApprovesFollowers": conf.Conf.ManualApproval,
		"discoverable":              true,
		"endpoints": map[string]interface{}{
			"sharedInbox": activitypub.InboxIRI(conf),
		},
		"publicKey": map[string]interface{}{
			"id":           activitypub.KeyIRI(conf),
			"owner":        actorURI,
			"publicKeyPem": publicKeyPem,
		},
	}

	jsonBytes, err := json.Marshal(actor)
	if err != nil {
		return "", err
	}
	return string(jsonBytes), nil
}

// GetNoteObject returns one local note as an ActivityPub object. A deleted
// note answers with a Tombstone that still carries the original id.
func GetNoteObject(database activitypub.Database, noteId uuid.UUID, conf *util.AppConfig) (string, error) {
	note, err := database.ReadNoteById(noteId)
	if err != nil {
		return "", err
	}
	if note == nil {
		return "", fmt.Errorf("note %s not found", noteId)
	}

	if note.Tombstoned {
		tombstone := map[string]interface{}{
			"@context":   "https://www.w3.org/ns/activitystreams",
			"id":         note.ObjectURI,
			"type":       "Tombstone",
			"formerType": "Note",
		}
		jsonBytes, err := json.Marshal(tombstone)
		if err != nil {
			return "", err
		}
		return string(jsonBytes), nil
	}

	actorURI := activitypub.ActorIRI(conf)
	noteObj := map[string]interface{}{
		"@context":     "https://www.w3.org/ns/activitystreams",
		"id":           note.ObjectURI,
		"type":         "Note",
		"attributedTo": actorURI,
		"content":      note.Content,
		"published":    note.CreatedAt.Format(time.RFC3339),
		"to":           []string{"https://www.w3.org/ns/activitystreams#Public"},
		"cc":           []string{activitypub.FollowersIRI(conf)},
	}
	if note.InReplyToURI != "" {
		noteObj["inReplyTo"] = note.InReplyToURI
	}

	jsonBytes, err := json.Marshal(noteObj)
	if err != nil {
		return "", err
	}
	return string(jsonBytes), nil
}
