package activitypub

import (
	"fmt"

	"github.com/deemkeen/solopub/util"
)

// IRI helpers for the single local actor. The actor lives at the root of the
// domain, so https://example.com/alice is the actor id and the shared
// collections hang off the domain itself.

func ActorIRI(conf *util.AppConfig) string {
	return fmt.Sprintf("https://%s/%s", conf.Conf.SslDomain, conf.Conf.Username)
}

func KeyIRI(conf *util.AppConfig) string {
	return fmt.Sprintf("%s#main-key", ActorIRI(conf))
}

func InboxIRI(conf *util.AppConfig) string {
	return fmt.Sprintf("https://%s/inbox", conf.Conf.SslDomain)
}

func OutboxIRI(conf *util.AppConfig) string {
	return fmt.Sprintf("https://%s/outbox", conf.Conf.SslDomain)
}

func FollowersIRI(conf *util.AppConfig) string {
	return fmt.Sprintf("https://%s/followers", conf.Conf.SslDomain)
}

func FollowingIRI(conf *util.AppConfig) string {
	return fmt.Sprintf("https://%s/following", conf.Conf.SslDomain)
}

func NoteIRI(conf *util.AppConfig, id string) string {
	return fmt.Sprintf("https://%s/notes/%s", conf.Conf.SslDomain, id)
}

func ActivityIRI(conf *util.AppConfig, id string) string {
	return fmt.Sprintf("https://%s/activities/%s", conf.Conf.SslDomain, id)
}
