package web

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/deemkeen/solopub/activitypub"
	"github.com/deemkeen/solopub/util"
	"github.com/google/uuid"
	"github.com/gorilla/feeds"
)

const feedPageSize = 50

// GetRSS renders the actor's recent notes as an RSS feed.
func GetRSS(database activitypub.Database, conf *util.AppConfig) (string, error) {
	notes, err := database.ReadNotes(feedPageSize, 0)
	if err != nil {
		log.Println("Could not get notes!", err)
		return "", errors.New("error retrieving notes")
	}

	author := conf.Conf.DisplayName
	if author == "" {
		author = conf.Conf.Username
	}
	email := fmt.Sprintf("%s@%s", conf.Conf.Username, conf.Conf.SslDomain)

	feed := &feeds.Feed{
		Title:       fmt.Sprintf("%s - Notes", author),
		Link:        &feeds.Link{Href: fmt.Sprintf("https://%s/feed", conf.Conf.SslDomain)},
		Description: conf.Conf.Summary,
		Author:      &feeds.Author{Name: author, Email: email},
		Created:     time.Now(),
	}

	var feedItems []*feeds.Item
	for _, note := range notes {
		if note.Tombstoned {
			continue
		}
		feedItems = append(feedItems,
			&feeds.Item{
				Id:      note.Id.String(),
				Title:   note.CreatedAt.Format(util.DateTimeFormat()),
				Link:    &feeds.Link{Href: note.ObjectURI},
				Content: note.Content,
				Author:  &feeds.Author{Name: author, Email: email},
				Created: note.CreatedAt,
			})
	}

	feed.Items = feedItems
	return feed.ToRss()
}

// GetRSSItem renders a single note as a one-item feed.
func GetRSSItem(database activitypub.Database, conf *util.AppConfig, id uuid.UUID) (string, error) {
	note, err := database.ReadNoteById(id)
	if err != nil || note == nil || note.Tombstoned {
		log.Println("Could not get note!", err)
		return "", errors.New("error retrieving note by id")
	}

	author := conf.Conf.DisplayName
	if author == "" {
		author = conf.Conf.Username
	}
	email := fmt.Sprintf("%s@%s", conf.Conf.Username, conf.Conf.SslDomain)

	feed := &feeds.Feed{
		Title:       fmt.Sprintf("%s - Note", author),
		Link:        &feeds.Link{Href: note.ObjectURI},
		Description: conf.Conf.Summary,
		Author:      &feeds.Author{Name: author, Email: email},
		Created:     time.Now(),
	}

	feed.Items = []*feeds.Item{
		{
			Id:      note.Id.String(),
			Title:   note.CreatedAt.Format(util.DateTimeFormat()),
			Link:    &feeds.Link{Href: note.ObjectURI},
			Content: note.Content,
			Author:  &feeds.Author{Name: author, Email: email},
			Created: note.CreatedAt,
		},
	}

	return feed.ToRss()
}
