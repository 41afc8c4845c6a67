package domain

import (
	"fmt"
	"github.com/google/uuid"
	"time"
)

// Note is a locally authored post. Notes are immutable; a deleted note keeps
// its row and object URI as a tombstone with the content cleared.
type Note struct {
	Id           uuid.UUID
	ObjectURI    string
	Content      string
	InReplyToURI string // URI of the note this is replying to, if any
	Tombstoned   bool
	CreatedAt    time.Time
}

func (note *Note) ToString() string {
	return fmt.Sprintf("\n\tId: %s \n\tObjectURI: %s \n\tContent: %s \n\tCreatedAt: %s)", note.Id, note.ObjectURI, note.Content, note.CreatedAt)
}
