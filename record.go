package sessionstore

import (
	"time"

	"github.com/creastat/sessionstore/query"
)

// Record is one persisted session.
//
// SID never changes for the life of the record. Data is the middleware's
// session payload and is stored without interpretation. LastModified is set
// by the executor on every write.
type Record struct {
	SID          string         `json:"sid"`
	Data         map[string]any `json:"data"`
	LastModified time.Time      `json:"last_modified"`
}

func recordFromDocument(doc query.Document) *Record {
	return &Record{
		SID:          doc.SID,
		Data:         query.CloneData(doc.Data),
		LastModified: doc.UpdatedAt,
	}
}
