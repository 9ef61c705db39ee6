package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Object is one document in object storage.
type Object struct {
	Path        string
	Body        []byte
	ContentType string
	Metadata    map[string]string
}

// BlobWriter stores write-once objects.
type BlobWriter interface {
	// PutIfAbsent stores obj and returns ErrAlreadyExists when something is
	// already stored at obj.Path.
	PutIfAbsent(ctx context.Context, obj Object) error
}

// BlobReader retrieves objects. Missing objects are ErrNotFound.
type BlobReader interface {
	Get(ctx context.Context, path string) (Object, error)
}

// MarketSnapshot is the archived record of a settled market.
type MarketSnapshot struct {
	Market     Market        `json:"market"`
	Positions  []Position    `json:"positions"`
	Entries    []LedgerEntry `json:"entries"`
	ArchivedAt time.Time     `json:"archived_at"`
}

// Archiver stores settled-market snapshots keyed by market ID and archive
// time. Archiving the same snapshot twice leaves the first copy in place.
type Archiver interface {
	ArchiveMarket(ctx context.Context, snap MarketSnapshot) (string, error)
	LoadMarket(ctx context.Context, id uuid.UUID, archivedAt time.Time) (MarketSnapshot, error)
}
