package s3blob

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/pricebet/internal/domain"
)

// Object metadata written with every snapshot.
const (
	metaMarketID  = "market-id"
	metaOutcome   = "outcome"
	metaPositions = "positions"
	metaDigest    = "sha256"
)

// Archiver implements domain.Archiver with one write-once JSON document per
// settled market at <prefix>/YYYY/MM/<market-id>.json.
type Archiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	prefix string
}

// NewArchiver creates an Archiver. An empty prefix defaults to "settlements".
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, prefix string) *Archiver {
	if prefix == "" {
		prefix = "settlements"
	}
	return &Archiver{writer: writer, reader: reader, prefix: prefix}
}

// SnapshotPath returns the object key for a market archived at archivedAt.
//
//	settlements/2025/01/5b0c9c1e-....json
func (a *Archiver) SnapshotPath(id uuid.UUID, archivedAt time.Time) string {
	at := archivedAt.UTC()
	return fmt.Sprintf("%s/%04d/%02d/%s.json", a.prefix, at.Year(), int(at.Month()), id)
}

// ArchiveMarket uploads snap. An existing snapshot at the same path is left
// untouched and its path returned.
func (a *Archiver) ArchiveMarket(ctx context.Context, snap domain.MarketSnapshot) (string, error) {
	if snap.ArchivedAt.IsZero() {
		return "", fmt.Errorf("s3blob: archive market %s: archived_at is required", snap.Market.ID)
	}
	if !snap.Market.Resolved {
		return "", fmt.Errorf("s3blob: archive market %s: %w", snap.Market.ID, domain.ErrMarketNotResolved)
	}
	path := a.SnapshotPath(snap.Market.ID, snap.ArchivedAt)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return "", fmt.Errorf("s3blob: archive market %s: encode: %w", snap.Market.ID, err)
	}
	digest := sha256.Sum256(buf.Bytes())

	err := a.writer.PutIfAbsent(ctx, domain.Object{
		Path:        path,
		Body:        buf.Bytes(),
		ContentType: "application/json",
		Metadata: map[string]string{
			metaMarketID:  snap.Market.ID.String(),
			metaOutcome:   snap.Market.WinningOutcome.String(),
			metaPositions: strconv.Itoa(len(snap.Positions)),
			metaDigest:    hex.EncodeToString(digest[:]),
		},
	})
	if err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
		return "", fmt.Errorf("s3blob: archive market %s: %w", snap.Market.ID, err)
	}
	return path, nil
}

// LoadMarket reads back a snapshot written by ArchiveMarket and checks it
// against the digest recorded at upload.
func (a *Archiver) LoadMarket(ctx context.Context, id uuid.UUID, archivedAt time.Time) (domain.MarketSnapshot, error) {
	obj, err := a.reader.Get(ctx, a.SnapshotPath(id, archivedAt))
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("s3blob: load market %s: %w", id, err)
	}
	if want, ok := obj.Metadata[metaDigest]; ok {
		got := sha256.Sum256(obj.Body)
		if hex.EncodeToString(got[:]) != want {
			return domain.MarketSnapshot{}, fmt.Errorf("s3blob: load market %s: snapshot digest mismatch", id)
		}
	}

	var snap domain.MarketSnapshot
	if err := json.Unmarshal(obj.Body, &snap); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("s3blob: load market %s: decode: %w", id, err)
	}
	if snap.Market.ID != id {
		return domain.MarketSnapshot{}, fmt.Errorf("s3blob: load market %s: snapshot holds market %s", id, snap.Market.ID)
	}
	return snap, nil
}

var _ domain.Archiver = (*Archiver)(nil)
