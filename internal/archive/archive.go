// Package archive stores encoded mimic snapshots under time-ordered record ids.
package archive

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound reports a missing snapshot record.
var ErrNotFound = errors.New("archive: snapshot not found")

// Record describes one archived snapshot.
type Record struct {
	// ID is a UUIDv7, so lexical order is creation order.
	ID        string
	CreatedAt time.Time
	Size      int64
}

// Store persists snapshot blobs.
type Store interface {
	// Put archives blob under a fresh record id.
	Put(ctx context.Context, blob []byte) (Record, error)
	// Get returns the blob of one record or ErrNotFound.
	Get(ctx context.Context, id string) ([]byte, error)
	// Latest returns the newest record and its blob or ErrNotFound when empty.
	Latest(ctx context.Context) (Record, []byte, error)
	// List returns every record, newest first.
	List(ctx context.Context) ([]Record, error)
	Close() error
}

// newRecordID mints a record id. Ids minted by one process are strictly increasing.
func newRecordID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("new record id: %w", err)
	}

	return id.String(), nil
}

// recordTime recovers the creation time embedded in a UUIDv7 id.
func recordTime(id string) (time.Time, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse record id %q: %w", id, err)
	}
	if parsed.Version() != 7 {
		return time.Time{}, fmt.Errorf("record id %q: unexpected uuid version %d", id, parsed.Version())
	}
	sec, nsec := parsed.Time().UnixTime()

	return time.Unix(sec, nsec).UTC(), nil
}

// validateID rejects ids that are not record ids so they never reach a storage key.
func validateID(id string) error {
	if _, err := recordTime(strings.TrimSpace(id)); err != nil {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return nil
}

func sortNewestFirst(records []Record) {
	slices.SortFunc(records, func(a, b Record) int {
		return strings.Compare(b.ID, a.ID)
	})
}
