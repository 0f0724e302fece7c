// Package pagination implements keyset cursors over (created_at, id) ordered
// listings, newest first.
package pagination

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidCursor is returned for cursors this package did not produce.
var ErrInvalidCursor = errors.New("pagination: invalid cursor")

const (
	cursorVersion = "t1"
	maxCursorID   = 128
)

// Cursor marks the last row of a page. The next page holds rows strictly
// older than it, with ID breaking ties between equal timestamps.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// After reports whether a row at (createdAt, id) belongs after c in a
// newest-first listing.
func (c *Cursor) After(createdAt time.Time, id string) bool {
	if c == nil {
		return true
	}
	if createdAt.Equal(c.CreatedAt) {
		return id < c.ID
	}
	return createdAt.Before(c.CreatedAt)
}

// Encode returns an opaque cursor for the row at (createdAt, id).
func Encode(createdAt time.Time, id string) string {
	raw := cursorVersion + "." + strconv.FormatInt(createdAt.UnixNano(), 10) + "." + id
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// Decode parses a cursor from Encode. Empty input means the first page and
// yields a nil cursor.
func Decode(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
	if err != nil {
		return nil, ErrInvalidCursor
	}
	version, rest, ok := strings.Cut(string(raw), ".")
	if !ok || version != cursorVersion {
		return nil, ErrInvalidCursor
	}
	ts, id, ok := strings.Cut(rest, ".")
	if !ok || id == "" || len(id) > maxCursorID {
		return nil, ErrInvalidCursor
	}
	nanos, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	return &Cursor{CreatedAt: time.Unix(0, nanos).UTC(), ID: id}, nil
}

// ComputePage trims items fetched with limit+1 to limit and returns the
// cursor for the next page when one exists.
func ComputePage[T any](items []T, limit int, key func(T) (time.Time, string)) ([]T, string, bool) {
	if len(items) <= limit {
		return items, "", false
	}
	items = items[:limit]
	createdAt, id := key(items[len(items)-1])
	return items, Encode(createdAt, id), true
}

// Limit parses a page size query value. Missing, malformed and
// non-positive values give def; larger values are capped at max.
func Limit(raw string, def, max int) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return min(n, max)
}
