// Package pagination implements the keyset cursors used by the listing
// endpoints. A cursor names the last row of the page it follows as a
// (created_at, id) pair, so pages stay stable while new rows arrive at
// the head of a listing.
package pagination

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidCursor is returned by Decode for any token this package
// did not mint.
var ErrInvalidCursor = errors.New("pagination: invalid cursor")

// Cursor is the decoded position of the last row already delivered.
// Stores resume strictly after it in (created_at DESC, id ASC) order.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// Encode packs a row key into the opaque token handed to clients.
// Tokens are URL-safe and unpadded, so they ride in query strings
// without escaping.
func Encode(createdAt time.Time, id string) string {
	raw := strconv.FormatInt(createdAt.UnixNano(), 10) + "|" + id
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// Decode unpacks a client-supplied token. The empty token means the
// first page and decodes to nil.
func Decode(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	ts, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return nil, ErrInvalidCursor
	}
	nanos, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	return &Cursor{CreatedAt: time.Unix(0, nanos).UTC(), ID: id}, nil
}

// ComputePage trims a limit+1 fetch down to one page. The extra row,
// when present, only proves another page exists; the returned cursor
// points at the last row actually delivered.
func ComputePage[T any](items []T, limit int, key func(T) (time.Time, string)) ([]T, string, bool) {
	if len(items) <= limit {
		return items, "", false
	}
	items = items[:limit]
	createdAt, id := key(items[len(items)-1])
	return items, Encode(createdAt, id), true
}
