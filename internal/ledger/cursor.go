package ledger

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
)

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// Cursor is the resume point of a descending-by-id scan: the id of the last
// transaction the client has already seen.
type Cursor struct {
	LastID int64 `json:"last_id"`
}

// EncodeCursor produces an opaque, URL-safe token for lastID.
func EncodeCursor(lastID int64) string {
	data, _ := json.Marshal(Cursor{LastID: lastID})
	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodeCursor reverses EncodeCursor. Padded standard base64 is accepted as
// well. Anything that does not decode to exactly {"last_id": n} with n > 0
// is an InvalidCursor error.
func DecodeCursor(token string) (Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		raw, err = base64.StdEncoding.DecodeString(token)
		if err != nil {
			return Cursor{}, ErrInvalidCursor
		}
	}

	var payload struct {
		LastID *int64 `json:"last_id"`
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		return Cursor{}, ErrInvalidCursor
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Cursor{}, ErrInvalidCursor
	}
	if payload.LastID == nil || *payload.LastID <= 0 {
		return Cursor{}, ErrInvalidCursor
	}

	return Cursor{LastID: *payload.LastID}, nil
}

// ClampLimit applies the page size rules: 0 means default, otherwise the
// value is forced into [1, MaxPageLimit].
func ClampLimit(limit int) int {
	switch {
	case limit == 0:
		return DefaultPageLimit
	case limit < 1:
		return 1
	case limit > MaxPageLimit:
		return MaxPageLimit
	}
	return limit
}
