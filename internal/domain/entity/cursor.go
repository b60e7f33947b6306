package entity

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// Cursor points at the oldest message of a delivered page. Pages are ordered
// by (createdAt desc, id desc), so (CreatedAt, ID) is a total position.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

type cursorWire struct {
	T  int64  `json:"t"`
	ID string `json:"id"`
}

// Encode renders the cursor as an opaque URL-safe token.
func (c *Cursor) Encode() string {
	if c == nil {
		return ""
	}
	raw, _ := json.Marshal(cursorWire{T: c.CreatedAt.UnixNano(), ID: c.ID})
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeCursor parses a token produced by Encode. An empty token yields nil.
func DecodeCursor(token string) (*Cursor, error) {
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("malformed cursor: %w", err)
	}
	var w cursorWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("malformed cursor: %w", err)
	}
	if w.ID == "" {
		return nil, fmt.Errorf("malformed cursor: missing id")
	}
	return &Cursor{CreatedAt: time.Unix(0, w.T).UTC(), ID: w.ID}, nil
}

// Before reports whether a message at (createdAt, id) sorts strictly older
// than the cursor position.
func (c *Cursor) Before(createdAt time.Time, id string) bool {
	if createdAt.Equal(c.CreatedAt) {
		return id < c.ID
	}
	return createdAt.Before(c.CreatedAt)
}
