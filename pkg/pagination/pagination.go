// Package pagination implements newest-first keyset paging over tables keyed
// by (created_at, id).
package pagination

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	pkgerrors "github.com/angelmondragon/coursepay-backend/pkg/errors"
)

const (
	DefaultLimit = 25
	MaxLimit     = 100
)

// Params is what a client sends: a page size and the opaque cursor from the
// previous page.
type Params struct {
	Limit  int
	Cursor string
}

// Cursor is the last row of the previous page.
type Cursor struct {
	CreatedAt time.Time `json:"t"`
	ID        uuid.UUID `json:"id"`
}

func (c Cursor) String() string {
	raw, _ := json.Marshal(Cursor{CreatedAt: c.CreatedAt.UTC(), ID: c.ID})
	return base64.RawURLEncoding.EncodeToString(raw)
}

// Query is Params after validation.
type Query struct {
	Limit int
	After *Cursor
}

// Query clamps the limit and decodes the cursor. A malformed cursor is a
// VALIDATION_ERROR.
func (p Params) Query() (Query, error) {
	q := Query{Limit: p.Limit}
	switch {
	case q.Limit <= 0:
		q.Limit = DefaultLimit
	case q.Limit > MaxLimit:
		q.Limit = MaxLimit
	}
	if p.Cursor == "" {
		return q, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(p.Cursor)
	if err != nil {
		return q, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil || c.ID == uuid.Nil || c.CreatedAt.IsZero() {
		return q, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	q.After = &c
	return q, nil
}

// Newest is a gorm scope that orders by created_at then id, descending,
// resumes after q.After and fetches one row more than the page so Trim can
// tell whether another page exists. table qualifies the columns when the
// query joins.
func Newest(q Query, table string) func(*gorm.DB) *gorm.DB {
	createdAt, id := "created_at", "id"
	if table != "" {
		createdAt, id = table+".created_at", table+".id"
	}
	return func(db *gorm.DB) *gorm.DB {
		if q.After != nil {
			db = db.Where("("+createdAt+" < ?) OR ("+createdAt+" = ? AND "+id+" < ?)", q.After.CreatedAt, q.After.CreatedAt, q.After.ID)
		}
		return db.Order(createdAt + " DESC").Order(id + " DESC").Limit(q.Limit + 1)
	}
}

// Page is a cursor-paginated result set.
type Page[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// Trim cuts rows fetched through Newest down to the page size and derives
// the next cursor from the last kept row.
func Trim[T any](rows []T, q Query, cursorOf func(T) Cursor) Page[T] {
	page := Page[T]{Items: rows}
	if len(rows) > q.Limit {
		page.Items = rows[:q.Limit]
		page.NextCursor = cursorOf(page.Items[q.Limit-1]).String()
	}
	if page.Items == nil {
		page.Items = []T{}
	}
	return page
}
