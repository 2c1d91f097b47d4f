// Package services holds the camlink repositories: the camera inventory and
// the connection attempt history, both backed by the SQLite store.
package services

import (
	"errors"
	"strings"
)

// Page sizes accepted by List calls.
const (
	DefaultPageSize = 50
	MaxPageSize     = 1000
)

// ListOptions pages and sorts a list query. SortBy names a column from the
// repository's allow-list; anything else falls back to its default column.
type ListOptions struct {
	Limit     int
	Offset    int
	SortBy    string
	SortOrder string // "asc" (default) or "desc"
}

// ListResult is one page plus the number of rows matching the filter.
type ListResult[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

var (
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists reports a camera name that is already taken.
	ErrAlreadyExists = errors.New("already exists")
)

func (o ListOptions) normalized() ListOptions {
	switch {
	case o.Limit <= 0:
		o.Limit = DefaultPageSize
	case o.Limit > MaxPageSize:
		o.Limit = MaxPageSize
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	if strings.EqualFold(strings.TrimSpace(o.SortOrder), "desc") {
		o.SortOrder = "desc"
	} else {
		o.SortOrder = "asc"
	}
	return o
}

// orderBy resolves SortBy against allowed and returns the ORDER BY body.
func (o ListOptions) orderBy(allowed map[string]string, fallback string) string {
	col, ok := allowed[o.SortBy]
	if !ok {
		col = fallback
	}
	return col + " " + strings.ToUpper(o.SortOrder)
}
