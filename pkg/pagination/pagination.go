// Package pagination provides the opaque cursors used by list operations
// in the Model Context Protocol.
package pagination

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// DefaultLimit is the page size used when none is configured
	DefaultLimit = 50

	// MaxLimit is the largest page size a server will use
	MaxLimit = 200

	// MaxPages bounds how many pages Collect will follow
	MaxPages = 10000

	cursorPrefix = "offset:"
)

var (
	// ErrInvalidLimit is returned when the pagination limit is invalid
	ErrInvalidLimit = errors.New("pagination limit must be greater than 0 and less than or equal to MaxLimit")

	// ErrInvalidCursor is returned when a pagination cursor is invalid
	ErrInvalidCursor = errors.New("invalid pagination cursor")

	// ErrTooManyPages is returned by Collect when a peer keeps returning cursors
	ErrTooManyPages = errors.New("too many pages")
)

// ValidateLimit checks a configured page size
func ValidateLimit(limit int) error {
	if limit <= 0 || limit > MaxLimit {
		return fmt.Errorf("%w: got %d", ErrInvalidLimit, limit)
	}
	return nil
}

// ClampLimit maps a configured page size into [1, MaxLimit], using
// DefaultLimit for zero or negative values
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// EncodeCursor returns the opaque cursor for a list offset
func EncodeCursor(offset int) string {
	return base64.RawURLEncoding.EncodeToString([]byte(cursorPrefix + strconv.Itoa(offset)))
}

// DecodeCursor returns the offset an opaque cursor stands for. The empty
// cursor is offset zero.
func DecodeCursor(cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	digits, ok := strings.CutPrefix(string(raw), cursorPrefix)
	if !ok {
		return 0, ErrInvalidCursor
	}
	offset, err := strconv.Atoi(digits)
	if err != nil || offset < 0 {
		return 0, ErrInvalidCursor
	}
	return offset, nil
}

// Page returns the page of items starting at cursor and the cursor of the
// following page, empty on the last page. A cursor past the end is invalid.
func Page[T any](items []T, cursor string, limit int) ([]T, string, error) {
	offset, err := DecodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}
	if offset > len(items) || (offset == len(items) && offset > 0) {
		return nil, "", fmt.Errorf("%w: offset %d beyond %d items", ErrInvalidCursor, offset, len(items))
	}

	limit = ClampLimit(limit)
	end := offset + limit
	if end >= len(items) {
		return items[offset:], "", nil
	}
	return items[offset:end], EncodeCursor(end), nil
}

// FetchFunc fetches one page given its cursor and returns the next cursor
type FetchFunc[T any] func(ctx context.Context, cursor string) ([]T, string, error)

// Collect follows cursors until the last page and returns every item
func Collect[T any](ctx context.Context, fetch FetchFunc[T]) ([]T, error) {
	var all []T
	cursor := ""
	for pages := 0; ; pages++ {
		if pages >= MaxPages {
			return all, ErrTooManyPages
		}
		if err := ctx.Err(); err != nil {
			return all, err
		}

		items, next, err := fetch(ctx, cursor)
		if err != nil {
			return all, err
		}
		all = append(all, items...)
		if next == "" {
			return all, nil
		}
		if next == cursor {
			return all, fmt.Errorf("%w: cursor did not advance", ErrInvalidCursor)
		}
		cursor = next
	}
}
