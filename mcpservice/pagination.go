package mcpservice

import "strconv"

// Page is one page of results with an optional cursor for the next one.
//
// Items is never nil; NewPage normalizes nil input to an empty slice.
type Page[T any] struct {
	Items      []T
	NextCursor *string
}

// PageOption configures a Page constructed via NewPage.
type PageOption[T any] func(*Page[T])

// WithNextCursor marks that more results are available.
func WithNextCursor[T any](cursor string) PageOption[T] {
	return func(p *Page[T]) {
		p.NextCursor = &cursor
	}
}

// NewPage constructs a Page.
func NewPage[T any](items []T, opts ...PageOption[T]) Page[T] {
	if items == nil {
		items = make([]T, 0)
	}
	p := Page[T]{Items: items}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// pageSlice paginates a slice using a decimal offset cursor. A pageSize < 1
// returns everything after the cursor.
func pageSlice[T any](all []T, pageSize int, cursor *string) Page[T] {
	start := 0
	if cursor != nil && *cursor != "" {
		if n, err := strconv.Atoi(*cursor); err == nil && n >= 0 && n <= len(all) {
			start = n
		}
	}
	end := len(all)
	if pageSize > 0 && start+pageSize < end {
		end = start + pageSize
	}
	items := make([]T, end-start)
	copy(items, all[start:end])
	if end < len(all) {
		return NewPage(items, WithNextCursor[T](strconv.Itoa(end)))
	}
	return NewPage(items)
}
