package stdio

import (
	"io"
	"log/slog"
)

// Option customizes a Handler.
type Option func(*Handler)

// WithIO sets the reader and writer. A nil argument keeps the default.
func WithIO(r io.Reader, w io.Writer) Option {
	return func(h *Handler) {
		if r != nil {
			h.r = r
		}
		if w != nil {
			h.w = w
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.l = l
		}
	}
}

// WithUserProvider overrides how the local peer is identified in logs.
func WithUserProvider(up UserProvider) Option {
	return func(h *Handler) {
		if up != nil {
			h.userProvider = up
		}
	}
}
