package snoop

import (
	"context"
	"encoding/hex"
	"log/slog"
)

// SlogAdapter mirrors capture events to an slog.Logger. Useful during
// development to watch boundary traffic on the console.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a SlogAdapter writing to the given logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Record writes the event to the slog logger at Debug level.
func (a *SlogAdapter) Record(event Event) {
	attrs := []slog.Attr{
		slog.String("session", event.SessionID),
		slog.String("direction", event.Direction.String()),
		slog.String("profile", event.Profile),
		slog.String("op", event.Op),
	}
	if len(event.Addr) > 0 {
		attrs = append(attrs, slog.String("addr", hex.EncodeToString(event.Addr)))
	}
	if event.Status != nil {
		attrs = append(attrs, slog.Uint64("status", uint64(*event.Status)))
	}
	if event.Size > 0 {
		attrs = append(attrs, slog.Int("size", event.Size))
	}
	if event.Detail != "" {
		attrs = append(attrs, slog.String("detail", event.Detail))
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "boundary", attrs...)
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
