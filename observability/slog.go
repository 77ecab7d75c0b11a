package observability

import (
	"context"
	"io"
	"log/slog"
)

// SlogObserver writes events to a slog.Logger. The event type becomes the
// log message and Data keys become top-level attributes.
type SlogObserver struct {
	logger *slog.Logger
}

// NewSlogObserver creates a SlogObserver that emits to logger. A nil logger
// resolves slog.Default at emit time.
func NewSlogObserver(logger *slog.Logger) *SlogObserver {
	return &SlogObserver{logger: logger}
}

// NewTextObserver creates a SlogObserver writing text records to w at or
// above min.
func NewTextObserver(w io.Writer, min Level) *SlogObserver {
	return NewSlogObserver(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: min.SlogLevel(),
	})))
}

func (o *SlogObserver) OnEvent(ctx context.Context, event Event) {
	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	level := event.Level.SlogLevel()
	if !logger.Enabled(ctx, level) {
		return
	}

	attrs := make([]slog.Attr, 0, len(event.Data)+1)
	attrs = append(attrs, slog.String("source", event.Source))
	for k, v := range event.Data {
		attrs = append(attrs, slog.Any(k, v))
	}

	logger.LogAttrs(ctx, level, string(event.Type), attrs...)
}
