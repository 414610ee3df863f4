package notify

import (
	"context"
	"log/slog"

	"github.com/roach88/anchor/internal/ir"
)

// LogSink writes each notification as a structured log line.
type LogSink struct {
	Logger *slog.Logger
}

// NewLogSink creates a sink that logs at Info. A nil logger uses slog.Default().
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{Logger: logger}
}

func (s *LogSink) Publish(ctx context.Context, n ir.Notification) error {
	attrs := []slog.Attr{
		slog.String("id", n.ID),
		slog.String("kind", string(n.Kind())),
		slog.Uint64("incident", n.IncidentID),
		slog.Time("timestamp", n.Timestamp),
	}
	if link, ok := n.Link(); ok {
		attrs = append(attrs,
			slog.String("event_hash", link.EventHash.String()),
			slog.String("head", link.Head.String()),
			slog.Uint64("count", uint64(link.Count)),
		)
	}
	if p, ok := n.Payload.(ir.RecordApproved); ok {
		attrs = append(attrs, slog.String("approver", p.Approver.String()))
	}
	s.Logger.LogAttrs(ctx, slog.LevelInfo, "notification", attrs...)
	return nil
}
