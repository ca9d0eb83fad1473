package provisioner

import "log/slog"

// slogEventSink is the default EventSink, logging every event at info level.
type slogEventSink struct {
	logger *slog.Logger
}

// NewSlogEventSink returns an EventSink that writes structured log lines.
func NewSlogEventSink(logger *slog.Logger) EventSink {
	return &slogEventSink{logger: logger}
}

func (s *slogEventSink) Event(name string, extra map[string]string) {
	args := make([]any, 0, 2+2*len(extra))
	args = append(args, "event", name)
	for k, v := range extra {
		args = append(args, k, v)
	}
	s.logger.Info("provisioner event", args...)
}
