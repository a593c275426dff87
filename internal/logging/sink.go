package logging

import "log/slog"

// Sink receives user-visible messages at three severities.
type Sink interface {
	LogInfo(message string)
	LogWarning(message string)
	LogError(message string)
}

// SlogSink forwards Sink messages to a slog.Logger.
type SlogSink struct {
	log *slog.Logger
}

var _ Sink = (*SlogSink)(nil)

// NewSlogSink returns a Sink tagged as the activity feed.
func NewSlogSink(log *slog.Logger) *SlogSink {
	if log == nil {
		log = slog.Default()
	}
	return &SlogSink{log: log.With("component", "activity")}
}

func (s *SlogSink) LogInfo(message string)    { s.log.Info(message) }
func (s *SlogSink) LogWarning(message string) { s.log.Warn(message) }
func (s *SlogSink) LogError(message string)   { s.log.Error(message) }
