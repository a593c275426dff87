package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/crewjam/rfc5424"
)

const sdID = "attrs@32473"

// SyslogHandler renders records as RFC 5424 lines, one per record.
type SyslogHandler struct {
	mu      *sync.Mutex
	w       io.Writer
	leveler slog.Leveler

	appName  string
	hostname string
	pid      string

	attrs  []slog.Attr
	prefix string
}

// NewSyslogHandler returns a handler writing RFC 5424 messages to w.
func NewSyslogHandler(w io.Writer, appName string, leveler slog.Leveler) *SyslogHandler {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}
	return &SyslogHandler{
		mu:       &sync.Mutex{},
		w:        w,
		leveler:  leveler,
		appName:  appName,
		hostname: hostname,
		pid:      strconv.Itoa(os.Getpid()),
	}
}

func (h *SyslogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.leveler.Level()
}

func (h *SyslogHandler) Handle(_ context.Context, r slog.Record) error {
	msg := &rfc5424.Message{
		Priority:  rfc5424.Daemon | severity(r.Level),
		Timestamp: r.Time.UTC(),
		Hostname:  h.hostname,
		AppName:   h.appName,
		ProcessID: h.pid,
		Message:   []byte(r.Message),
	}
	for _, a := range h.attrs {
		addAttr(msg, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		addAttr(msg, h.prefix, a)
		return true
	})

	b, err := msg.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to encode syslog message: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, err := h.w.Write(append(b, '\n')); err != nil {
		return err
	}
	return nil
}

func (h *SyslogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	clone.attrs = append(clone.attrs, h.attrs...)
	for _, a := range attrs {
		if h.prefix != "" {
			a.Key = h.prefix + a.Key
		}
		clone.attrs = append(clone.attrs, a)
	}
	return &clone
}

func (h *SyslogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.prefix = h.prefix + name + "."
	return &clone
}

func addAttr(msg *rfc5424.Message, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			addAttr(msg, prefix+a.Key+".", ga)
		}
		return
	}
	// SD-NAME excludes '=', ' ', ']' and '"'
	key := strings.Map(func(r rune) rune {
		switch r {
		case '=', ' ', ']', '"':
			return '_'
		}
		return r
	}, prefix+a.Key)
	msg.AddDatum(sdID, key, a.Value.String())
}

func severity(l slog.Level) rfc5424.Priority {
	switch {
	case l >= slog.LevelError:
		return rfc5424.Error
	case l >= slog.LevelWarn:
		return rfc5424.Warning
	case l >= slog.LevelInfo:
		return rfc5424.Info
	default:
		return rfc5424.Debug
	}
}
