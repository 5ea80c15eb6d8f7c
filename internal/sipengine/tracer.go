package sipengine

import (
	"bytes"
	"log/slog"
	"strings"
	"sync/atomic"
)

// LogVerbosity controls how much of each SIP message is logged.
type LogVerbosity int32

const (
	// LogOff disables SIP message tracing.
	LogOff LogVerbosity = iota
	// LogHeaders logs only the start line and headers (no SDP body).
	LogHeaders
	// LogFull logs the complete raw SIP message including the SDP body.
	LogFull
)

// ParseLogVerbosity converts a string setting to a LogVerbosity value.
func ParseLogVerbosity(s string) LogVerbosity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "headers":
		return LogHeaders
	case "full":
		return LogFull
	default:
		return LogOff
	}
}

// String returns the string representation of the verbosity level.
func (v LogVerbosity) String() string {
	switch v {
	case LogHeaders:
		return "headers"
	case LogFull:
		return "full"
	default:
		return "off"
	}
}

// MessageTracer logs raw SIP messages at a configurable verbosity.
// Transport calls LogSend/LogReceive directly around each Render/parseHead
// rather than being invoked through a library-level hook.
type MessageTracer struct {
	logger    *slog.Logger
	verbosity atomic.Int32
}

// NewMessageTracer creates a new SIP message tracer.
func NewMessageTracer(logger *slog.Logger, verbosity LogVerbosity) *MessageTracer {
	t := &MessageTracer{
		logger: logger.With("subsystem", "sip-tracer"),
	}
	t.verbosity.Store(int32(verbosity))
	return t
}

// SetVerbosity updates the tracing verbosity level at runtime.
func (t *MessageTracer) SetVerbosity(v LogVerbosity) {
	t.verbosity.Store(int32(v))
	t.logger.Info("sip message tracing verbosity changed", "verbosity", v.String())
}

// Verbosity returns the current tracing verbosity level.
func (t *MessageTracer) Verbosity() LogVerbosity {
	return LogVerbosity(t.verbosity.Load())
}

// LogSend logs an outbound raw SIP message.
func (t *MessageTracer) LogSend(raddr string, raw []byte) {
	v := t.Verbosity()
	if v == LogOff {
		return
	}
	t.logger.Debug("sip send", "remote_addr", raddr, "message", t.formatMessage(raw, v))
}

// LogReceive logs an inbound raw SIP message.
func (t *MessageTracer) LogReceive(raddr string, raw []byte) {
	v := t.Verbosity()
	if v == LogOff {
		return
	}
	t.logger.Debug("sip recv", "remote_addr", raddr, "message", t.formatMessage(raw, v))
}

// formatMessage applies the verbosity filter to the raw SIP message bytes.
func (t *MessageTracer) formatMessage(sipmsg []byte, v LogVerbosity) string {
	if v == LogFull {
		return string(sipmsg)
	}
	if idx := bytes.Index(sipmsg, []byte("\r\n\r\n")); idx >= 0 {
		return string(sipmsg[:idx])
	}
	return string(sipmsg)
}
