package logger

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Redacted replaces credential values wherever headers are logged.
const Redacted = "[REDACTED]"

// redactMinLen keeps blank or placeholder keys from wiping ordinary
// words out of every log line.
const redactMinLen = 8

// Redactor scrubs configured secret values out of log text.
type Redactor struct {
	replacer *strings.Replacer
}

// NewRedactor builds a Redactor over the given secret values. Empty and
// too-short values are ignored.
func NewRedactor(secrets ...string) *Redactor {
	pairs := make([]string, 0, len(secrets)*2)
	for _, s := range secrets {
		if len(s) >= redactMinLen {
			pairs = append(pairs, s, Redacted)
		}
	}
	r := &Redactor{}
	if len(pairs) > 0 {
		r.replacer = strings.NewReplacer(pairs...)
	}
	return r
}

// Redact replaces every occurrence of a configured secret in s.
func (r *Redactor) Redact(s string) string {
	if r == nil || r.replacer == nil {
		return s
	}
	return r.replacer.Replace(s)
}

func (r *Redactor) redactFields(fields []zapcore.Field) []zapcore.Field {
	out := fields
	copied := false
	for i, f := range fields {
		var clean zapcore.Field
		switch f.Type {
		case zapcore.StringType:
			s := r.Redact(f.String)
			if s == f.String {
				continue
			}
			clean = f
			clean.String = s
		case zapcore.ErrorType:
			err, ok := f.Interface.(error)
			if !ok {
				continue
			}
			s := r.Redact(err.Error())
			if s == err.Error() {
				continue
			}
			clean = zap.String(f.Key, s)
		default:
			continue
		}
		if !copied {
			out = make([]zapcore.Field, len(fields))
			copy(out, fields)
			copied = true
		}
		out[i] = clean
	}
	return out
}

// WithRedaction wraps l so the Redactor scrubs every message, string
// field and error field before it reaches a sink.
func WithRedaction(l *zap.Logger, r *Redactor) *zap.Logger {
	if r == nil || r.replacer == nil {
		return l
	}
	return l.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return &redactCore{Core: core, r: r}
	}))
}

type redactCore struct {
	zapcore.Core
	r *Redactor
}

func (c *redactCore) With(fields []zapcore.Field) zapcore.Core {
	return &redactCore{Core: c.Core.With(c.r.redactFields(fields)), r: c.r}
}

func (c *redactCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *redactCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	ent.Message = c.r.Redact(ent.Message)
	return c.Core.Write(ent, c.r.redactFields(fields))
}

// sensitiveHeaders are the request headers that must never reach a log
// sink with their value intact.
var sensitiveHeaders = map[string]struct{}{
	"x-api-key":           {},
	"x-anthropic-api-key": {},
	"authorization":       {},
	"cookie":              {},
}

// IsSensitiveHeader reports whether a header's value must be redacted.
func IsSensitiveHeader(name string) bool {
	_, ok := sensitiveHeaders[strings.ToLower(name)]
	return ok
}

// RedactHeaders copies h into a loggable map with lowercase keys,
// multi-valued headers joined, and credential values replaced.
func RedactHeaders(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for name, values := range h {
		key := strings.ToLower(name)
		if IsSensitiveHeader(key) {
			out[key] = Redacted
			continue
		}
		out[key] = strings.Join(values, ", ")
	}
	return out
}
