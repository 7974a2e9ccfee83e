// Package logging builds the pipeline's structured logger and applies
// the configured redaction patterns (spec.md ambient logging concerns:
// API keys and bearer tokens must never reach structured log output) to
// every record before it reaches the underlying handler.
package logging

import (
	"context"
	"log/slog"
	"os"
	"regexp"

	"github.com/trialqeb/interpretpipe/pkg/config"
)

// compiledPattern is a MaskingPattern with its regex pre-compiled.
type compiledPattern struct {
	re          *regexp.Regexp
	replacement string
}

// RedactingHandler wraps an slog.Handler, rewriting the message and every
// top-level string-valued attribute (including those bound through
// WithAttrs) through the configured redaction patterns before delegating
// to next. String values nested inside attribute groups are not rewritten.
type RedactingHandler struct {
	next     slog.Handler
	patterns []compiledPattern
}

// NewRedactingHandler compiles patterns and wraps next. Patterns that
// fail to compile are skipped rather than aborting logger construction,
// since a bad redaction pattern must never take down the pipeline it's
// supposed to be protecting.
func NewRedactingHandler(next slog.Handler, patterns []config.MaskingPattern) *RedactingHandler {
	compiled := make([]compiledPattern, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			continue
		}
		compiled = append(compiled, compiledPattern{re: re, replacement: p.Replacement})
	}
	return &RedactingHandler{next: next, patterns: compiled}
}

func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *RedactingHandler) Handle(ctx context.Context, record slog.Record) error {
	record.Message = h.redact(record.Message)

	attrs := make([]slog.Attr, 0, record.NumAttrs())
	record.Attrs(func(a slog.Attr) bool {
		if a.Value.Kind() == slog.KindString {
			a.Value = slog.StringValue(h.redact(a.Value.String()))
		}
		attrs = append(attrs, a)
		return true
	})

	clone := slog.NewRecord(record.Time, record.Level, record.Message, record.PC)
	clone.AddAttrs(attrs...)
	return h.next.Handle(ctx, clone)
}

func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		if a.Value.Kind() == slog.KindString {
			a.Value = slog.StringValue(h.redact(a.Value.String()))
		}
		redacted[i] = a
	}
	return &RedactingHandler{next: h.next.WithAttrs(redacted), patterns: h.patterns}
}

func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{next: h.next.WithGroup(name), patterns: h.patterns}
}

func (h *RedactingHandler) redact(s string) string {
	for _, p := range h.patterns {
		s = p.re.ReplaceAllString(s, p.replacement)
	}
	return s
}

// New builds the pipeline's root logger: JSON structured output through
// a RedactingHandler seeded from cfg.RedactionPatterns.
func New(cfg *config.Config) *slog.Logger {
	base := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	return slog.New(NewRedactingHandler(base, cfg.RedactionPatterns))
}
