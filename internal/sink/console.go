// Package sink implements the Alert Manager's output sinks (spec §4.4):
// console, rolling text log, rolling JSON log, and an optional
// ClickHouse archival sink.
package sink

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/navispectra/canids/internal/model"
)

// Console writes alerts as human-readable lines via zerolog, the way
// the rest of the detection core logs (spec's ambient logging stack).
type Console struct {
	log zerolog.Logger
}

// NewConsole constructs a Console sink writing to w.
func NewConsole(w io.Writer) *Console {
	return &Console{log: zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}).With().Timestamp().Logger()}
}

func (c *Console) Write(a model.Alert) error {
	c.log.WithLevel(zerologLevel(a.Severity)).
		Str("can_id", fmt.Sprintf("0x%X", a.CANID)).
		Str("alert_type", string(a.Type)).
		Str("severity", a.Severity.String()).
		Msg(a.Details)
	return nil
}

func (c *Console) Name() string { return "console" }

func zerologLevel(s model.Severity) zerolog.Level {
	switch s {
	case model.SeverityLow:
		return zerolog.InfoLevel
	case model.SeverityMedium:
		return zerolog.WarnLevel
	case model.SeverityHigh, model.SeverityCritical:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
