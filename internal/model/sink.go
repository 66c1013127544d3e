package model

// Sink is an Alert Manager output: console, rolling text/JSON log, or an
// archival store. A Sink failure is counted, never propagated (spec §4.4).
type Sink interface {
	Write(Alert) error
	Name() string
}
