package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs. Only changes that
// can be applied to a running server are broken out: the log level takes
// effect immediately, session and recall defaults apply to sessions created
// after the reload. Everything else sets RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// SessionChanged reports that the session defaults differ. Live sessions
	// keep the config they started with.
	SessionChanged bool

	// RecallChanged reports that duplicate-detection settings differ.
	RecallChanged bool

	// RestartRequired reports a change to the server, provider, archive, or
	// template settings, none of which can be swapped under a live gateway.
	RestartRequired bool
}

// Empty reports whether d records no changes at all.
func (d ConfigDiff) Empty() bool {
	return d == ConfigDiff{}
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !sessionEqual(old.Session, new.Session) {
		d.SessionChanged = true
	}
	if old.Recall != new.Recall {
		d.RecallChanged = true
	}

	// Log level is handled above; blank it out before comparing the rest of
	// the server block.
	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	if !reflect.DeepEqual(oldServer, newServer) ||
		!reflect.DeepEqual(old.Providers, new.Providers) ||
		old.Archive != new.Archive ||
		old.TemplatesDir != new.TemplatesDir {
		d.RestartRequired = true
	}

	return d
}

// sessionEqual compares session defaults field by field; the agent roster is
// order-sensitive because seating order drives evaluation cadence.
func sessionEqual(a, b SessionConfig) bool {
	return a.Intensity == b.Intensity &&
		a.DurationSecs == b.DurationSecs &&
		a.WarmupWords == b.WarmupWords &&
		a.LLMConcurrency == b.LLMConcurrency &&
		a.InterimTranscripts == b.InterimTranscripts &&
		slices.Equal(a.Agents, b.Agents)
}
