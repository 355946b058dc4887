package config

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	// LogLevelChanged is applied live through the server's level var.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// SegmenterChanged means streams opened from now on use the new
	// segmenter settings. Open streams keep theirs.
	SegmenterChanged bool

	// RecorderChanged means new extractors record with the new codec or
	// channel count.
	RecorderChanged bool

	// RestartRequired is set when a field that is only read at startup
	// changed: the listen address, TLS, the audio format, the segment store
	// capacity, or the telemetry service name.
	RestartRequired bool
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.SegmenterChanged || d.RecorderChanged || d.RestartRequired
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Segmenter != new.Segmenter {
		d.SegmenterChanged = true
	}
	if old.Recorder != new.Recorder {
		d.RecorderChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr ||
		!sameTLS(old.Server.TLS, new.Server.TLS) ||
		old.Audio != new.Audio ||
		old.Segments != new.Segments ||
		old.Telemetry != new.Telemetry {
		d.RestartRequired = true
	}
	return d
}

func sameTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
