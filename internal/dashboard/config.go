package dashboard

import "time"

// Config carries the target route and the timing constants of the polling
// loop. The timings are empirically tuned against the remote app and have no
// derivation beyond observation, so they live in configuration instead of
// being hard-coded into the state machine.
type Config struct {
	// TargetURL is the fixed usage-dashboard route. The loop force-navigates
	// back to it whenever the session's location diverges.
	TargetURL string `yaml:"target_url" json:"target_url"`

	PollIntervalMs int `yaml:"poll_interval_ms" json:"poll_interval_ms"`
	// HeaderSettleMs is how long the history section header must have been in
	// the viewport before its content is trusted to have hydrated.
	HeaderSettleMs int `yaml:"header_settle_ms" json:"header_settle_ms"`
	// SignalGraceMs is the wait after the first dashboard signal when the
	// history section header never appears at all.
	SignalGraceMs int `yaml:"signal_grace_ms" json:"signal_grace_ms"`
	// ChartGraceMs caps the wait for chart aggregates once the primary metric
	// is already on screen.
	ChartGraceMs int `yaml:"chart_grace_ms" json:"chart_grace_ms"`
	// IdleTimeoutMs is the pool's resident-session idle eviction threshold.
	IdleTimeoutMs int `yaml:"idle_timeout_ms" json:"idle_timeout_ms"`

	// BreakdownDays caps the daily breakdown to the N most recent days.
	BreakdownDays int `yaml:"breakdown_days" json:"breakdown_days"`
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		TargetURL:      "https://antigravity.google/usage",
		PollIntervalMs: 500,
		HeaderSettleMs: 2500,
		SignalGraceMs:  6500,
		ChartGraceMs:   6000,
		IdleTimeoutMs:  600000,
		BreakdownDays:  30,
	}
}

// PollInterval returns the delay between poll ticks.
func (c Config) PollInterval() time.Duration {
	if c.PollIntervalMs <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// HeaderSettle returns the section-header settle window.
func (c Config) HeaderSettle() time.Duration {
	if c.HeaderSettleMs <= 0 {
		return 2500 * time.Millisecond
	}
	return time.Duration(c.HeaderSettleMs) * time.Millisecond
}

// SignalGrace returns the headerless dashboard-signal grace window.
func (c Config) SignalGrace() time.Duration {
	if c.SignalGraceMs <= 0 {
		return 6500 * time.Millisecond
	}
	return time.Duration(c.SignalGraceMs) * time.Millisecond
}

// ChartGrace returns the chart hydration grace window.
func (c Config) ChartGrace() time.Duration {
	if c.ChartGraceMs <= 0 {
		return 6 * time.Second
	}
	return time.Duration(c.ChartGraceMs) * time.Millisecond
}

// IdleTimeout returns the resident-session idle eviction threshold.
func (c Config) IdleTimeout() time.Duration {
	if c.IdleTimeoutMs <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.IdleTimeoutMs) * time.Millisecond
}

// MaxBreakdownDays returns the daily breakdown cap.
func (c Config) MaxBreakdownDays() int {
	if c.BreakdownDays <= 0 {
		return 30
	}
	return c.BreakdownDays
}
