package types

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration fields are written as Go duration strings ("30s", "10m") in YAML.
// yaml.v3 has no native decoding for time.Duration, so the structs that carry
// durations unmarshal through a raw shadow type and parse the strings here.

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %q", field, s)
	}
	return d, nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (p *PoolDefaults) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		MinIdle        int    `yaml:"minIdle"`
		MaxSize        int    `yaml:"maxSize"`
		IdleTimeout    string `yaml:"idleTimeout"`
		AcquireTimeout string `yaml:"acquireTimeout"`
		FileIdleTTL    string `yaml:"fileIdleTtl"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	p.MinIdle = raw.MinIdle
	p.MaxSize = raw.MaxSize

	var err error
	if p.IdleTimeout, err = parseDuration("pool.idleTimeout", raw.IdleTimeout); err != nil {
		return err
	}
	if p.AcquireTimeout, err = parseDuration("pool.acquireTimeout", raw.AcquireTimeout); err != nil {
		return err
	}
	if p.FileIdleTTL, err = parseDuration("pool.fileIdleTtl", raw.FileIdleTTL); err != nil {
		return err
	}
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (h *HealthCheck) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Test        []string `yaml:"test"`
		Interval    string   `yaml:"interval"`
		Timeout     string   `yaml:"timeout"`
		Retries     int      `yaml:"retries"`
		StartPeriod string   `yaml:"startPeriod"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	h.Test = raw.Test
	h.Retries = raw.Retries

	var err error
	if h.Interval, err = parseDuration("healthCheck.interval", raw.Interval); err != nil {
		return err
	}
	if h.Timeout, err = parseDuration("healthCheck.timeout", raw.Timeout); err != nil {
		return err
	}
	if h.StartPeriod, err = parseDuration("healthCheck.startPeriod", raw.StartPeriod); err != nil {
		return err
	}
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (p *SyncPolicy) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		OnClaim   bool   `yaml:"onClaim"`
		OnRelease bool   `yaml:"onRelease"`
		Manual    bool   `yaml:"manual"`
		Interval  string `yaml:"interval"`
		Pattern   string `yaml:"pattern"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	p.OnClaim = raw.OnClaim
	p.OnRelease = raw.OnRelease
	p.Manual = raw.Manual
	p.Pattern = raw.Pattern

	var err error
	if p.Interval, err = parseDuration("sync.policy.interval", raw.Interval); err != nil {
		return err
	}
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (c *HookCommand) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Command []string        `yaml:"command"`
		Timeout string          `yaml:"timeout"`
		OnError HookErrorPolicy `yaml:"onError"`
		Retries int             `yaml:"retries"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	c.Command = raw.Command
	c.OnError = raw.OnError
	c.Retries = raw.Retries

	var err error
	if c.Timeout, err = parseDuration("hook.timeout", raw.Timeout); err != nil {
		return err
	}
	return nil
}
