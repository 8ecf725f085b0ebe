package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "10m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Profile is a per-environment overlay on the env-var configuration,
// loaded from profile_<code>.yaml. Zero fields leave the base value alone.
type Profile struct {
	Name string `yaml:"name"`
	Code string `yaml:"code"`

	Gate struct {
		ExecutionTimeout Duration `yaml:"execution_timeout"`
	} `yaml:"gate"`

	Sweeper struct {
		Interval Duration `yaml:"interval"`
	} `yaml:"sweeper"`

	Limits struct {
		RequestsPerSecond int `yaml:"requests_per_second"`
		Burst             int `yaml:"burst"`
	} `yaml:"limits"`

	Archive struct {
		Retention Duration `yaml:"retention"`
	} `yaml:"archive"`
}

// LoadProfile loads profile_<code>.yaml from the profiles directory.
func LoadProfile(profilesDir, code string) (*Profile, error) {
	code = strings.ToLower(code)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", code))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", code, err)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", code, err)
	}
	if p.Code == "" {
		p.Code = code
	}
	return &p, nil
}

// LoadAllProfiles loads every profile_*.yaml in the profiles directory,
// keyed by code.
func LoadAllProfiles(profilesDir string) (map[string]*Profile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "profile_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*Profile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		var p Profile
		if err := yaml.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if p.Code == "" {
			base := filepath.Base(path)
			p.Code = strings.TrimSuffix(strings.TrimPrefix(base, "profile_"), ".yaml")
		}
		profiles[p.Code] = &p
	}
	return profiles, nil
}

// Apply overlays the profile's non-zero fields onto cfg.
func (p *Profile) Apply(cfg *Config) {
	if d := time.Duration(p.Gate.ExecutionTimeout); d > 0 {
		cfg.ExecTimeout = d
	}
	if d := time.Duration(p.Sweeper.Interval); d > 0 {
		cfg.SweepInterval = d
	}
	if p.Limits.RequestsPerSecond > 0 {
		cfg.RateRPS = p.Limits.RequestsPerSecond
	}
	if p.Limits.Burst > 0 {
		cfg.RateBurst = p.Limits.Burst
	}
	if d := time.Duration(p.Archive.Retention); d > 0 {
		cfg.ArchiveRetention = d
	}
}
