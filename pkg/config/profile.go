package config

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// InstrumentProfile holds per-instrument overrides from the risk profile.
type InstrumentProfile struct {
	Symbol    string  `yaml:"symbol"`
	MaxSpread float64 `yaml:"max_spread"`
}

// Profile represents the top-level risk profile YAML structure.
type Profile struct {
	Tiers       []Tier              `yaml:"tiers"`
	Instruments []InstrumentProfile `yaml:"instruments"`
}

// LoadProfile reads a risk profile from a YAML file.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Apply overlays the profile onto cfg. Listed instruments replace the
// INSTRUMENTS scope.
func (p *Profile) Apply(cfg *Config) {
	if len(p.Tiers) > 0 {
		cfg.Tiers = append([]Tier(nil), p.Tiers...)
	}
	if len(p.Instruments) == 0 {
		return
	}
	cfg.Instruments = cfg.Instruments[:0]
	if cfg.SpreadOverrides == nil {
		cfg.SpreadOverrides = make(map[string]float64)
	}
	for _, inst := range p.Instruments {
		sym := strings.ToUpper(strings.TrimSpace(inst.Symbol))
		if sym == "" {
			continue
		}
		cfg.Instruments = append(cfg.Instruments, sym)
		if inst.MaxSpread > 0 {
			cfg.SpreadOverrides[sym] = inst.MaxSpread
		}
	}
}
