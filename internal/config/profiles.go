package config

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/obiente/translate/govoice/internal/command"
)

var ErrUnknownProfile = errors.New("unknown profile")

// Profile overrides model, language and prompt and attaches hooks.
type Profile struct {
	Model    string        `yaml:"model"`
	Language string        `yaml:"language"`
	Prompt   string        `yaml:"prompt"`
	Hooks    command.Hooks `yaml:"hooks"`
}

type profilesFile struct {
	Profiles map[string]Profile `yaml:"profiles"`
}

// LoadProfiles parses path. A missing file yields no profiles.
func LoadProfiles(path string) (map[string]Profile, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]Profile{}, nil
	}
	if err != nil {
		return nil, err
	}
	var f profilesFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for name, p := range f.Profiles {
		if err := p.Hooks.Validate(); err != nil {
			return nil, fmt.Errorf("profile %s: %w", name, err)
		}
	}
	if f.Profiles == nil {
		f.Profiles = map[string]Profile{}
	}
	return f.Profiles, nil
}

// SelectProfile loads path and returns the named profile; an empty name
// selects nothing and never reads the file.
func SelectProfile(path, name string) (Profile, error) {
	if name == "" {
		return Profile{}, nil
	}
	all, err := LoadProfiles(path)
	if err != nil {
		return Profile{}, err
	}
	p, ok := all[name]
	if !ok {
		return Profile{}, fmt.Errorf("%w %q (have %v)", ErrUnknownProfile, name, slices.Sorted(maps.Keys(all)))
	}
	return p, nil
}

// Apply copies the profile's non-empty overrides onto c.
func (p Profile) Apply(c *Config) {
	if p.Model != "" {
		c.Model = p.Model
	}
	if p.Language != "" {
		c.Language = p.Language
	}
	if p.Prompt != "" {
		c.Prompt = p.Prompt
	}
}
