package channel

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Profile is the on-disk channel configuration.
//
//	channels:
//	  - name: DOME
//	    controller: maestro-0
//	    index: 0
//	    min: 0
//	    max: 180
//	    home: 90
type Profile struct {
	Channels []Descriptor `yaml:"channels"`
}

// LoadProfile reads and validates a YAML channel profile.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading channel profile: %w", err)
	}
	return ParseProfile(data)
}

// ParseProfile decodes and validates a YAML channel profile.
func ParseProfile(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: parsing: %w", ErrInvalidProfile, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks every descriptor and reports all problems at once.
func (p *Profile) Validate() error {
	var errs []string

	if len(p.Channels) == 0 {
		errs = append(errs, "at least one channel is required")
	}

	names := make(map[string]bool, len(p.Channels))
	addrs := make(map[Address]string, len(p.Channels))

	for i, d := range p.Channels {
		label := d.Name
		if label == "" {
			label = fmt.Sprintf("channels[%d]", i)
			errs = append(errs, label+": name is required")
		} else if names[d.Name] {
			errs = append(errs, label+": duplicate name")
		}
		names[d.Name] = true

		if d.Controller == "" {
			errs = append(errs, label+": controller is required")
		}
		if d.Index < 0 {
			errs = append(errs, label+": index must not be negative")
		}
		if other, dup := addrs[d.Address()]; dup {
			errs = append(errs, fmt.Sprintf("%s: address %s/%d already used by %s", label, d.Controller, d.Index, other))
		}
		addrs[d.Address()] = label

		if d.Min >= d.Max {
			errs = append(errs, fmt.Sprintf("%s: min (%g) must be below max (%g)", label, d.Min, d.Max))
			continue
		}
		if !d.Contains(d.Home) {
			errs = append(errs, fmt.Sprintf("%s: home %g outside [%g, %g]", label, d.Home, d.Min, d.Max))
		}
		if d.Safe != nil && !d.Contains(*d.Safe) {
			errs = append(errs, fmt.Sprintf("%s: safe %g outside [%g, %g]", label, *d.Safe, d.Min, d.Max))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidProfile, strings.Join(errs, "; "))
	}
	return nil
}
