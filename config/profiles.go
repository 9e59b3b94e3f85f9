package config

import (
	"fmt"
	"time"

	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/errors"
	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/profile"
	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/pump"
)

// ProfileConfig declares a profile in the config file.
//
//	profiles:
//	  - name: slow-square
//	    interval: 30s
//	    phases:
//	      - name: fill
//	        commands:
//	          - {pump_id: 1, enable: true, rpm: 40}
//	          - {pump_id: 2, enable: false}
type ProfileConfig struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description,omitempty"`
	Interval    time.Duration `yaml:"interval"`
	Phases      []PhaseConfig `yaml:"phases"`
}

// PhaseConfig is one step of a ProfileConfig.
type PhaseConfig struct {
	Name     string          `yaml:"name,omitempty"`
	Commands []CommandConfig `yaml:"commands"`
}

// CommandConfig mirrors pump.Command with YAML keys.
type CommandConfig struct {
	PumpID    int   `yaml:"pump_id"`
	Enable    *bool `yaml:"enable,omitempty"`
	Direction *bool `yaml:"direction,omitempty"`
	RPM       *int  `yaml:"rpm,omitempty"`
	Microstep *int  `yaml:"microstep,omitempty"`
}

// PumpDevices returns the configured device set.
func (c *Config) PumpDevices() pump.Devices {
	return pump.NewDevices(c.Devices...)
}

// BuildProfiles converts the configured profiles and validates them against
// the device set. Names must be unique and must not shadow the built in one.
func (c *Config) BuildProfiles() ([]profile.Profile, error) {
	devices := c.PumpDevices()
	seen := map[string]bool{profile.AlternatingSquare: true}

	out := make([]profile.Profile, 0, len(c.Profiles))
	for i, pc := range c.Profiles {
		if seen[pc.Name] {
			return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "BuildProfiles",
				fmt.Sprintf("profile %d: duplicate name %q", i, pc.Name))
		}
		seen[pc.Name] = true

		p := profile.Profile{
			Name:        pc.Name,
			Description: pc.Description,
			Interval:    pc.Interval,
			Phases:      make([]profile.Phase, 0, len(pc.Phases)),
		}
		for _, ph := range pc.Phases {
			phase := profile.Phase{Name: ph.Name}
			for _, cc := range ph.Commands {
				phase.Commands = append(phase.Commands, pump.Command{
					PumpID:    cc.PumpID,
					Enable:    cc.Enable,
					Direction: cc.Direction,
					RPM:       cc.RPM,
					Microstep: cc.Microstep,
				})
			}
			p.Phases = append(p.Phases, phase)
		}

		if err := p.Validate(devices); err != nil {
			return nil, errors.WrapInvalid(err, "Config", "BuildProfiles", fmt.Sprintf("profile %q", pc.Name))
		}
		out = append(out, p)
	}
	return out, nil
}
