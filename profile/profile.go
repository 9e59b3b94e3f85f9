package profile

import (
	"fmt"
	"time"

	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/errors"
	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/pump"
)

// AlternatingSquare is the name of the built in profile.
const AlternatingSquare = "alternating-square"

// Phase is one step of a profile: the commands sent when it begins.
type Phase struct {
	Name     string         `json:"name"`
	Commands []pump.Command `json:"-"`
}

// Profile is a cyclic schedule of pump commands. Phases are applied in
// order, one per interval, wrapping around until stopped.
type Profile struct {
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Interval    time.Duration `json:"-"`
	Phases      []Phase       `json:"phases"`
}

// Validate checks the profile against the known devices.
func (p Profile) Validate(devices pump.Devices) error {
	if p.Name == "" {
		return errors.WrapInvalid(errors.ErrValidation, "Profile", "Validate", "name is required")
	}
	if p.Interval <= 0 {
		return errors.WrapInvalid(errors.ErrValidation, "Profile", "Validate",
			fmt.Sprintf("profile %s: interval must be positive", p.Name))
	}
	if len(p.Phases) == 0 {
		return errors.WrapInvalid(errors.ErrValidation, "Profile", "Validate",
			fmt.Sprintf("profile %s: at least one phase is required", p.Name))
	}
	for i, phase := range p.Phases {
		for _, cmd := range phase.Commands {
			if err := cmd.Validate(devices); err != nil {
				return errors.WrapInvalid(err, "Profile", "Validate",
					fmt.Sprintf("profile %s phase %d", p.Name, i))
			}
		}
	}
	return nil
}

// AlternatingSquareProfile drives pump 1 forward at 100 rpm while pump 2 is
// off, then swaps them, every five seconds.
func AlternatingSquareProfile() Profile {
	return Profile{
		Name:        AlternatingSquare,
		Description: "Alternate pumps 1 and 2 at 100 rpm every 5s",
		Interval:    5 * time.Second,
		Phases: []Phase{
			{
				Name: "pump1-on",
				Commands: []pump.Command{
					{PumpID: 1, Enable: pump.Bool(true), Direction: pump.Bool(true), RPM: pump.Int(100)},
					{PumpID: 2, Enable: pump.Bool(false)},
				},
			},
			{
				Name: "pump2-on",
				Commands: []pump.Command{
					{PumpID: 1, Enable: pump.Bool(false)},
					{PumpID: 2, Enable: pump.Bool(true), Direction: pump.Bool(true), RPM: pump.Int(100)},
				},
			},
		},
	}
}

// Info is the JSON view of a profile.
type Info struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Interval    string   `json:"interval"`
	Phases      []string `json:"phases"`
}

// Info returns the JSON view of p.
func (p Profile) Info() Info {
	info := Info{
		Name:        p.Name,
		Description: p.Description,
		Interval:    p.Interval.String(),
		Phases:      make([]string, 0, len(p.Phases)),
	}
	for i, phase := range p.Phases {
		name := phase.Name
		if name == "" {
			name = fmt.Sprintf("phase-%d", i)
		}
		info.Phases = append(info.Phases, name)
	}
	return info
}
