// Package pump defines the pump command model, the device wire codec and the
// bus topic scheme shared by the bridge and the API.
package pump

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/errors"
)

// Field limits accepted by the pump firmware.
const (
	MinRPM       = 0
	MaxRPM       = 200
	MinMicrostep = 0
	MaxMicrostep = 4
)

var microstepLabels = [...]string{"Full", "Half", "1/4", "1/8", "1/16"}

// MicrostepLabel returns the human readable resolution for a microstep selector.
func MicrostepLabel(m int) string {
	if m < MinMicrostep || m > MaxMicrostep {
		return "unknown"
	}
	return microstepLabels[m]
}

// Command is a partial set of directives for one pump. A nil field means
// "leave unchanged" on the device.
type Command struct {
	PumpID    int   `json:"pump_id"`
	Enable    *bool `json:"enable,omitempty"`
	Direction *bool `json:"direction,omitempty"`
	RPM       *int  `json:"rpm,omitempty"`
	Microstep *int  `json:"microstep,omitempty"`
}

// fields is the command body as carried on the bus and over HTTP.
type fields struct {
	Enable    *bool `json:"enable,omitempty"`
	Direction *bool `json:"direction,omitempty"`
	RPM       *int  `json:"rpm,omitempty"`
	Microstep *int  `json:"microstep,omitempty"`
}

// ParseCommand decodes a command body for pump id. An empty body is an empty
// command. Unknown keys are ignored and null values count as absent.
func ParseCommand(id int, payload []byte) (Command, error) {
	cmd := Command{PumpID: id}
	if len(bytes.TrimSpace(payload)) == 0 {
		return cmd, nil
	}

	var body fields
	if err := json.Unmarshal(payload, &body); err != nil {
		return Command{}, errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrValidation, err), "Command", "Parse", "decode body")
	}
	cmd.Enable = body.Enable
	cmd.Direction = body.Direction
	cmd.RPM = body.RPM
	cmd.Microstep = body.Microstep
	return cmd, nil
}

// Validate checks the pump id against devices and every present field
// against its bounds.
func (c Command) Validate(devices Devices) error {
	if !devices.Contains(c.PumpID) {
		return errors.WrapInvalid(
			fmt.Errorf("%w: pump %d", errors.ErrUnknownDevice, c.PumpID), "Command", "Validate", "device lookup")
	}
	if c.RPM != nil && (*c.RPM < MinRPM || *c.RPM > MaxRPM) {
		return errors.WrapInvalid(
			fmt.Errorf("%w: rpm %d outside [%d, %d]", errors.ErrValidation, *c.RPM, MinRPM, MaxRPM),
			"Command", "Validate", "range check")
	}
	if c.Microstep != nil && (*c.Microstep < MinMicrostep || *c.Microstep > MaxMicrostep) {
		return errors.WrapInvalid(
			fmt.Errorf("%w: microstep %d outside [%d, %d]", errors.ErrValidation, *c.Microstep, MinMicrostep, MaxMicrostep),
			"Command", "Validate", "range check")
	}
	return nil
}

// Payload encodes the present fields without the pump id, which travels in
// the topic or URL path.
func (c Command) Payload() ([]byte, error) {
	return json.Marshal(fields{
		Enable:    c.Enable,
		Direction: c.Direction,
		RPM:       c.RPM,
		Microstep: c.Microstep,
	})
}

// IsEmpty reports whether the command carries no directives.
func (c Command) IsEmpty() bool {
	return c.Enable == nil && c.Direction == nil && c.RPM == nil && c.Microstep == nil
}

// String renders the command for logs.
func (c Command) String() string {
	var parts []string
	if c.Enable != nil {
		parts = append(parts, "enable="+strconv.FormatBool(*c.Enable))
	}
	if c.Direction != nil {
		parts = append(parts, "direction="+strconv.FormatBool(*c.Direction))
	}
	if c.RPM != nil {
		parts = append(parts, "rpm="+strconv.Itoa(*c.RPM))
	}
	if c.Microstep != nil {
		parts = append(parts, "microstep="+strconv.Itoa(*c.Microstep))
	}
	return fmt.Sprintf("pump %d {%s}", c.PumpID, strings.Join(parts, " "))
}

// Bool and Int return pointers for building commands in code.
func Bool(v bool) *bool { return &v }
func Int(v int) *int    { return &v }

// Devices is the fixed set of known pump ids.
type Devices struct {
	set map[int]struct{}
}

// NewDevices builds a device set from ids.
func NewDevices(ids ...int) Devices {
	d := Devices{set: make(map[int]struct{}, len(ids))}
	for _, id := range ids {
		d.set[id] = struct{}{}
	}
	return d
}

// DefaultDevices is the two-pump rig.
func DefaultDevices() Devices {
	return NewDevices(1, 2)
}

// Contains reports whether id is a known pump.
func (d Devices) Contains(id int) bool {
	_, ok := d.set[id]
	return ok
}

// IDs returns the known ids in ascending order.
func (d Devices) IDs() []int {
	ids := make([]int, 0, len(d.set))
	for id := range d.set {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Len returns the number of known pumps.
func (d Devices) Len() int {
	return len(d.set)
}
