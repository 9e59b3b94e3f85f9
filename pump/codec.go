package pump

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/errors"
)

// StatusOK is the acknowledgment status the firmware sends on success.
const StatusOK = "ok"

// Frame is one newline terminated JSON line sent to the device.
type Frame []byte

// String returns the frame without its terminator, for logs.
func (f Frame) String() string {
	return string(bytes.TrimRight(f, "\r\n"))
}

// wireFrame fixes the key order the firmware has always received.
type wireFrame struct {
	Pump      int   `json:"pump"`
	Enable    *bool `json:"enable,omitempty"`
	Direction *bool `json:"direction,omitempty"`
	RPM       *int  `json:"rpm,omitempty"`
	Microstep *int  `json:"microstep,omitempty"`
}

// Encode renders cmd as a device frame holding the pump id and only the
// present fields.
func Encode(cmd Command) (Frame, error) {
	data, err := json.Marshal(wireFrame{
		Pump:      cmd.PumpID,
		Enable:    cmd.Enable,
		Direction: cmd.Direction,
		RPM:       cmd.RPM,
		Microstep: cmd.Microstep,
	})
	if err != nil {
		return nil, errors.Wrap(err, "Codec", "Encode", "marshal frame")
	}
	return append(data, '\n'), nil
}

// DecodeFrame parses an outbound frame back into a command. Device
// simulators use it to read what the bridge wrote.
func DecodeFrame(frame []byte) (Command, error) {
	line := bytes.TrimSpace(frame)
	if len(line) == 0 {
		return Command{}, decodeError("DecodeFrame", "empty frame")
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(line, &raw); err != nil {
		return Command{}, decodeError("DecodeFrame", err.Error())
	}
	if _, ok := raw["pump"]; !ok {
		return Command{}, decodeError("DecodeFrame", "missing pump id")
	}

	var wf wireFrame
	if err := json.Unmarshal(line, &wf); err != nil {
		return Command{}, decodeError("DecodeFrame", err.Error())
	}
	return Command{
		PumpID:    wf.Pump,
		Enable:    wf.Enable,
		Direction: wf.Direction,
		RPM:       wf.RPM,
		Microstep: wf.Microstep,
	}, nil
}

// Ack is a decoded device reply.
type Ack struct {
	Status string
	// Fields holds every key of the reply, status included.
	Fields map[string]json.RawMessage
}

// OK reports whether the device applied the command.
func (a Ack) OK() bool {
	return a.Status == StatusOK
}

// Decode parses one reply line. Empty input, invalid JSON, a non-object
// value and a missing status are decode errors. A status that is not a JSON
// string is kept verbatim and reads as a device failure.
func Decode(line []byte) (Ack, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return Ack{}, decodeError("Decode", "empty reply")
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(line, &raw); err != nil {
		return Ack{}, decodeError("Decode", err.Error())
	}
	statusRaw, ok := raw["status"]
	if !ok {
		return Ack{}, decodeError("Decode", "missing status")
	}

	var status string
	if err := json.Unmarshal(statusRaw, &status); err != nil {
		status = string(statusRaw)
	}
	return Ack{Status: status, Fields: raw}, nil
}

func decodeError(method, reason string) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrDecode, reason), "Codec", method, "decode")
}
