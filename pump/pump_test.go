package pump

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/errors"
)

func TestParseCommand(t *testing.T) {
	cmd, err := ParseCommand(1, []byte(`{"rpm":150,"direction":true,"extra":"ignored","enable":null}`))
	require.NoError(t, err)

	assert.Equal(t, 1, cmd.PumpID)
	require.NotNil(t, cmd.RPM)
	assert.Equal(t, 150, *cmd.RPM)
	require.NotNil(t, cmd.Direction)
	assert.True(t, *cmd.Direction)
	assert.Nil(t, cmd.Enable)
	assert.Nil(t, cmd.Microstep)
}

func TestParseCommand_EmptyBody(t *testing.T) {
	cmd, err := ParseCommand(2, nil)
	require.NoError(t, err)
	assert.True(t, cmd.IsEmpty())
	assert.Equal(t, 2, cmd.PumpID)
}

func TestParseCommand_Rejects(t *testing.T) {
	bodies := map[string]string{
		"not json":     `not json`,
		"string rpm":   `{"rpm":"fast"}`,
		"fraction rpm": `{"rpm":150.5}`,
		"array":        `[1,2]`,
		"bool as int":  `{"enable":1}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCommand(1, []byte(body))
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
			assert.ErrorIs(t, err, errors.ErrValidation)
		})
	}
}

func TestValidate(t *testing.T) {
	devices := DefaultDevices()

	tests := []struct {
		name    string
		cmd     Command
		wantErr error
	}{
		{"empty command", Command{PumpID: 1}, nil},
		{"bounds inclusive", Command{PumpID: 2, RPM: Int(200), Microstep: Int(4)}, nil},
		{"zero values", Command{PumpID: 1, RPM: Int(0), Microstep: Int(0)}, nil},
		{"unknown pump", Command{PumpID: 3}, errors.ErrUnknownDevice},
		{"pump zero", Command{PumpID: 0}, errors.ErrUnknownDevice},
		{"rpm too high", Command{PumpID: 1, RPM: Int(201)}, errors.ErrValidation},
		{"rpm negative", Command{PumpID: 1, RPM: Int(-1)}, errors.ErrValidation},
		{"microstep too high", Command{PumpID: 1, Microstep: Int(5)}, errors.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cmd.Validate(devices)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestUnknownDeviceIsCheckedFirst(t *testing.T) {
	err := Command{PumpID: 9, RPM: Int(500)}.Validate(DefaultDevices())
	assert.ErrorIs(t, err, errors.ErrUnknownDevice)
}

func TestEncode_Scenario(t *testing.T) {
	frame, err := Encode(Command{PumpID: 1, RPM: Int(150), Direction: Bool(true)})
	require.NoError(t, err)

	assert.Equal(t, byte('\n'), frame[len(frame)-1])
	assert.JSONEq(t, `{"pump":1,"rpm":150,"direction":true}`, frame.String())
	assert.NotContains(t, string(frame), "null")
	assert.NotContains(t, string(frame), "enable")
}

func TestEncode_KeepsFalseAndZero(t *testing.T) {
	frame, err := Encode(Command{PumpID: 2, Enable: Bool(false), RPM: Int(0)})
	require.NoError(t, err)
	assert.Equal(t, `{"pump":2,"enable":false,"rpm":0}`+"\n", string(frame))
}

// Every subset of the optional fields survives an encode/decode cycle and
// no absent field appears after decoding.
func TestEncodeDecodeFrame_RoundTripsPopulatedFields(t *testing.T) {
	for mask := 0; mask < 16; mask++ {
		cmd := Command{PumpID: 1 + mask%2}
		if mask&1 != 0 {
			cmd.Enable = Bool(mask%3 == 0)
		}
		if mask&2 != 0 {
			cmd.Direction = Bool(true)
		}
		if mask&4 != 0 {
			cmd.RPM = Int(mask * 10)
		}
		if mask&8 != 0 {
			cmd.Microstep = Int(mask % 5)
		}

		frame, err := Encode(cmd)
		require.NoError(t, err)
		got, err := DecodeFrame(frame)
		require.NoError(t, err)
		assert.Equal(t, cmd, got, "mask %04b", mask)

		var keys map[string]any
		require.NoError(t, json.Unmarshal(frame, &keys))
		assert.Len(t, keys, 1+popcount(mask), "mask %04b", mask)
	}
}

func popcount(v int) int {
	n := 0
	for ; v != 0; v &= v - 1 {
		n++
	}
	return n
}

func TestDecode(t *testing.T) {
	ack, err := Decode([]byte("{\"status\":\"ok\"}\r\n"))
	require.NoError(t, err)
	assert.True(t, ack.OK())

	ack, err = Decode([]byte(`{"status":"error","reason":"stall"}`))
	require.NoError(t, err)
	assert.False(t, ack.OK())
	assert.Equal(t, "error", ack.Status)
	assert.Contains(t, ack.Fields, "reason")

	ack, err = Decode([]byte(`{"status":1}`))
	require.NoError(t, err)
	assert.False(t, ack.OK())
}

func TestDecode_Errors(t *testing.T) {
	for name, line := range map[string]string{
		"empty":          "",
		"whitespace":     " \n",
		"not json":       "not json",
		"missing status": `{"pump":1}`,
		"null":           "null",
		"array":          `["ok"]`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(line))
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrDecode)
		})
	}
}

func TestDecodeFrame_MissingPump(t *testing.T) {
	_, err := DecodeFrame([]byte(`{"rpm":10}`))
	assert.ErrorIs(t, err, errors.ErrDecode)
}

func TestCommandPayload_OmitsPumpID(t *testing.T) {
	payload, err := Command{PumpID: 1, RPM: Int(150), Direction: Bool(true)}.Payload()
	require.NoError(t, err)
	assert.JSONEq(t, `{"rpm":150,"direction":true}`, string(payload))

	payload, err = Command{PumpID: 1}.Payload()
	require.NoError(t, err)
	assert.Equal(t, "{}", string(payload))
}

func TestTopics(t *testing.T) {
	assert.Equal(t, "pump/1/command", CommandTopic(1))
	assert.Equal(t, "pump/2/status", StatusTopic(2))

	id, err := DeviceFromTopic("pump/2/command")
	require.NoError(t, err)
	assert.Equal(t, 2, id)

	id, err = DeviceFromTopic(StatusTopic(1))
	require.NoError(t, err)
	assert.Equal(t, 1, id)
}

func TestDeviceFromTopic_FailsClosed(t *testing.T) {
	for _, topic := range []string{
		"pump/x/command",
		"pump//command",
		"pump/-1/command",
		"pump/+1/command",
		"other/1/command",
		"pump/1/other",
		"pump/1/command/extra",
		"pump/99999999999999999999/command",
		"",
	} {
		_, err := DeviceFromTopic(topic)
		assert.ErrorIs(t, err, errors.ErrDecode, topic)
	}
}

func TestStatusEvent(t *testing.T) {
	at := time.Unix(1700000000, 0)
	ev, err := NewStatusEvent("pump/1/status", []byte(`{"rpm":150,"direction":true}`), at)
	require.NoError(t, err)
	assert.Equal(t, 1, ev.PumpID)
	assert.Equal(t, at, ev.ReceivedAt)

	msg, err := ev.Message()
	require.NoError(t, err)
	assert.JSONEq(t, `{"topic":"pump/1/status","payload":{"rpm":150,"direction":true}}`, string(msg))

	_, err = NewStatusEvent("pump/1/status", []byte("not json"), at)
	assert.ErrorIs(t, err, errors.ErrDecode)
}

func TestStateApply(t *testing.T) {
	t0 := time.Unix(100, 0)
	t1 := time.Unix(200, 0)

	s := State{}.Apply(Command{PumpID: 1, Enable: Bool(true), RPM: Int(100)}, t0)
	s = s.Apply(Command{PumpID: 1, Direction: Bool(true)}, t1)

	assert.Equal(t, State{PumpID: 1, Enable: true, Direction: true, RPM: 100, UpdatedAt: t1}, s)
}

func TestDevices(t *testing.T) {
	d := NewDevices(3, 1, 2)
	assert.Equal(t, []int{1, 2, 3}, d.IDs())
	assert.True(t, d.Contains(3))
	assert.False(t, d.Contains(4))
	assert.Equal(t, 3, d.Len())
	assert.Equal(t, "1/16", MicrostepLabel(4))
	assert.Equal(t, "unknown", MicrostepLabel(7))
}
