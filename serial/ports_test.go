package serial

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial/enumerator"

	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/errors"
)

func TestListPorts(t *testing.T) {
	ports, err := listPorts(func() ([]*enumerator.PortDetails, error) {
		return []*enumerator.PortDetails{
			{Name: "/dev/ttyUSB0", IsUSB: true, VID: "1a86", PID: "7523"},
			{Name: "/dev/ttyACM0", IsUSB: true, Product: "Arduino Uno"},
			nil,
			{Name: "/dev/ttyS0"},
		}, nil
	})
	require.NoError(t, err)

	assert.Equal(t, []PortInfo{
		{Name: "/dev/ttyUSB0", Description: "USB VID:PID=1a86:7523", USB: true},
		{Name: "/dev/ttyACM0", Description: "Arduino Uno", USB: true},
		{Name: "/dev/ttyS0", Description: "n/a"},
	}, ports)
}

func TestListPorts_EnumerationFails(t *testing.T) {
	_, err := listPorts(func() ([]*enumerator.PortDetails, error) {
		return nil, stderrors.New("sysfs unavailable")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrTransport)
	assert.True(t, errors.IsTransient(err))
}
