package serial

import (
	"fmt"

	"go.bug.st/serial/enumerator"

	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/errors"
)

// PortInfo describes a serial port present on the host.
type PortInfo struct {
	Name        string `json:"port"`
	Description string `json:"description"`
	USB         bool   `json:"usb"`
}

// ListPorts returns the serial ports present on the host, for picking the
// serial.port setting.
func ListPorts() ([]PortInfo, error) {
	return listPorts(enumerator.GetDetailedPortsList)
}

func listPorts(enumerate func() ([]*enumerator.PortDetails, error)) ([]PortInfo, error) {
	details, err := enumerate()
	if err != nil {
		return nil, errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrTransport, err),
			"Serial", "ListPorts", "enumerate ports")
	}

	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		if d == nil {
			continue
		}
		ports = append(ports, PortInfo{
			Name:        d.Name,
			Description: describe(d),
			USB:         d.IsUSB,
		})
	}
	return ports, nil
}

func describe(d *enumerator.PortDetails) string {
	switch {
	case d.Product != "":
		return d.Product
	case d.IsUSB:
		return fmt.Sprintf("USB VID:PID=%s:%s", d.VID, d.PID)
	default:
		return "n/a"
	}
}
