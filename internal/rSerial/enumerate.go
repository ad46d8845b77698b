package rserial

import (
	"errors"
	"fmt"

	"go.bug.st/serial/enumerator"
)

var ErrNoDeviceFound = errors.New("no device found")

type PortInfo struct {
	Name         string
	IsUSB        bool
	VID          string
	PID          string
	SerialNumber string
	Product      string
}

type Enumerator interface {
	List() ([]PortInfo, error)
}

// SystemEnumerator lists the serial devices known to the operating system.
type SystemEnumerator struct{}

func (SystemEnumerator) List() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("error enumerating serial ports: %w", err)
	}

	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		ports = append(ports, PortInfo{
			Name:         d.Name,
			IsUSB:        d.IsUSB,
			VID:          d.VID,
			PID:          d.PID,
			SerialNumber: d.SerialNumber,
			Product:      d.Product,
		})
	}
	return ports, nil
}

// FirstAvailable picks the first device the enumerator reports.
func FirstAvailable(e Enumerator) (string, error) {
	ports, err := e.List()
	if err != nil {
		return "", err
	}
	if len(ports) == 0 {
		return "", ErrNoDeviceFound
	}
	return ports[0].Name, nil
}
