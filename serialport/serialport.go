// Package serialport opens and enumerates the serial ports a plotter can be
// attached to.
package serialport

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

const (
	// DefaultBaudRate is the link speed of the plotter firmware.
	DefaultBaudRate = 9600

	// DefaultReadTimeout bounds a single Read. A Read that times out returns
	// zero bytes and a nil error.
	DefaultReadTimeout = 100 * time.Millisecond

	MinReadTimeout = 10 * time.Millisecond
	MaxReadTimeout = time.Second
)

// ErrNoUSBPorts is returned by SelectUSB when no USB serial port is attached.
var ErrNoUSBPorts = errors.New("no USB serial ports available")

// Config describes how to open a port.
type Config struct {
	Path        string
	BaudRate    int
	ReadTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.BaudRate <= 0 {
		c.BaudRate = DefaultBaudRate
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}

	return c
}

// Open opens the port at cfg.Path in 8N1 mode and applies the read timeout.
func Open(cfg Config) (serial.Port, error) {
	if cfg.Path == "" {
		return nil, errors.New("serialport: empty port path")
	}
	cfg = cfg.withDefaults()
	if cfg.ReadTimeout < MinReadTimeout || cfg.ReadTimeout > MaxReadTimeout {
		return nil, fmt.Errorf("serialport: read timeout %v out of range [%v, %v]", cfg.ReadTimeout, MinReadTimeout, MaxReadTimeout)
	}

	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(cfg.Path, mode)
	if err != nil {
		return nil, fmt.Errorf("serialport: failed to open %s: %w", cfg.Path, err)
	}
	if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("serialport: failed to set read timeout on %s: %w", cfg.Path, err)
	}

	return port, nil
}

// PortInfo describes one enumerated port.
type PortInfo struct {
	Name         string
	IsUSB        bool
	VID          string
	PID          string
	SerialNumber string
}

// Label returns a human readable description for pickers and listings.
func (p PortInfo) Label() string {
	if !p.IsUSB {
		return p.Name
	}
	if p.SerialNumber != "" {
		return fmt.Sprintf("%s (USB %s:%s, serial %s)", p.Name, p.VID, p.PID, p.SerialNumber)
	}

	return fmt.Sprintf("%s (USB %s:%s)", p.Name, p.VID, p.PID)
}

var detailedPortsList = enumerator.GetDetailedPortsList

// List returns all serial ports sorted by name.
func List() ([]PortInfo, error) {
	details, err := detailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("serialport: failed to enumerate ports: %w", err)
	}

	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		if d == nil {
			continue
		}
		ports = append(ports, PortInfo{
			Name:         d.Name,
			IsUSB:        d.IsUSB,
			VID:          d.VID,
			PID:          d.PID,
			SerialNumber: d.SerialNumber,
		})
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i].Name < ports[j].Name })

	return ports, nil
}

// ListUSB returns only the USB serial ports.
func ListUSB() ([]PortInfo, error) {
	all, err := List()
	if err != nil {
		return nil, err
	}

	usb := all[:0]
	for _, p := range all {
		if p.IsUSB {
			usb = append(usb, p)
		}
	}

	return usb, nil
}

// SelectUSB returns the only attached USB port, or all candidates when there
// is more than one so the caller can prompt. It returns ErrNoUSBPorts when
// none is attached.
func SelectUSB() (selected string, candidates []PortInfo, err error) {
	usb, err := ListUSB()
	if err != nil {
		return "", nil, err
	}

	switch len(usb) {
	case 0:
		return "", nil, ErrNoUSBPorts
	case 1:
		return usb[0].Name, usb, nil
	default:
		return "", usb, nil
	}
}
