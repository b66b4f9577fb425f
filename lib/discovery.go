package opm500

import (
	"fmt"
	"strings"

	"go.bug.st/serial/enumerator"
)

// FTDI bridge of the OPM500.
const (
	usbVID = "0403"
	usbPID = "9A68"
)

const idPrefix = "OPM500 - "

// FindDevices returns the identifiers of all OPM500 devices currently
// visible on the host, in enumeration order. The listing is refreshed on
// every call; nothing is cached. An identifier has the form
// "OPM500 - <serial number>" and is passed to Device.Connect.
func FindDevices() ([]string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, &ConnectionError{Op: "enumerate serial ports", Err: err}
	}
	var found []string
	for _, p := range ports {
		if isSupported(p) {
			found = append(found, idPrefix+p.SerialNumber)
		}
	}
	return found, nil
}

func isSupported(p *enumerator.PortDetails) bool {
	return p.IsUSB && strings.EqualFold(p.VID, usbVID) && strings.EqualFold(p.PID, usbPID)
}

// findPort resolves a device identifier to the serial port it is
// attached to.
func findPort(id string) (string, error) {
	i := strings.LastIndex(id, "- ")
	if i < 0 {
		return "", &ConnectionError{Op: "connect", Err: fmt.Errorf("invalid device identifier %q", id)}
	}
	serialNum := id[i+2:]
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return "", &ConnectionError{Op: "enumerate serial ports", Err: err}
	}
	for _, p := range ports {
		if isSupported(p) && p.SerialNumber == serialNum {
			return p.Name, nil
		}
	}
	return "", &ConnectionError{Op: "connect", Err: fmt.Errorf("no device with serial number %s", serialNum)}
}
