package opm500

import "fmt"

// ConnectionError reports a transport open or communication failure.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("opm500: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("opm500: %s failed", e.Op)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// StateError reports an operation attempted while the device is not connected.
type StateError struct {
	Op string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("opm500: %s: device not connected", e.Op)
}

// RangeError reports a value outside the instrument-reported bounds.
type RangeError struct {
	What     string
	Value    int
	Min, Max int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("opm500: %s %d outside [%d, %d]", e.What, e.Value, e.Min, e.Max)
}

// ConfigurationError reports missing calibration data for a requested conversion.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("opm500: %s", e.Reason)
}

// DomainError reports a mathematically undefined conversion.
type DomainError struct {
	Reason string
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("opm500: %s", e.Reason)
}
