package opm500

import "math"

// Unit is a measurement unit a reading can be expressed in. The current
// units report the detector photocurrent directly, the remaining units
// require the responsivity factor of the active wavelength, and the
// irradiance units additionally require the aperture diameter.
type Unit int

const (
	Nanoampere Unit = iota
	Microampere
	Milliampere
	Ampere
	Nanowatts
	Microwatts
	Milliwatts
	Watts
	NanowattsPerSquareCentimeter
	MicrowattsPerSquareCentimeter
	MilliwattsPerSquareCentimeter
	WattsPerSquareCentimeter
	DecibelMilliwatts
)

type unitInfo struct {
	label string
	desc  string
	scale float64 // multiplier from the base unit (A or W) of the domain
}

var units = [...]unitInfo{
	Nanoampere:                    {"nA", "Nanoampere (nA)", 1e9},
	Microampere:                   {"µA", "Microampere (µA)", 1e6},
	Milliampere:                   {"mA", "Milliampere (mA)", 1e3},
	Ampere:                        {"A", "Ampere (A)", 1},
	Nanowatts:                     {"nW", "Nanowatts (nW)", 1e9},
	Microwatts:                    {"µW", "Microwatts (µW)", 1e6},
	Milliwatts:                    {"mW", "Milliwatts (mW)", 1e3},
	Watts:                         {"W", "Watts (W)", 1},
	NanowattsPerSquareCentimeter:  {"nW/cm²", "Nanowatts per square centimeter (nW/cm²)", 1e9},
	MicrowattsPerSquareCentimeter: {"µW/cm²", "Microwatts per square centimeter (µW/cm²)", 1e6},
	MilliwattsPerSquareCentimeter: {"mW/cm²", "Milliwatts per square centimeter (mW/cm²)", 1e3},
	WattsPerSquareCentimeter:      {"W/cm²", "Watts per square centimeter (W/cm²)", 1},
	DecibelMilliwatts:             {"dBm", "Decibel-milliwatts (dBm)", 1},
}

func (u Unit) valid() bool { return u >= Nanoampere && u <= DecibelMilliwatts }

// Label returns the short unit label, e.g. "µW/cm²".
func (u Unit) Label() string {
	if !u.valid() {
		return "invalid"
	}
	return units[u].label
}

// String returns the printable unit description, e.g.
// "Microwatts per square centimeter (µW/cm²)".
func (u Unit) String() string {
	if !u.valid() {
		return "invalid unit"
	}
	return units[u].desc
}

func (u Unit) isCurrent() bool    { return u >= Nanoampere && u <= Ampere }
func (u Unit) isIrradiance() bool { return u >= NanowattsPerSquareCentimeter && u <= WattsPerSquareCentimeter }

// ParseUnit resolves a unit label such as "µW" or "dBm".
func ParseUnit(label string) (Unit, bool) {
	for u, info := range units {
		if info.label == label {
			return Unit(u), true
		}
	}
	return 0, false
}

// Convert expresses a raw detector current in the requested unit and
// returns the value together with the unit label. The raw current is in
// amperes, responsivity in amperes per watt for the wavelength the
// reading was taken at, and the aperture diameter in millimeters. The
// aperture is only consulted for the irradiance units.
//
// Convert is pure: it neither talks to the instrument nor mutates state.
func Convert(rawAmps, responsivity, apertureMM float64, u Unit) (float64, string, error) {
	if !u.valid() {
		return 0, "", &ConfigurationError{Reason: "unknown unit requested"}
	}
	if u.isCurrent() {
		return rawAmps * units[u].scale, units[u].label, nil
	}

	if math.IsNaN(responsivity) || responsivity <= 0 {
		return 0, "", &ConfigurationError{Reason: "no responsivity factor available for the active wavelength"}
	}
	watts := rawAmps / responsivity

	switch {
	case u == DecibelMilliwatts:
		mw := watts * 1e3
		if mw <= 0 {
			return 0, "", &DomainError{Reason: "dBm undefined for non-positive power"}
		}
		return 10 * math.Log10(mw), units[u].label, nil
	case u.isIrradiance():
		if math.IsNaN(apertureMM) || apertureMM <= 0 {
			return 0, "", &ConfigurationError{Reason: "aperture diameter required for irradiance units"}
		}
		// Illuminated area in cm²: the diameter is in mm, so the
		// radius in cm is apertureMM/20.
		area := math.Pi * (apertureMM / 20) * (apertureMM / 20)
		return watts / area * units[u].scale, units[u].label, nil
	default:
		return watts * units[u].scale, units[u].label, nil
	}
}
