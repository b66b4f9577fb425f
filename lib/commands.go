package opm500

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Command set of the OPM500 firmware. Commands are plain ASCII, responses
// are terminated with '\r'.
const (
	cmdHandshake     = "$U" // -> "U OK"
	cmdInfo          = "$I" // -> multi-line info block
	cmdPolarityQuery = "$F" // -> "F0" / "F1"
	cmdPolarityOff   = "$N" // -> "N OK"
	cmdPolarityOn    = "$C" // -> "C OK"
	cmdAutoZero      = "$A" // -> "A OK" or "Gain: <n>"
	cmdAutoZeroReset = "$R" // -> "R OK"
	cmdRawMeasure    = "$E" // -> "I<value><nA|uA>"
	cmdGainQuery     = "V?" // -> "V? OK\nV<n>"
	cmdBandwidth     = "B?" // -> "B<n>"
	cmdWavelength    = "L"  // followed by four zero-padded digits, -> "KF: <factor>"
)

// Gain is an amplifier gain step of the instrument, or GainAuto for the
// host-side automatic gain adjustment.
type Gain int

const (
	GainX1 Gain = iota + 1
	GainX10
	GainX100
	GainX1000
	GainX10000
	GainX100000
	GainAuto
)

// gainLevels is the number of selectable gain entries including auto.
const gainLevels = 7

func (g Gain) String() string {
	switch g {
	case GainX1:
		return "x1"
	case GainX10:
		return "x10"
	case GainX100:
		return "x100"
	case GainX1000:
		return "x1000"
	case GainX10000:
		return "x10000"
	case GainX100000:
		return "x100000"
	case GainAuto:
		return "auto-gain"
	}
	return "invalid gain"
}

func (g Gain) valid() bool { return g >= GainX1 && g <= GainAuto }

// command returns the firmware gain command, "V1".."V6".
func (g Gain) command() string { return fmt.Sprintf("V%d", int(g)) }

func gainFromResponse(s string) (Gain, bool) {
	if len(s) == 2 && s[0] == 'V' && s[1] >= '1' && s[1] <= '6' {
		return Gain(s[1] - '0'), true
	}
	return 0, false
}

// Bandwidth is an analog bandwidth step of the input amplifier.
type Bandwidth int

const (
	Bandwidth10kHz Bandwidth = iota + 1
	Bandwidth1kHz
	Bandwidth100Hz
	Bandwidth10Hz
)

func (b Bandwidth) String() string {
	switch b {
	case Bandwidth10kHz:
		return "10 kHz"
	case Bandwidth1kHz:
		return "1 kHz"
	case Bandwidth100Hz:
		return "100 Hz"
	case Bandwidth10Hz:
		return "10 Hz"
	}
	return "invalid bandwidth"
}

func (b Bandwidth) valid() bool { return b >= Bandwidth10kHz && b <= Bandwidth10Hz }

// command returns the firmware bandwidth command, "B1".."B4".
func (b Bandwidth) command() string { return fmt.Sprintf("B%d", int(b)) }

func bandwidthFromResponse(s string) (Bandwidth, bool) {
	if len(s) == 2 && s[0] == 'B' && s[1] >= '1' && s[1] <= '4' {
		return Bandwidth(s[1] - '0'), true
	}
	return 0, false
}

// deviceInfo is the parsed "$I" block.
type deviceInfo struct {
	firmware      string
	serial        string
	manufactured  string
	minWavelength int
	maxWavelength int
}

var (
	infoHeaderRe   = regexp.MustCompile(`(?im)^opm500`)
	infoFirmwareRe = regexp.MustCompile(`(?im)^opm500.*fw\D*?([0-9]+\.[0-9]+)`)
	infoSerialRe   = regexp.MustCompile(`(?im)^serial:\D*?([0-9]+)`)
	infoDateRe     = regexp.MustCompile(`(?im)^date of manufacturing:\s*([0-9]{1,2}/[0-9]{2,4})`)
	infoDetectorRe = regexp.MustCompile(`(?im)^detector:\D*?([0-9]+)nm\D*?([0-9]+)nm`)
)

// parseInfo extracts firmware version, serial number, date of
// manufacturing and the detector wavelength bounds from the info block.
// Missing detector bounds are reported as -1 so that any wavelength set
// attempt fails the range check.
func parseInfo(block string) (deviceInfo, error) {
	if !infoHeaderRe.MatchString(block) {
		return deviceInfo{}, fmt.Errorf("not an OPM500 info block: %q", firstLine(block))
	}
	info := deviceInfo{minWavelength: -1, maxWavelength: -1}
	if m := infoFirmwareRe.FindStringSubmatch(block); m != nil {
		info.firmware = m[1]
	}
	if m := infoSerialRe.FindStringSubmatch(block); m != nil {
		info.serial = m[1]
	}
	if m := infoDateRe.FindStringSubmatch(block); m != nil {
		info.manufactured = m[1]
	}
	if m := infoDetectorRe.FindStringSubmatch(block); m != nil {
		info.minWavelength, _ = strconv.Atoi(m[1])
		info.maxWavelength, _ = strconv.Atoi(m[2])
	}
	return info, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// parseCorrectionFactor extracts the responsivity correction factor from
// a wavelength-set response of the form "KF: 0,85". The firmware uses a
// comma as the decimal separator.
func parseCorrectionFactor(resp string) (float64, error) {
	i := strings.Index(resp, "KF:")
	if i < 0 {
		return 0, fmt.Errorf("no correction factor in %q", resp)
	}
	v := strings.TrimSpace(strings.ReplaceAll(resp[i+len("KF:"):], ",", "."))
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("bad correction factor in %q: %w", resp, err)
	}
	return f, nil
}

// rawMeasure is a single "$E" reading as reported by the instrument:
// the displayed amplitude plus its native current unit.
type rawMeasure struct {
	value float64
	unit  string // "nA" or "uA"
}

// amps returns the reading in amperes.
func (r rawMeasure) amps() float64 {
	if r.unit == "uA" {
		return r.value * 1e-6
	}
	return r.value * 1e-9
}

// parseRawMeasure parses a raw reading such as "I1,0nA" or "1,0uA".
// The leading 'I' prefix is optional, the decimal separator is a comma.
func parseRawMeasure(resp string) (rawMeasure, error) {
	s := strings.TrimSpace(strings.TrimPrefix(resp, "I"))
	if len(s) < 3 {
		return rawMeasure{}, fmt.Errorf("raw reading too short: %q", resp)
	}
	unit := s[len(s)-2:]
	if unit != "nA" && unit != "uA" {
		return rawMeasure{}, fmt.Errorf("unknown raw reading unit in %q", resp)
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(s[:len(s)-2], ",", "."), 64)
	if err != nil {
		return rawMeasure{}, fmt.Errorf("bad raw reading %q: %w", resp, err)
	}
	return rawMeasure{value: v, unit: unit}, nil
}
