package opm500

import (
	"fmt"
	"log"
	"strings"
	"time"
)

const (
	// commMaxRetries bounds the receive loop. Together with the 10 ms
	// read timeout of the transport this allows the instrument up to
	// eight seconds to answer.
	commMaxRetries = 800

	defaultWavelength = 660
)

// Settings is the host-side mirror of the instrument configuration.
// Wavelength, gain, bandwidth and polarity live on the instrument and are
// pushed/pulled over the wire; unit, aperture and filter only affect the
// host-side conversion of readings.
type Settings struct {
	Wavelength     int // nm
	Gain           Gain
	Bandwidth      Bandwidth
	InvertPolarity bool
	Unit           Unit
	ApertureMM     float64
	Filter         float64
}

func defaultSettings() Settings {
	return Settings{
		Wavelength: defaultWavelength,
		Gain:       GainX1,
		Bandwidth:  Bandwidth10kHz,
		Unit:       Microampere,
		ApertureMM: 7.0,
		Filter:     1.0,
	}
}

// Device is one OPM500 optical power meter. A Device owns its serial
// connection exclusively; the protocol is strictly half-duplex, one
// request awaiting one response, so a Device must not be shared between
// goroutines.
type Device struct {
	Debug bool

	cmm          communication
	settings     Settings
	responsivity float64 // A/W for settings.Wavelength, 0 when unknown
	autogainGain int     // last gain level seen on the instrument, 1..6
	maxGain      int     // highest usable gain level, lowered by auto zero

	info deviceInfo
}

// New returns a disconnected Device with default settings.
func New() *Device {
	return &Device{
		settings: defaultSettings(),
		maxGain:  gainLevels - 1,
	}
}

func (d *Device) connected() bool {
	return d.cmm != nil && d.cmm.IsOpen()
}

// Connect resolves the identifier returned by FindDevices, opens the
// serial port and initializes the instrument: handshake, info readout,
// auto zero reset and the default wavelength and gain.
func (d *Device) Connect(id string) error {
	port, err := findPort(id)
	if err != nil {
		return err
	}
	return d.connectTransport(&serialCmnc{name: port})
}

func (d *Device) connectTransport(cmm communication) error {
	if d.connected() {
		return &ConnectionError{Op: "connect", Err: fmt.Errorf("already connected")}
	}
	if !cmm.IsOpen() {
		if err := cmm.Open(d.Debug); err != nil {
			return &ConnectionError{Op: "open port", Err: err}
		}
	}
	d.cmm = cmm

	resp, err := d.exchange(cmdHandshake)
	if err != nil {
		d.Disconnect()
		return err
	}
	if resp != "U OK" {
		d.Disconnect()
		return &ConnectionError{Op: "handshake", Err: fmt.Errorf("unexpected response %q", resp)}
	}
	if err := d.initialize(); err != nil {
		d.Disconnect()
		return err
	}
	return nil
}

func (d *Device) initialize() error {
	if _, err := d.requestInfo(); err != nil {
		return err
	}
	if err := d.AutoZeroReset(); err != nil {
		return err
	}
	if err := d.SetWavelength(d.settings.Wavelength); err != nil {
		return err
	}
	return d.SetGain(d.settings.Gain)
}

// Disconnect releases the serial port and resets the device to its
// defaults. Disconnecting an already disconnected device is a no-op.
func (d *Device) Disconnect() error {
	var err error
	if d.cmm != nil {
		err = d.cmm.Close()
		d.cmm = nil
	}
	debug := d.Debug
	*d = *New()
	d.Debug = debug
	return err
}

// send writes one command. The receive side is separate because the
// wavelength command is sent digit by digit before one response arrives.
func (d *Device) send(cmd string) error {
	if !d.connected() {
		return &StateError{Op: "send"}
	}
	if _, err := d.cmm.Write(cmd); err != nil {
		return &ConnectionError{Op: "write", Err: err}
	}
	return nil
}

// recv reads one '\r'-terminated response and returns it with carriage
// returns removed and surrounding whitespace trimmed. Multi-line
// responses keep their '\n' separators.
func (d *Device) recv() (string, error) {
	if !d.connected() {
		return "", &StateError{Op: "receive"}
	}
	buf := make([]byte, 256)
	var msg []byte
	for i := 0; i < commMaxRetries; i++ {
		n, err := d.cmm.Read(buf)
		if err != nil {
			return "", &ConnectionError{Op: "read", Err: err}
		}
		if n == 0 {
			continue
		}
		msg = append(msg, buf[:n]...)
		if msg[len(msg)-1] == '\r' {
			resp := strings.TrimSpace(strings.ReplaceAll(string(msg), "\r", ""))
			if d.Debug {
				log.Printf("recv %q\n", resp)
			}
			return resp, nil
		}
	}
	return "", &ConnectionError{Op: "read", Err: fmt.Errorf("no valid data received")}
}

func (d *Device) exchange(cmd string) (string, error) {
	if err := d.send(cmd); err != nil {
		return "", err
	}
	return d.recv()
}

// Info returns the raw printable info block of the instrument.
func (d *Device) Info() (string, error) {
	return d.exchange(cmdInfo)
}

// FirmwareVersion reports the firmware version from the info block.
func (d *Device) FirmwareVersion() (string, error) {
	info, err := d.requestInfo()
	return info.firmware, err
}

// SerialNumber reports the serial number from the info block.
func (d *Device) SerialNumber() (string, error) {
	info, err := d.requestInfo()
	return info.serial, err
}

// DateOfManufacturing reports the manufacturing date from the info block.
func (d *Device) DateOfManufacturing() (string, error) {
	info, err := d.requestInfo()
	return info.manufactured, err
}

// DetectorWavelengthBounds reports the supported wavelength range of the
// detector in nm.
func (d *Device) DetectorWavelengthBounds() (min, max int, err error) {
	info, err := d.requestInfo()
	return info.minWavelength, info.maxWavelength, err
}

func (d *Device) requestInfo() (deviceInfo, error) {
	block, err := d.exchange(cmdInfo)
	if err != nil {
		return deviceInfo{}, err
	}
	info, err := parseInfo(block)
	if err != nil {
		return deviceInfo{}, &ConnectionError{Op: "identify", Err: err}
	}
	d.info = info
	return info, nil
}

// Settings returns the cached configuration mirror.
func (d *Device) Settings() Settings {
	return d.settings
}

// Refresh re-queries gain, bandwidth and polarity from the instrument and
// updates the mirror. Wavelength, unit, aperture and filter are host-held
// and not touched.
func (d *Device) Refresh() error {
	if _, err := d.GetGain(); err != nil {
		return err
	}
	if _, err := d.GetBandwidth(); err != nil {
		return err
	}
	_, err := d.IsPolarityInverted()
	return err
}

// Commit pushes every value of s that differs from the mirror to the
// instrument. On the first failure the remaining values are left
// unpushed; already committed values stay committed.
func (d *Device) Commit(s Settings) error {
	if s.Wavelength != d.settings.Wavelength {
		if err := d.SetWavelength(s.Wavelength); err != nil {
			return err
		}
	}
	if s.Gain != d.settings.Gain {
		if err := d.SetGain(s.Gain); err != nil {
			return err
		}
	}
	if s.Bandwidth != d.settings.Bandwidth {
		if err := d.SetBandwidth(s.Bandwidth); err != nil {
			return err
		}
	}
	if s.InvertPolarity != d.settings.InvertPolarity {
		if err := d.SetPolarity(s.InvertPolarity); err != nil {
			return err
		}
	}
	if s.Unit != d.settings.Unit {
		if err := d.SetUnit(s.Unit); err != nil {
			return err
		}
	}
	if s.ApertureMM != d.settings.ApertureMM {
		if err := d.SetAperture(s.ApertureMM); err != nil {
			return err
		}
	}
	if s.Filter != d.settings.Filter {
		if err := d.SetFilter(s.Filter); err != nil {
			return err
		}
	}
	return nil
}

// SetWavelength selects the active wavelength in nm. The instrument
// answers with the responsivity correction factor for that wavelength,
// which is cached for the power and irradiance conversions. Wavelengths
// outside the detector bounds fail with a RangeError and leave the
// mirror unchanged.
func (d *Device) SetWavelength(nm int) error {
	if !d.connected() {
		return &StateError{Op: "set wavelength"}
	}
	if nm < d.info.minWavelength || nm > d.info.maxWavelength {
		return &RangeError{What: "wavelength", Value: nm, Min: d.info.minWavelength, Max: d.info.maxWavelength}
	}
	if err := d.send(cmdWavelength); err != nil {
		return err
	}
	// The firmware expects the four digits one byte at a time.
	for _, c := range fmt.Sprintf("%04d", nm) {
		if err := d.send(string(c)); err != nil {
			return err
		}
	}
	resp, err := d.recv()
	if err != nil {
		return err
	}
	factor, err := parseCorrectionFactor(resp)
	if err != nil {
		return &ConnectionError{Op: "set wavelength", Err: err}
	}
	d.settings.Wavelength = nm
	d.responsivity = factor
	return nil
}

// GetWavelength returns the cached active wavelength in nm.
func (d *Device) GetWavelength() int {
	return d.settings.Wavelength
}

// SetGain selects a fixed gain step or GainAuto. GainAuto is host-side
// only: the instrument keeps its current gain and GetMeasurement adjusts
// it per reading.
func (d *Device) SetGain(g Gain) error {
	if !d.connected() {
		return &StateError{Op: "set gain"}
	}
	if !g.valid() {
		return &RangeError{What: "gain", Value: int(g), Min: int(GainX1), Max: int(GainAuto)}
	}
	if g == GainAuto {
		d.settings.Gain = GainAuto
		return nil
	}
	resp, err := d.exchange(g.command())
	if err != nil {
		return err
	}
	if resp != g.command()+" OK" {
		return &ConnectionError{Op: "set gain", Err: fmt.Errorf("unexpected response %q", resp)}
	}
	// While auto-gain is selected the mirror keeps GainAuto; only the
	// instrument-side level is tracked.
	if d.settings.Gain != GainAuto {
		d.settings.Gain = g
	}
	d.autogainGain = int(g)
	return nil
}

// GetGain queries the gain step currently active on the instrument.
// While auto-gain is selected the mirror stays at GainAuto.
func (d *Device) GetGain() (Gain, error) {
	resp, err := d.exchange(cmdGainQuery)
	if err != nil {
		return 0, err
	}
	lines := strings.Split(resp, "\n")
	if len(lines) < 2 || lines[0] != "V? OK" {
		return 0, &ConnectionError{Op: "get gain", Err: fmt.Errorf("unexpected response %q", resp)}
	}
	g, ok := gainFromResponse(strings.TrimSpace(lines[1]))
	if !ok {
		return 0, &ConnectionError{Op: "get gain", Err: fmt.Errorf("unexpected gain %q", lines[1])}
	}
	if d.settings.Gain != GainAuto {
		d.settings.Gain = g
	}
	d.autogainGain = int(g)
	return g, nil
}

// SetBandwidth selects the analog bandwidth of the input amplifier.
func (d *Device) SetBandwidth(b Bandwidth) error {
	if !d.connected() {
		return &StateError{Op: "set bandwidth"}
	}
	if !b.valid() {
		return &RangeError{What: "bandwidth", Value: int(b), Min: int(Bandwidth10kHz), Max: int(Bandwidth10Hz)}
	}
	resp, err := d.exchange(b.command())
	if err != nil {
		return err
	}
	if resp != b.command()+" OK" {
		return &ConnectionError{Op: "set bandwidth", Err: fmt.Errorf("unexpected response %q", resp)}
	}
	d.settings.Bandwidth = b
	return nil
}

// GetBandwidth queries the bandwidth currently active on the instrument.
func (d *Device) GetBandwidth() (Bandwidth, error) {
	resp, err := d.exchange(cmdBandwidth)
	if err != nil {
		return 0, err
	}
	b, ok := bandwidthFromResponse(resp)
	if !ok {
		return 0, &ConnectionError{Op: "get bandwidth", Err: fmt.Errorf("unexpected response %q", resp)}
	}
	d.settings.Bandwidth = b
	return b, nil
}

// SetPolarity sets whether the input polarity is inverted.
func (d *Device) SetPolarity(invert bool) error {
	if !d.connected() {
		return &StateError{Op: "set polarity"}
	}
	cmd := cmdPolarityOff
	if invert {
		cmd = cmdPolarityOn
	}
	resp, err := d.exchange(cmd)
	if err != nil {
		return err
	}
	if resp != strings.TrimPrefix(cmd, "$")+" OK" {
		return &ConnectionError{Op: "set polarity", Err: fmt.Errorf("unexpected response %q", resp)}
	}
	d.settings.InvertPolarity = invert
	return nil
}

// IsPolarityInverted queries the input polarity from the instrument.
func (d *Device) IsPolarityInverted() (bool, error) {
	resp, err := d.exchange(cmdPolarityQuery)
	if err != nil {
		return false, err
	}
	switch resp {
	case "F0":
		d.settings.InvertPolarity = false
		return false, nil
	case "F1":
		d.settings.InvertPolarity = true
		return true, nil
	}
	return false, &ConnectionError{Op: "get polarity", Err: fmt.Errorf("unexpected response %q", resp)}
}

// AutoZero zeroes the input against the current background level. The
// instrument may answer with a reduced maximum gain when the background
// is high; auto-gain then stays below that level.
func (d *Device) AutoZero() error {
	resp, err := d.exchange(cmdAutoZero)
	if err != nil {
		return err
	}
	switch {
	case strings.Contains(resp, "Gain: "):
		d.maxGain = int(resp[len(resp)-1] - '0')
		time.Sleep(200 * time.Millisecond)
		return nil
	case strings.Contains(resp, "A OK"):
		d.maxGain = gainLevels - 1
		time.Sleep(500 * time.Millisecond)
		return nil
	}
	return &ConnectionError{Op: "auto zero", Err: fmt.Errorf("unexpected response %q", resp)}
}

// AutoZeroReset clears a previous auto zero and restores the full gain
// range.
func (d *Device) AutoZeroReset() error {
	resp, err := d.exchange(cmdAutoZeroReset)
	if err != nil {
		return err
	}
	if resp != "R OK" {
		return &ConnectionError{Op: "auto zero reset", Err: fmt.Errorf("unexpected response %q", resp)}
	}
	d.maxGain = gainLevels - 1
	time.Sleep(50 * time.Millisecond)
	return nil
}

// SetUnit selects the unit readings are converted to.
func (d *Device) SetUnit(u Unit) error {
	if !d.connected() {
		return &StateError{Op: "set unit"}
	}
	if !u.valid() {
		return &RangeError{What: "unit", Value: int(u), Min: int(Nanoampere), Max: int(DecibelMilliwatts)}
	}
	d.settings.Unit = u
	return nil
}

// SetAperture sets the aperture diameter in mm used for the irradiance
// conversions.
func (d *Device) SetAperture(mm float64) error {
	if !d.connected() {
		return &StateError{Op: "set aperture"}
	}
	if mm <= 0 {
		return &ConfigurationError{Reason: fmt.Sprintf("aperture diameter must be positive, got %g", mm)}
	}
	d.settings.ApertureMM = mm
	return nil
}

// SetFilter sets the attenuation factor of an optical filter in front of
// the detector. Readings are divided by it before conversion.
func (d *Device) SetFilter(f float64) error {
	if !d.connected() {
		return &StateError{Op: "set filter"}
	}
	if f <= 0 {
		return &ConfigurationError{Reason: fmt.Sprintf("filter factor must be positive, got %g", f)}
	}
	d.settings.Filter = f
	return nil
}

// GetRawMeasurement triggers one reading and returns it unconverted, as
// displayed by the instrument, e.g. "1,0nA".
func (d *Device) GetRawMeasurement() (string, error) {
	resp, err := d.exchange(cmdRawMeasure)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(strings.TrimPrefix(resp, "I")), nil
}

// GetMeasurement triggers one reading and converts it to the selected
// unit, returning the value and the unit label. With GainAuto selected
// the instrument gain is adjusted until the reading is in range before
// the final value is taken. A reading is converted with the calibration
// state active right now; change the wavelength first, then measure.
func (d *Device) GetMeasurement() (float64, string, error) {
	raw, err := d.measureOnce()
	if err != nil {
		return 0, "", err
	}
	if d.settings.Gain == GainAuto {
		raw, err = d.autogain(raw, 0, 0)
		if err != nil {
			return 0, "", err
		}
	}
	return Convert(raw.amps()/d.settings.Filter, d.responsivity, d.settings.ApertureMM, d.settings.Unit)
}

func (d *Device) measureOnce() (rawMeasure, error) {
	resp, err := d.GetRawMeasurement()
	if err != nil {
		return rawMeasure{}, err
	}
	raw, err := parseRawMeasure(resp)
	if err != nil {
		return rawMeasure{}, &ConnectionError{Op: "measure", Err: err}
	}
	return raw, nil
}

// Output ceiling of the displayed amplitude per gain level; the pattern
// repeats every three levels because the display unit switches.
var gainCeiling = [...]float64{122.85, 12.285, 1.2285}

// autogain steps the instrument gain down when a reading is above 90 %
// of its level ceiling and up when it is below 8 %, re-measuring after
// each step. An up step directly following a down step terminates the
// loop to keep it from oscillating between two levels.
func (d *Device) autogain(raw rawMeasure, depth, lastOp int) (rawMeasure, error) {
	if depth >= gainLevels {
		return raw, nil
	}
	if d.autogainGain == 0 {
		if _, err := d.GetGain(); err != nil {
			return rawMeasure{}, err
		}
	}
	level := raw.value / gainCeiling[(d.autogainGain-1)%3]

	switch {
	case level > 90.0 && d.autogainGain > 1:
		if err := d.SetGain(Gain(d.autogainGain - 1)); err != nil {
			return rawMeasure{}, err
		}
		next, err := d.measureOnce()
		if err != nil {
			return rawMeasure{}, err
		}
		return d.autogain(next, depth+1, 1)
	case level < 8.0 && d.autogainGain < d.maxGain:
		if lastOp == 1 {
			depth = gainLevels
		}
		if err := d.SetGain(Gain(d.autogainGain + 1)); err != nil {
			return rawMeasure{}, err
		}
		next, err := d.measureOnce()
		if err != nil {
			return rawMeasure{}, err
		}
		return d.autogain(next, depth+1, 2)
	}
	return raw, nil
}
