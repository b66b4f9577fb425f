package opm500

// fakeCmnc is a scripted transport. Writes accumulate until a read
// resolves them against the script, so multi-write commands like the
// wavelength digits arrive as one key ("L0660").
type fakeCmnc struct {
	open    bool
	script  map[string][]string // command -> FIFO of responses
	sent    []string            // resolved commands in order
	cmd     string
	pending []byte
}

func newFakeCmnc(script map[string][]string) *fakeCmnc {
	return &fakeCmnc{open: true, script: script}
}

func (f *fakeCmnc) Open(debug bool) error { f.open = true; return nil }
func (f *fakeCmnc) IsOpen() bool          { return f.open }
func (f *fakeCmnc) IsDebug() bool         { return false }
func (f *fakeCmnc) Close() error          { f.open = false; return nil }

func (f *fakeCmnc) Write(s string) (int, error) {
	f.cmd += s
	return len(s), nil
}

func (f *fakeCmnc) Read(buf []byte) (int, error) {
	if len(f.pending) == 0 {
		responses := f.script[f.cmd]
		if len(responses) == 0 {
			return 0, nil // device stays silent, recv times out
		}
		f.script[f.cmd] = responses[1:]
		f.sent = append(f.sent, f.cmd)
		f.pending = []byte(responses[0] + "\r")
		f.cmd = ""
	}
	n := copy(buf, f.pending)
	f.pending = f.pending[n:]
	return n, nil
}

const fakeInfoBlock = "OPM500 FW 1.2\nSerial: 12345\nDate of manufacturing: 05/2024\nDetector: 400nm - 1100nm"

// connectScript covers the full connect sequence: handshake, info, auto
// zero reset, default wavelength (KF 0,5) and default gain.
func connectScript() map[string][]string {
	return map[string][]string{
		cmdHandshake:     {"U OK"},
		cmdInfo:          {fakeInfoBlock},
		cmdAutoZeroReset: {"R OK"},
		"L0660":          {"KF: 0,5"},
		"V1":             {"V1 OK"},
	}
}

// connectedDevice returns a device connected through a fake transport
// scripted with connectScript plus the given extra exchanges.
func connectedDevice(extra map[string][]string) (*Device, *fakeCmnc, error) {
	script := connectScript()
	for k, v := range extra {
		script[k] = append(script[k], v...)
	}
	cmnc := newFakeCmnc(script)
	d := New()
	err := d.connectTransport(cmnc)
	return d, cmnc, err
}
