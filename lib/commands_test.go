package opm500

import "testing"

func TestParseInfo(t *testing.T) {
	info, err := parseInfo(fakeInfoBlock)
	if err != nil {
		t.Fatal(err)
	}
	if info.firmware != "1.2" {
		t.Errorf("firmware = %q, want 1.2", info.firmware)
	}
	if info.serial != "12345" {
		t.Errorf("serial = %q, want 12345", info.serial)
	}
	if info.manufactured != "05/2024" {
		t.Errorf("manufactured = %q, want 05/2024", info.manufactured)
	}
	if info.minWavelength != 400 || info.maxWavelength != 1100 {
		t.Errorf("bounds = [%d, %d], want [400, 1100]", info.minWavelength, info.maxWavelength)
	}
}

func TestParseInfoMissingDetector(t *testing.T) {
	info, err := parseInfo("OPM500 FW 2.0\nSerial: 99")
	if err != nil {
		t.Fatal(err)
	}
	if info.minWavelength != -1 || info.maxWavelength != -1 {
		t.Errorf("bounds = [%d, %d], want [-1, -1]", info.minWavelength, info.maxWavelength)
	}
}

func TestParseInfoRejectsForeignDevice(t *testing.T) {
	if _, err := parseInfo("SOMEMETER FW 1.0"); err == nil {
		t.Error("expected error for a non-OPM500 info block")
	}
}

func TestParseCorrectionFactor(t *testing.T) {
	f, err := parseCorrectionFactor("KF: 0,85")
	if err != nil {
		t.Fatal(err)
	}
	if !almostEqual(f, 0.85, 1e-12) {
		t.Errorf("got %g, want 0.85", f)
	}

	if _, err := parseCorrectionFactor("L OK"); err == nil {
		t.Error("expected error without KF marker")
	}
	if _, err := parseCorrectionFactor("KF: abc"); err == nil {
		t.Error("expected error for a malformed factor")
	}
}

func TestParseRawMeasure(t *testing.T) {
	cases := []struct {
		in   string
		amps float64
	}{
		{"I1,0nA", 1.0e-9},
		{"1,0nA", 1.0e-9},
		{"I12,5uA", 1.25e-5},
		{"I0,3nA", 3.0e-10},
	}
	for _, c := range cases {
		raw, err := parseRawMeasure(c.in)
		if err != nil {
			t.Fatalf("parseRawMeasure(%q): %v", c.in, err)
		}
		if !almostEqual(raw.amps(), c.amps, 1e-12) {
			t.Errorf("parseRawMeasure(%q) = %g A, want %g A", c.in, raw.amps(), c.amps)
		}
	}

	for _, in := range []string{"", "I", "I1,0mA", "Inope"} {
		if _, err := parseRawMeasure(in); err == nil {
			t.Errorf("parseRawMeasure(%q) succeeded, want error", in)
		}
	}
}

func TestGainCommands(t *testing.T) {
	if GainX1.command() != "V1" || GainX100000.command() != "V6" {
		t.Errorf("gain commands = %q, %q", GainX1.command(), GainX100000.command())
	}
	if GainAuto.String() != "auto-gain" {
		t.Errorf("GainAuto = %q", GainAuto.String())
	}
	g, ok := gainFromResponse("V3")
	if !ok || g != GainX100 {
		t.Errorf("gainFromResponse(V3) = %v, %v", g, ok)
	}
	if _, ok := gainFromResponse("V7"); ok {
		t.Error("gainFromResponse accepted V7")
	}
}

func TestBandwidthCommands(t *testing.T) {
	if Bandwidth10kHz.command() != "B1" || Bandwidth10Hz.command() != "B4" {
		t.Errorf("bandwidth commands = %q, %q", Bandwidth10kHz.command(), Bandwidth10Hz.command())
	}
	b, ok := bandwidthFromResponse("B2")
	if !ok || b != Bandwidth1kHz {
		t.Errorf("bandwidthFromResponse(B2) = %v, %v", b, ok)
	}
	if _, ok := bandwidthFromResponse("B9"); ok {
		t.Error("bandwidthFromResponse accepted B9")
	}
}
