package sensor

import "testing"

func TestParsePixelFormat(t *testing.T) {
	cases := map[string]PixelFormat{
		"RAW8":  PixelFormatRAW8,
		"RAW10": PixelFormatRAW10,
		"RAW12": PixelFormatRAW12,
	}
	for name, want := range cases {
		got, err := ParsePixelFormat(name)
		if err != nil {
			t.Errorf("ParsePixelFormat(%q) error: %v", name, err)
			continue
		}
		if got != want {
			t.Errorf("ParsePixelFormat(%q) = %v, want %v", name, got, want)
		}
		if got.String() != name {
			t.Errorf("%v.String() = %q, want %q", got, got.String(), name)
		}
	}

	if _, err := ParsePixelFormat("RAW16"); err == nil {
		t.Error("ParsePixelFormat accepted an unknown format")
	}
}

func TestParseBayerFormat(t *testing.T) {
	cases := map[string]BayerFormat{
		"BGGR": BayerFormatBGGR,
		"GBRG": BayerFormatGBRG,
		"GRBG": BayerFormatGRBG,
		"RGGB": BayerFormatRGGB,
	}
	for name, want := range cases {
		got, err := ParseBayerFormat(name)
		if err != nil {
			t.Errorf("ParseBayerFormat(%q) error: %v", name, err)
			continue
		}
		if got != want {
			t.Errorf("ParseBayerFormat(%q) = %v, want %v", name, got, want)
		}
	}

	if _, err := ParseBayerFormat("XYZW"); err == nil {
		t.Error("ParseBayerFormat accepted an unknown pattern")
	}
}

func TestBitsPerPixel(t *testing.T) {
	cases := map[PixelFormat]uint32{
		PixelFormatRAW8:  8,
		PixelFormatRAW10: 10,
		PixelFormatRAW12: 12,
	}
	for pixel, want := range cases {
		got, err := pixel.BitsPerPixel()
		if err != nil {
			t.Errorf("BitsPerPixel(%v) error: %v", pixel, err)
			continue
		}
		if got != want {
			t.Errorf("BitsPerPixel(%v) = %d, want %d", pixel, got, want)
		}
	}

	if _, err := PixelFormat(42).BitsPerPixel(); err == nil {
		t.Error("BitsPerPixel accepted an unknown format")
	}
}
