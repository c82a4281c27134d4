package registers

import (
	"bytes"
	"testing"
)

func TestEncodeRead(t *testing.T) {
	got := EncodeRead(Version)
	want := []byte{0x00, 0x64} // 100 big-endian
	if !bytes.Equal(got, want) {
		t.Errorf("EncodeRead(Version) = %v, want %v", got, want)
	}
	if len(got) != AddressSize {
		t.Errorf("read request length = %d, want %d", len(got), AddressSize)
	}
}

func TestEncodeWrite(t *testing.T) {
	got := EncodeWrite(Width, 0x01020304)
	want := []byte{0x00, 0x66, 0x01, 0x02, 0x03, 0x04}
	if !bytes.Equal(got, want) {
		t.Errorf("EncodeWrite(Width, 0x01020304) = %v, want %v", got, want)
	}
}

func TestDecodeValue(t *testing.T) {
	v, err := DecodeValue([]byte{0x00, 0xBC, 0x5F, 0xF8})
	if err != nil {
		t.Fatalf("DecodeValue returned error: %v", err)
	}
	if v != 12345336 {
		t.Errorf("DecodeValue = %d, want 12345336", v)
	}
}

func TestDecodeValueRoundTrip(t *testing.T) {
	for _, value := range []uint32{0, 1, 20, 0xDEADBEEF, 0xFFFFFFFF} {
		encoded := EncodeWrite(Run, value)
		decoded, err := DecodeValue(encoded[AddressSize:])
		if err != nil {
			t.Fatalf("DecodeValue(%d) error: %v", value, err)
		}
		if decoded != value {
			t.Errorf("round trip: got %d, want %d", decoded, value)
		}
	}
}

func TestDecodeValueShortBuffer(t *testing.T) {
	for _, buf := range [][]byte{nil, {}, {0x01}, {0x01, 0x02, 0x03}} {
		if _, err := DecodeValue(buf); err == nil {
			t.Errorf("DecodeValue(%v) expected error for short buffer", buf)
		}
	}
}

func TestRegisterString(t *testing.T) {
	if got := Watchdog.String(); got != "WATCHDOG" {
		t.Errorf("Watchdog.String() = %q", got)
	}
	if got := Register(7).String(); got != "REG_7" {
		t.Errorf("Register(7).String() = %q", got)
	}
}
