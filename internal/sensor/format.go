package sensor

import "fmt"

// PixelFormat describes the raw pixel bit depth the camera streams.
type PixelFormat uint32

const (
	PixelFormatRAW8 PixelFormat = iota
	PixelFormatRAW10
	PixelFormatRAW12
)

// BitsPerPixel returns the bit depth for the format.
func (p PixelFormat) BitsPerPixel() (uint32, error) {
	switch p {
	case PixelFormatRAW8:
		return 8, nil
	case PixelFormatRAW10:
		return 10, nil
	case PixelFormatRAW12:
		return 12, nil
	}
	return 0, fmt.Errorf("unknown pixel format %d", uint32(p))
}

func (p PixelFormat) String() string {
	switch p {
	case PixelFormatRAW8:
		return "RAW8"
	case PixelFormatRAW10:
		return "RAW10"
	case PixelFormatRAW12:
		return "RAW12"
	}
	return fmt.Sprintf("PixelFormat(%d)", uint32(p))
}

// ParsePixelFormat maps a format name like "RAW10" to its PixelFormat.
func ParsePixelFormat(name string) (PixelFormat, error) {
	switch name {
	case "RAW8":
		return PixelFormatRAW8, nil
	case "RAW10":
		return PixelFormatRAW10, nil
	case "RAW12":
		return PixelFormatRAW12, nil
	}
	return 0, fmt.Errorf("unknown pixel format %q", name)
}

// BayerFormat names the color filter pattern of the raw sensor data.
type BayerFormat uint32

const (
	BayerFormatBGGR BayerFormat = iota
	BayerFormatGBRG
	BayerFormatGRBG
	BayerFormatRGGB
)

func (b BayerFormat) String() string {
	switch b {
	case BayerFormatBGGR:
		return "BGGR"
	case BayerFormatGBRG:
		return "GBRG"
	case BayerFormatGRBG:
		return "GRBG"
	case BayerFormatRGGB:
		return "RGGB"
	}
	return fmt.Sprintf("BayerFormat(%d)", uint32(b))
}

// ParseBayerFormat maps a pattern name like "RGGB" to its BayerFormat.
func ParseBayerFormat(name string) (BayerFormat, error) {
	switch name {
	case "BGGR":
		return BayerFormatBGGR, nil
	case "GBRG":
		return BayerFormatGBRG, nil
	case "GRBG":
		return BayerFormatGRBG, nil
	case "RGGB":
		return BayerFormatRGGB, nil
	}
	return 0, fmt.Errorf("unknown bayer format %q", name)
}

// FrameSize returns the byte size of one frame for the given geometry.
// Each line is packed to a whole number of bytes before the next begins.
func FrameSize(width, height uint32, pixel PixelFormat) (uint32, error) {
	bits, err := pixel.BitsPerPixel()
	if err != nil {
		return 0, err
	}
	lineBytes := (width*bits + 7) / 8
	return lineBytes * height, nil
}
