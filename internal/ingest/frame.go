package ingest

import (
	"fmt"
	"image"
	"image/png"
	"os"

	"formlink/internal/protocol"
)

// decodeFrame expands one packed RGB565 little-endian frame into an RGBA
// image. The 5/6-bit channels are widened by replicating their high bits,
// matching the device display path.
func decodeFrame(buf []byte) (*image.RGBA, error) {
	if len(buf) != protocol.FrameSize {
		return nil, fmt.Errorf("frame has %d bytes, want %d", len(buf), protocol.FrameSize)
	}

	img := image.NewRGBA(image.Rect(0, 0, protocol.ImageWidth, protocol.ImageHeight))
	for i := 0; i < len(buf); i += 2 {
		v := uint16(buf[i]) | uint16(buf[i+1])<<8

		r5 := uint8(v >> 11)
		g6 := uint8(v >> 5 & 0x3F)
		b5 := uint8(v & 0x1F)

		j := i * 2
		img.Pix[j+0] = r5<<3 | r5>>2
		img.Pix[j+1] = g6<<2 | g6>>4
		img.Pix[j+2] = b5<<3 | b5>>2
		img.Pix[j+3] = 0xFF
	}

	return img, nil
}

// saveFrame decodes a raw frame and writes it as a PNG file.
func saveFrame(buf []byte, path string) error {
	img, err := decodeFrame(buf)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}

	return f.Close()
}
