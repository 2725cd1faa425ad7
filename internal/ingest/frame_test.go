package ingest

import (
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"formlink/internal/protocol"
)

// putPixel writes one RGB565 value at pixel index i, little-endian.
func putPixel(buf []byte, i int, v uint16) {
	buf[2*i] = byte(v)
	buf[2*i+1] = byte(v >> 8)
}

func TestDecodeFrame(t *testing.T) {
	buf := make([]byte, protocol.FrameSize)
	putPixel(buf, 0, 0xFFFF)             // white
	putPixel(buf, 1, 0xF800)             // pure red
	putPixel(buf, 2, 0x07E0)             // pure green
	putPixel(buf, 3, 0x001F)             // pure blue
	putPixel(buf, 4, 0x8000)             // r5 = 16
	putPixel(buf, protocol.ImageWidth, 0xFFFF) // first pixel of second row

	img, err := decodeFrame(buf)
	require.NoError(t, err)

	assert.Equal(t, protocol.ImageWidth, img.Bounds().Dx())
	assert.Equal(t, protocol.ImageHeight, img.Bounds().Dy())

	assert.Equal(t, []byte{0xFF, 0xFF, 0xFF, 0xFF}, []byte(img.Pix[0:4]))
	assert.Equal(t, []byte{0xFF, 0x00, 0x00, 0xFF}, []byte(img.Pix[4:8]))
	assert.Equal(t, []byte{0x00, 0xFF, 0x00, 0xFF}, []byte(img.Pix[8:12]))
	assert.Equal(t, []byte{0x00, 0x00, 0xFF, 0xFF}, []byte(img.Pix[12:16]))

	// 5-bit 16 widens to 16<<3 | 16>>2 = 132.
	assert.Equal(t, byte(132), img.Pix[16])

	rowStart := protocol.ImageWidth * 4
	assert.Equal(t, byte(0xFF), img.Pix[rowStart])
}

func TestDecodeFrameRejectsBadLength(t *testing.T) {
	_, err := decodeFrame(make([]byte, protocol.FrameSize-2))
	assert.Error(t, err)

	_, err = decodeFrame(nil)
	assert.Error(t, err)
}

func TestSaveFrame(t *testing.T) {
	path := filepath.Join(t.TempDir(), "0000.png")

	buf := make([]byte, protocol.FrameSize)
	putPixel(buf, 0, 0xF800)

	require.NoError(t, saveFrame(buf, path))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, protocol.ImageWidth, img.Bounds().Dx())
	assert.Equal(t, protocol.ImageHeight, img.Bounds().Dy())

	r, g, b, _ := img.At(0, 0).RGBA()
	assert.Equal(t, uint32(0xFFFF), r)
	assert.Equal(t, uint32(0), g)
	assert.Equal(t, uint32(0), b)
}

func TestSaveFrameMissingDirectory(t *testing.T) {
	buf := make([]byte, protocol.FrameSize)
	err := saveFrame(buf, filepath.Join(t.TempDir(), "missing", "0000.png"))
	assert.Error(t, err)
}
