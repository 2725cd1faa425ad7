package protocol

// Capture frame geometry, fixed by the device camera.
const (
	ImageWidth  = 320
	ImageHeight = 240

	// FrameSize is the byte length of one raw frame: 16-bit RGB565
	// little-endian pixels in row-major order.
	FrameSize = ImageWidth * ImageHeight * 2
)
