package camera

import (
	"bytes"
	"fmt"
)

// Image formats recognized by DetectImage.
const (
	ImageJPEG = "jpeg"
	ImagePNG  = "png"
	ImageGIF  = "gif"
)

var (
	magicJPEG = []byte{0xFF, 0xD8}
	magicPNG  = []byte{0x89, 0x50, 0x4E, 0x47}
	magicGIF  = []byte{0x47, 0x49, 0x46}
)

// DetectImage returns the image format of b by its magic bytes, or "".
func DetectImage(b []byte) string {
	switch {
	case bytes.HasPrefix(b, magicJPEG):
		return ImageJPEG
	case bytes.HasPrefix(b, magicPNG):
		return ImagePNG
	case bytes.HasPrefix(b, magicGIF):
		return ImageGIF
	default:
		return ""
	}
}

// ValidateImage returns a protocol error unless b starts with JPEG, PNG or
// GIF magic bytes.
func ValidateImage(strategy string, b []byte) error {
	if len(b) == 0 {
		return NewError(ErrCodeProtocol, strategy, "snapshot", "empty snapshot body", nil)
	}
	if DetectImage(b) == "" {
		n := len(b)
		if n > 4 {
			n = 4
		}
		return NewError(ErrCodeProtocol, strategy, "snapshot",
			fmt.Sprintf("response is not an image (leading bytes % x)", b[:n]), nil)
	}
	return nil
}
