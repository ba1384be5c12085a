package imgutil

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/jpeg"
)

// Quality is the fixed compression level used for every re-encoded output.
const Quality = 90

var exifHeader = []byte("Exif\x00\x00")

// Raster is a re-encoded in-memory image ready for output or page layout.
type Raster struct {
	JPEG   []byte
	Width  int
	Height int
}

// EncodeJPEG re-encodes img at the fixed output quality. The encoder writes
// no metadata segments, so anything carried by the source is dropped here.
func EncodeJPEG(img image.Image) (Raster, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: Quality}); err != nil {
		return Raster{}, fmt.Errorf("encode jpeg: %w", err)
	}

	bounds := img.Bounds()
	return Raster{
		JPEG:   buf.Bytes(),
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}, nil
}

// EmbedExif inserts rawTIFF as an APP1 Exif segment directly after the SOI
// marker of jpegData. The segment payload is capped by the two-byte JPEG
// length field; oversized blocks are rejected rather than truncated.
func EmbedExif(jpegData, rawTIFF []byte) ([]byte, error) {
	if len(jpegData) < 2 || jpegData[0] != 0xff || jpegData[1] != 0xd8 {
		return nil, fmt.Errorf("invalid JPEG SOI")
	}
	if len(rawTIFF) == 0 {
		return jpegData, nil
	}

	payload := append(append([]byte{}, exifHeader...), rawTIFF...)
	segLen := len(payload) + 2
	if segLen > 0xffff {
		return nil, fmt.Errorf("exif block too large: %d bytes", len(rawTIFF))
	}

	var out bytes.Buffer
	out.Grow(len(jpegData) + segLen + 2)
	out.Write(jpegData[:2])
	out.Write([]byte{0xff, 0xe1})
	_ = binary.Write(&out, binary.BigEndian, uint16(segLen))
	out.Write(payload)
	out.Write(jpegData[2:])

	return out.Bytes(), nil
}

// StripExifPrefix removes the APP1 "Exif\0\0" lead-in when present, leaving
// the bare TIFF block that tag parsers and EmbedExif expect.
func StripExifPrefix(data []byte) []byte {
	if hasPrefix(data, exifHeader) {
		return data[len(exifHeader):]
	}
	return data
}
