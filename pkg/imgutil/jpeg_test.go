package imgutil

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/jpeg"
	"strings"
	"testing"

	exif "github.com/dsoprea/go-exif/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildTIFF assembles a minimal little-endian TIFF block carrying a
// camera model tag, enough to exercise the embed path.
func buildTIFF() []byte {
	var tiff bytes.Buffer
	tiff.Write([]byte{0x49, 0x49, 0x2a, 0x00})
	_ = binary.Write(&tiff, binary.LittleEndian, uint32(8))
	_ = binary.Write(&tiff, binary.LittleEndian, uint16(1))
	_ = binary.Write(&tiff, binary.LittleEndian, uint16(0x0110))
	_ = binary.Write(&tiff, binary.LittleEndian, uint16(2))
	_ = binary.Write(&tiff, binary.LittleEndian, uint32(8))
	_ = binary.Write(&tiff, binary.LittleEndian, uint32(26))
	_ = binary.Write(&tiff, binary.LittleEndian, uint32(0))
	tiff.Write([]byte("TestCam\x00"))
	return tiff.Bytes()
}

func TestEncodeJPEG(t *testing.T) {
	raster, err := EncodeJPEG(image.NewRGBA(image.Rect(0, 0, 20, 10)))
	require.NoError(t, err)

	assert.Equal(t, 20, raster.Width)
	assert.Equal(t, 10, raster.Height)

	decoded, err := jpeg.Decode(bytes.NewReader(raster.JPEG))
	require.NoError(t, err)
	assert.Equal(t, 20, decoded.Bounds().Dx())
	assert.Equal(t, 10, decoded.Bounds().Dy())
}

func TestEmbedExif(t *testing.T) {
	raster, err := EncodeJPEG(image.NewRGBA(image.Rect(0, 0, 4, 4)))
	require.NoError(t, err)

	tiff := buildTIFF()
	out, err := EmbedExif(raster.JPEG, tiff)
	require.NoError(t, err)

	// SOI, then the APP1 marker with the declared length.
	require.True(t, bytes.HasPrefix(out, []byte{0xff, 0xd8, 0xff, 0xe1}))
	segLen := int(binary.BigEndian.Uint16(out[4:6]))
	assert.Equal(t, len(tiff)+len(exifHeader)+2, segLen)
	assert.True(t, bytes.HasPrefix(out[6:], exifHeader))

	// Decoders must still accept the result.
	decoded, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 4, decoded.Bounds().Dx())

	// Metadata readers must find the block again.
	rawExif, err := exif.SearchAndExtractExif(out)
	require.NoError(t, err)
	tags, _, err := exif.GetFlatExifData(rawExif, nil)
	require.NoError(t, err)

	found := false
	for _, tag := range tags {
		if tag.TagName == "Model" {
			found = true
			assert.Equal(t, "TestCam", strings.TrimSpace(tag.Formatted))
		}
	}
	assert.True(t, found, "embedded model tag must be readable back")
}

func TestEmbedExifEmptyBlock(t *testing.T) {
	raster, err := EncodeJPEG(image.NewRGBA(image.Rect(0, 0, 2, 2)))
	require.NoError(t, err)

	out, err := EmbedExif(raster.JPEG, nil)
	require.NoError(t, err)
	assert.Equal(t, raster.JPEG, out)
}

func TestEmbedExifRejectsBadInput(t *testing.T) {
	_, err := EmbedExif([]byte{0x00, 0x01}, buildTIFF())
	assert.Error(t, err)

	raster, err := EncodeJPEG(image.NewRGBA(image.Rect(0, 0, 2, 2)))
	require.NoError(t, err)
	_, err = EmbedExif(raster.JPEG, make([]byte, 0x10000))
	assert.Error(t, err, "blocks beyond the segment length field must be rejected")
}

func TestStripExifPrefix(t *testing.T) {
	tiff := buildTIFF()
	prefixed := append([]byte("Exif\x00\x00"), tiff...)

	assert.Equal(t, tiff, StripExifPrefix(prefixed))
	assert.Equal(t, tiff, StripExifPrefix(tiff))
}
