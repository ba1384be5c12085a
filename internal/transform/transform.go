// Package transform applies the batch-wide resize/crop policy to decoded
// images before they are re-encoded for output or page layout.
package transform

import (
	"image"
	"image/draw"
	"log"
	"math"

	"github.com/nfnt/resize"
)

// Fit selects how a source is mapped onto the target dimensions.
type Fit int

const (
	// FitBounded scales down to fit within the target, never upsampling.
	FitBounded Fit = iota
	// FitCrop fills the exact target box, center-cropping the overflow.
	FitCrop
	// FitStretch fills the exact target box, ignoring aspect ratio.
	FitStretch
)

func (f Fit) String() string {
	switch f {
	case FitCrop:
		return "crop"
	case FitStretch:
		return "stretch"
	default:
		return "bounded"
	}
}

// ParseFit maps a config string to a Fit, defaulting to bounded.
func ParseFit(s string) Fit {
	switch s {
	case "crop":
		return FitCrop
	case "stretch":
		return FitStretch
	default:
		return FitBounded
	}
}

// Config is the batch-wide transform policy. A zero Width and Height
// means no resampling at all.
type Config struct {
	Width  int
	Height int
	Fit    Fit
	// KeepMetadata re-embeds source EXIF into the output; when false the
	// re-encode path drops it by construction.
	KeepMetadata bool
}

func (c Config) passthrough() bool {
	return c.Width <= 0 && c.Height <= 0
}

// Apply resizes img per cfg. With no target dimensions the input is
// returned unchanged so untouched batches avoid a resample pass. Apply
// fails soft: an unusable source or config yields the original image.
func Apply(img image.Image, cfg Config) image.Image {
	if img == nil || cfg.passthrough() {
		return img
	}

	srcW := img.Bounds().Dx()
	srcH := img.Bounds().Dy()
	if srcW <= 0 || srcH <= 0 {
		log.Printf("transform: empty source image, keeping original")
		return img
	}

	switch cfg.Fit {
	case FitCrop:
		return applyCrop(img, srcW, srcH, cfg)
	case FitStretch:
		return applyStretch(img, srcW, srcH, cfg)
	default:
		return applyBounded(img, srcW, srcH, cfg)
	}
}

// applyBounded scales by min(widthRatio, heightRatio, 1); missing
// dimensions drop out of the minimum. Output dims floor toward zero.
func applyBounded(img image.Image, srcW, srcH int, cfg Config) image.Image {
	scale := 1.0
	if cfg.Width > 0 {
		scale = math.Min(scale, float64(cfg.Width)/float64(srcW))
	}
	if cfg.Height > 0 {
		scale = math.Min(scale, float64(cfg.Height)/float64(srcH))
	}
	if scale >= 1 {
		return img
	}

	outW := int(math.Floor(float64(srcW) * scale))
	outH := int(math.Floor(float64(srcH) * scale))
	if outW < 1 || outH < 1 {
		log.Printf("transform: bounded target %dx%d collapses source, keeping original", cfg.Width, cfg.Height)
		return img
	}
	return resize.Resize(uint(outW), uint(outH), img, resize.Lanczos3)
}

// applyCrop scales by max(widthRatio, heightRatio) and center-crops to
// the exact target box. A missing dimension defaults to the source's.
func applyCrop(img image.Image, srcW, srcH int, cfg Config) image.Image {
	targetW := cfg.Width
	if targetW <= 0 {
		targetW = srcW
	}
	targetH := cfg.Height
	if targetH <= 0 {
		targetH = srcH
	}

	scale := math.Max(float64(targetW)/float64(srcW), float64(targetH)/float64(srcH))
	scaledW := int(math.Round(float64(srcW) * scale))
	scaledH := int(math.Round(float64(srcH) * scale))
	if scaledW < targetW {
		scaledW = targetW
	}
	if scaledH < targetH {
		scaledH = targetH
	}
	scaled := resize.Resize(uint(scaledW), uint(scaledH), img, resize.Lanczos3)

	// Offsets are <= 0: the scaled image overhangs the target box.
	offX := (targetW - scaledW) / 2
	offY := (targetH - scaledH) / 2

	out := image.NewRGBA(image.Rect(0, 0, targetW, targetH))
	draw.Draw(out, out.Bounds(), scaled, image.Pt(-offX, -offY), draw.Src)
	return out
}

// applyStretch maps the source onto the exact target box without
// preserving aspect ratio.
func applyStretch(img image.Image, srcW, srcH int, cfg Config) image.Image {
	targetW := cfg.Width
	if targetW <= 0 {
		targetW = srcW
	}
	targetH := cfg.Height
	if targetH <= 0 {
		targetH = srcH
	}
	return resize.Resize(uint(targetW), uint(targetH), img, resize.Lanczos3)
}
