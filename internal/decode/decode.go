// Package decode is a thin façade over the HEIC decode capability. The
// capability is acquired once per process through a Lazy provider that
// caches both success and failure, so a broken environment is reported
// the same way on every item instead of being re-probed.
package decode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/jdeng/goheif"
)

var (
	// ErrUnavailable means the decode capability could not be acquired.
	ErrUnavailable = errors.New("decode capability unavailable")
	// ErrDecodeFailed means the source bytes are not a valid HEIC image.
	ErrDecodeFailed = errors.New("heic decode failed")
)

// Decoder turns proprietary source bytes into a standard raster image.
type Decoder interface {
	Decode(ctx context.Context, data []byte) (image.Image, error)
	// ExtractExif returns the raw TIFF metadata block embedded in the
	// source, or nil when the source carries none.
	ExtractExif(data []byte) ([]byte, error)
}

// Provider hands out the decoder, acquiring it on first use.
type Provider interface {
	Get(ctx context.Context) (Decoder, error)
}

// Lazy acquires a Decoder exactly once and caches the outcome.
type Lazy struct {
	init func() (Decoder, error)
	once sync.Once
	dec  Decoder
	err  error
}

// NewLazy wraps init in a one-shot provider. init runs at most once,
// on the first Get; later calls observe the cached result.
func NewLazy(init func() (Decoder, error)) *Lazy {
	return &Lazy{init: init}
}

func (l *Lazy) Get(ctx context.Context) (Decoder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.once.Do(func() {
		l.dec, l.err = l.init()
		if l.err != nil {
			l.err = fmt.Errorf("%w: %v", ErrUnavailable, l.err)
		}
	})
	return l.dec, l.err
}

// Heif returns the production provider backed by the goheif library.
func Heif() *Lazy {
	return NewLazy(func() (Decoder, error) {
		return heifDecoder{}, nil
	})
}

type heifDecoder struct{}

func (heifDecoder) Decode(ctx context.Context, data []byte) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, err := goheif.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	return img, nil
}

func (heifDecoder) ExtractExif(data []byte) ([]byte, error) {
	exif, err := goheif.ExtractExif(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("extract exif: %w", err)
	}
	return exif, nil
}
