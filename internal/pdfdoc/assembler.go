// Package pdfdoc assembles paginated documents from re-encoded rasters,
// one image per page, wrapping the gofpdf page-authoring capability.
package pdfdoc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/jung-kurt/gofpdf"

	"heifpress/pkg/imgutil"
)

var (
	// ErrUnavailable means the assembly capability could not be acquired.
	ErrUnavailable = errors.New("document assembly unavailable")
	// ErrNoPages means a document was finalized without a single page.
	ErrNoPages = errors.New("document has no pages")
)

// MMPerPixel converts image pixels to page millimeters for native-size
// pages (96 dpi: 25.4 / 96).
const MMPerPixel = 0.2646

// PageSize selects how each page is sized around its image.
type PageSize int

const (
	// PageNative sizes the page box to the image itself.
	PageNative PageSize = iota
	PageA4
	PageLetter
)

func (s PageSize) String() string {
	switch s {
	case PageA4:
		return "a4"
	case PageLetter:
		return "letter"
	default:
		return "native"
	}
}

// ParsePageSize maps a config string to a PageSize, defaulting to native.
func ParsePageSize(s string) PageSize {
	switch strings.ToLower(s) {
	case "a4":
		return PageA4
	case "letter":
		return PageLetter
	default:
		return PageNative
	}
}

// Standard physical preset dimensions in millimeters, portrait.
var presetDims = map[PageSize][2]float64{
	PageA4:     {210.0, 297.0},
	PageLetter: {215.9, 279.4},
}

// Placement records one page's box and where its image was drawn on it.
type Placement struct {
	PageW, PageH float64
	X, Y, W, H   float64
	Landscape    bool
}

// Layout computes the page box and centered image placement for an image
// of imgW x imgH pixels under the given page-size policy.
//
// Native pages adopt the image's own dimensions and orientation, drawn
// full bleed. Preset pages inscribe the image centered without cropping:
// a relatively wider image fits the page width and centers vertically, a
// relatively taller one fits the height and centers horizontally.
func Layout(imgW, imgH int, size PageSize) Placement {
	if size == PageNative {
		w := float64(imgW) * MMPerPixel
		h := float64(imgH) * MMPerPixel
		return Placement{PageW: w, PageH: h, W: w, H: h, Landscape: w > h}
	}

	dims := presetDims[size]
	pageW, pageH := dims[0], dims[1]
	imgRatio := float64(imgW) / float64(imgH)
	pageRatio := pageW / pageH

	pl := Placement{PageW: pageW, PageH: pageH}
	if imgRatio > pageRatio {
		pl.W = pageW
		pl.H = pageW / imgRatio
		pl.Y = (pageH - pl.H) / 2
	} else {
		pl.H = pageH
		pl.W = pageH * imgRatio
		pl.X = (pageW - pl.W) / 2
	}
	return pl
}

// Assembler creates documents laid out one raster per page.
type Assembler interface {
	Create(first imgutil.Raster, size PageSize) (Document, error)
}

// Document accumulates pages in supply order until written out.
type Document interface {
	Append(r imgutil.Raster) error
	PageCount() int
	Placements() []Placement
	io.WriterTo
}

// Provider hands out the assembler, acquiring it on first use.
type Provider interface {
	Get(ctx context.Context) (Assembler, error)
}

// Lazy acquires an Assembler exactly once and caches the outcome.
type Lazy struct {
	init func() (Assembler, error)
	once sync.Once
	asm  Assembler
	err  error
}

// NewLazy wraps init in a one-shot provider.
func NewLazy(init func() (Assembler, error)) *Lazy {
	return &Lazy{init: init}
}

func (l *Lazy) Get(ctx context.Context) (Assembler, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.once.Do(func() {
		l.asm, l.err = l.init()
		if l.err != nil {
			l.err = fmt.Errorf("%w: %v", ErrUnavailable, l.err)
		}
	})
	return l.asm, l.err
}

// Fpdf returns the production provider backed by gofpdf.
func Fpdf() *Lazy {
	return NewLazy(func() (Assembler, error) {
		return fpdfAssembler{}, nil
	})
}

type fpdfAssembler struct{}

func (fpdfAssembler) Create(first imgutil.Raster, size PageSize) (Document, error) {
	pdf := gofpdf.NewCustom(&gofpdf.InitType{OrientationStr: "P", UnitStr: "mm", Size: gofpdf.SizeType{Wd: 210, Ht: 297}})
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)

	doc := &fpdfDocument{pdf: pdf, size: size}
	if err := doc.Append(first); err != nil {
		return nil, err
	}
	return doc, nil
}

type fpdfDocument struct {
	pdf        *gofpdf.Fpdf
	size       PageSize
	placements []Placement
}

func (d *fpdfDocument) Append(r imgutil.Raster) error {
	if len(r.JPEG) == 0 || r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("append page: empty raster")
	}

	pl := Layout(r.Width, r.Height, d.size)
	// The page box already carries the chosen orientation in its
	// dimensions, so it is always added unrotated.
	d.pdf.AddPageFormat("P", gofpdf.SizeType{Wd: pl.PageW, Ht: pl.PageH})

	name := fmt.Sprintf("page-%d", len(d.placements)+1)
	opts := gofpdf.ImageOptions{ImageType: "JPEG"}
	d.pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(r.JPEG))
	d.pdf.ImageOptions(name, pl.X, pl.Y, pl.W, pl.H, false, opts, 0, "")

	if d.pdf.Err() {
		return fmt.Errorf("append page: %v", d.pdf.Error())
	}
	d.placements = append(d.placements, pl)
	return nil
}

func (d *fpdfDocument) PageCount() int { return len(d.placements) }

func (d *fpdfDocument) Placements() []Placement {
	return append([]Placement(nil), d.placements...)
}

func (d *fpdfDocument) WriteTo(w io.Writer) (int64, error) {
	if len(d.placements) == 0 {
		return 0, ErrNoPages
	}
	cw := &countingWriter{w: w}
	if err := d.pdf.Output(cw); err != nil {
		return cw.n, fmt.Errorf("write document: %w", err)
	}
	return cw.n, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// SingleFilename names a one-image document after its source file.
func SingleFilename(sourceName string) string {
	base := sourceName
	if i := strings.LastIndex(base, "."); i > 0 {
		base = base[:i]
	}
	return base + ".pdf"
}

// MergedFilename names a multi-image document; no single source name
// applies, so the name is timestamp-qualified.
func MergedFilename(t time.Time) string {
	return "merged-" + t.Format("20060102-150405") + ".pdf"
}
