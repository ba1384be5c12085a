package batch

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	exif "github.com/dsoprea/go-exif/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"heifpress/internal/decode"
	"heifpress/internal/pdfdoc"
	"heifpress/internal/transform"
)

// fakeDecoder interprets item bytes as "WxH" dimensions, or fails on
// the literal "bad".
type fakeDecoder struct {
	mu     sync.Mutex
	active int
	peak   int
}

func (f *fakeDecoder) Decode(ctx context.Context, data []byte) (image.Image, error) {
	f.mu.Lock()
	f.active++
	if f.active > f.peak {
		f.peak = f.active
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	time.Sleep(time.Millisecond)
	if string(data) == "bad" {
		return nil, fmt.Errorf("%w: synthetic corruption", decode.ErrDecodeFailed)
	}

	w, h := 8, 8
	_, _ = fmt.Sscanf(string(data), "%dx%d", &w, &h)
	return image.NewRGBA(image.Rect(0, 0, w, h)), nil
}

func (f *fakeDecoder) ExtractExif(data []byte) ([]byte, error) {
	return nil, errors.New("no exif")
}

func fakeProvider() *decode.Lazy {
	return decode.NewLazy(func() (decode.Decoder, error) {
		return &fakeDecoder{}, nil
	})
}

func downProvider() *decode.Lazy {
	return decode.NewLazy(func() (decode.Decoder, error) {
		return nil, errors.New("module load failed")
	})
}

// memSink captures outputs in memory, keeping assembled documents
// introspectable.
type memSink struct {
	mu      sync.Mutex
	order   []string
	rasters map[string][]byte
	docs    map[string]pdfdoc.Document
}

func newMemSink() *memSink {
	return &memSink{rasters: make(map[string][]byte), docs: make(map[string]pdfdoc.Document)}
}

func (s *memSink) SaveRaster(name string, jpeg []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = append(s.order, name)
	s.rasters[name] = jpeg
	return nil
}

func (s *memSink) SaveDocument(name string, doc io.WriterTo) error {
	var buf bytes.Buffer
	if _, err := doc.WriteTo(&buf); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = append(s.order, name)
	if d, ok := doc.(pdfdoc.Document); ok {
		s.docs[name] = d
	}
	return nil
}

func hasNotice(s Summary, fragment string) bool {
	for _, notice := range s.Notices {
		if strings.Contains(notice, fragment) {
			return true
		}
	}
	return false
}

func testDeps(sink Sink) Deps {
	return Deps{
		Decoder: fakeProvider(),
		Docs:    pdfdoc.Fpdf(),
		Sink:    sink,
		Now:     func() time.Time { return time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC) },
	}
}

func TestRunAllRasterSingleGroup(t *testing.T) {
	// Three raster items and group size three: one group, three
	// download events, no document.
	b := New(Config{DefaultKind: KindRaster})
	b.Add("a.heic", []byte("10x10"))
	b.Add("b.heic", []byte("20x10"))
	b.Add("c.heic", []byte("10x20"))

	sink := newMemSink()
	summary, err := b.Run(context.Background(), testDeps(sink))
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 3, summary.Done)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 3, summary.Rasters)
	assert.Equal(t, 0, summary.Docs)
	assert.Empty(t, summary.Notices)

	assert.Len(t, sink.rasters, 3)
	assert.Contains(t, sink.rasters, "a.jpeg")
	assert.Contains(t, sink.rasters, "b.jpeg")
	assert.Contains(t, sink.rasters, "c.jpeg")
	assert.Empty(t, sink.docs)

	for _, view := range b.Snapshot() {
		assert.Equal(t, StateDone, view.State)
		assert.Equal(t, 100, view.Percent)
	}
}

func TestRunMergedSkipsFailedSlot(t *testing.T) {
	// Five merged items with the third failing decode: one document of
	// four pages in original order and one partial-failure notice.
	b := New(Config{DefaultKind: KindDocument, Mode: ModeMerged})
	b.Add("p1.heic", []byte("100x10"))
	b.Add("p2.heic", []byte("200x10"))
	b.Add("p3.heic", []byte("bad"))
	b.Add("p4.heic", []byte("300x10"))
	b.Add("p5.heic", []byte("400x10"))

	sink := newMemSink()
	summary, err := b.Run(context.Background(), testDeps(sink))
	require.NoError(t, err)

	assert.Equal(t, 4, summary.Done)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Docs)

	doc, ok := sink.docs["merged-20260831-120000.pdf"]
	require.True(t, ok, "merged filename is timestamp-qualified, got %v", sink.order)
	require.Equal(t, 4, doc.PageCount())

	// Native page widths mirror the source widths, proving page order
	// equals input order with the failed slot omitted.
	widths := []float64{}
	for _, pl := range doc.Placements() {
		widths = append(widths, pl.PageW)
	}
	expected := []float64{100, 200, 300, 400}
	require.Len(t, widths, 4)
	for i, w := range expected {
		assert.InDelta(t, w*pdfdoc.MMPerPixel, widths[i], 0.0001)
	}

	require.NotEmpty(t, summary.Notices)
	assert.Contains(t, summary.Notices[0], "left out of the merged document")
}

func TestRunMergedNothingToMerge(t *testing.T) {
	b := New(Config{DefaultKind: KindDocument, Mode: ModeMerged})
	b.Add("p1.heic", []byte("bad"))
	b.Add("p2.heic", []byte("bad"))

	sink := newMemSink()
	summary, err := b.Run(context.Background(), testDeps(sink))
	require.NoError(t, err)

	assert.Equal(t, 0, summary.Docs)
	assert.Empty(t, sink.order, "a fully failing merge group produces no file")

	assert.True(t, hasNotice(summary, "nothing to merge"), "notices: %v", summary.Notices)
}

func TestRunMergedSingleItemUsesSourceName(t *testing.T) {
	b := New(Config{DefaultKind: KindDocument, Mode: ModeMerged})
	b.Add("only.heic", []byte("10x10"))

	sink := newMemSink()
	summary, err := b.Run(context.Background(), testDeps(sink))
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Done)
	assert.Contains(t, sink.docs, "only.pdf")
}

func TestRunSeparateIsolatesFailures(t *testing.T) {
	b := New(Config{DefaultKind: KindDocument, Mode: ModeSeparate})
	b.Add("a.heic", []byte("10x10"))
	b.Add("b.heic", []byte("bad"))
	b.Add("c.heic", []byte("10x10"))

	sink := newMemSink()
	summary, err := b.Run(context.Background(), testDeps(sink))
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Done)
	assert.Equal(t, 1, summary.Failed)
	assert.Contains(t, sink.docs, "a.pdf")
	assert.Contains(t, sink.docs, "c.pdf")
	assert.NotContains(t, sink.docs, "b.pdf")

	for _, view := range b.Snapshot() {
		if view.Name == "b.heic" {
			assert.Equal(t, StateFailed, view.State)
			assert.Less(t, view.Percent, 100)
		} else {
			assert.Equal(t, StateDone, view.State, "%s must be untouched by its sibling's failure", view.Name)
			assert.Equal(t, 100, view.Percent)
		}
	}
}

func TestRunMixedPartitions(t *testing.T) {
	b := New(Config{DefaultKind: KindRaster, Mode: ModeMerged})
	b.Add("r1.heic", []byte("10x10"))
	b.Add("d1.heic", []byte("10x10"))
	b.Add("d2.heic", []byte("20x20"))
	b.AssignByName("d1.heic", KindDocument)
	b.AssignByName("d2.heic", KindDocument)

	sink := newMemSink()
	summary, err := b.Run(context.Background(), testDeps(sink))
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Done)
	assert.Equal(t, 1, summary.Rasters)
	assert.Equal(t, 1, summary.Docs)
	assert.Contains(t, sink.rasters, "r1.jpeg")

	doc := sink.docs["merged-20260831-120000.pdf"]
	require.NotNil(t, doc)
	assert.Equal(t, 2, doc.PageCount())
}

func TestRunGroupBoundsConcurrency(t *testing.T) {
	// Groups settle as a whole before the next one starts, so peak
	// concurrency never exceeds the group size. A stalled item would
	// stall the start of the next group: that is the accepted
	// trade-off of group scheduling, not a defect.
	b := New(Config{DefaultKind: KindRaster, GroupSize: 2})
	for i := 0; i < 6; i++ {
		b.Add(fmt.Sprintf("f%d.heic", i), []byte("10x10"))
	}

	dec := &fakeDecoder{}
	deps := testDeps(newMemSink())
	deps.Decoder = decode.NewLazy(func() (decode.Decoder, error) { return dec, nil })

	summary, err := b.Run(context.Background(), deps)
	require.NoError(t, err)

	assert.Equal(t, 6, summary.Done)
	assert.LessOrEqual(t, dec.peak, 2, "concurrency must stay within the group size")
}

func TestRunDecodeUnavailableFailsRemainingWork(t *testing.T) {
	b := New(Config{DefaultKind: KindRaster})
	for i := 0; i < 5; i++ {
		b.Add(fmt.Sprintf("f%d.heic", i), []byte("10x10"))
	}

	sink := newMemSink()
	deps := testDeps(sink)
	deps.Decoder = downProvider()

	summary, err := b.Run(context.Background(), deps)
	require.NoError(t, err)

	assert.Equal(t, 0, summary.Done)
	assert.Equal(t, 5, summary.Failed)
	assert.Empty(t, sink.order)

	assert.True(t, hasNotice(summary, "decode capability unavailable"), "notices: %v", summary.Notices)
}

func TestRunAssemblyUnavailableKeepsRasterResults(t *testing.T) {
	b := New(Config{DefaultKind: KindRaster})
	b.Add("keep.heic", []byte("10x10"))
	b.Add("doc.heic", []byte("10x10"))
	b.AssignByName("doc.heic", KindDocument)

	sink := newMemSink()
	deps := testDeps(sink)
	deps.Docs = pdfdoc.NewLazy(func() (pdfdoc.Assembler, error) {
		return nil, errors.New("library missing")
	})

	summary, err := b.Run(context.Background(), deps)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Done)
	assert.Equal(t, 1, summary.Failed)
	assert.Contains(t, sink.rasters, "keep.jpeg", "raster outputs survive a document capability failure")
	assert.Empty(t, sink.docs)
}

func TestRunProgressMonotonicAndCompleteOnlyOnDone(t *testing.T) {
	b := New(Config{DefaultKind: KindRaster})
	b.Add("good.heic", []byte("10x10"))
	b.Add("bad.heic", []byte("bad"))

	updates := make(chan ProgressUpdate, 128)
	collected := []ProgressUpdate{}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for u := range updates {
			collected = append(collected, u)
		}
	}()

	deps := testDeps(newMemSink())
	deps.Updates = updates

	_, err := b.Run(context.Background(), deps)
	require.NoError(t, err)
	close(updates)
	<-done

	last := map[string]int{}
	reached := map[string]int{}
	for _, u := range collected {
		assert.GreaterOrEqual(t, u.Percent, last[u.Item], "progress for %s went backwards", u.Item)
		last[u.Item] = u.Percent
		if u.Percent > reached[u.Item] {
			reached[u.Item] = u.Percent
		}
	}
	assert.Equal(t, 100, reached["good.heic"])
	assert.Less(t, reached["bad.heic"], 100, "failed items never report completion")
}

// exifDecoder hands back a prefixed EXIF block alongside the decoded
// image, the shape real HEIC containers produce.
type exifDecoder struct{}

func (exifDecoder) Decode(ctx context.Context, data []byte) (image.Image, error) {
	return image.NewRGBA(image.Rect(0, 0, 6, 6)), nil
}

func (exifDecoder) ExtractExif(data []byte) ([]byte, error) {
	return append([]byte("Exif\x00\x00"), modelTIFF()...), nil
}

// modelTIFF is a little-endian TIFF block carrying one camera model tag.
func modelTIFF() []byte {
	var tiff bytes.Buffer
	tiff.Write([]byte{0x49, 0x49, 0x2a, 0x00})
	_ = binary.Write(&tiff, binary.LittleEndian, uint32(8))
	_ = binary.Write(&tiff, binary.LittleEndian, uint16(1))
	_ = binary.Write(&tiff, binary.LittleEndian, uint16(0x0110))
	_ = binary.Write(&tiff, binary.LittleEndian, uint16(2))
	_ = binary.Write(&tiff, binary.LittleEndian, uint32(8))
	_ = binary.Write(&tiff, binary.LittleEndian, uint32(26))
	_ = binary.Write(&tiff, binary.LittleEndian, uint32(0))
	tiff.Write([]byte("KeepCam\x00"))
	return tiff.Bytes()
}

func TestRunKeepMetadataCarriesExif(t *testing.T) {
	b := New(Config{
		DefaultKind: KindRaster,
		Transform:   transform.Config{KeepMetadata: true},
	})
	b.Add("shot.heic", []byte("x"))

	sink := newMemSink()
	deps := testDeps(sink)
	deps.Decoder = decode.NewLazy(func() (decode.Decoder, error) { return exifDecoder{}, nil })

	summary, err := b.Run(context.Background(), deps)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Done)

	out := sink.rasters["shot.jpeg"]
	require.NotEmpty(t, out)
	require.True(t, bytes.HasPrefix(out, []byte{0xff, 0xd8, 0xff, 0xe1}), "output must open with SOI then APP1")

	rawExif, err := exif.SearchAndExtractExif(out)
	require.NoError(t, err)
	tags, _, err := exif.GetFlatExifData(rawExif, nil)
	require.NoError(t, err)

	found := false
	for _, tag := range tags {
		if tag.TagName == "Model" {
			found = true
			assert.Equal(t, "KeepCam", strings.TrimSpace(tag.Formatted))
		}
	}
	assert.True(t, found, "source model tag must survive into the saved JPEG")
}

func TestCapabilityGating(t *testing.T) {
	r := &runState{}
	assert.NoError(t, r.down(false))
	assert.NoError(t, r.down(true))

	r.docsDown = errors.New("assembler gone")
	assert.NoError(t, r.down(false), "raster partitions ignore assembly failures")
	assert.Error(t, r.down(true), "document partitions stop when assembly is down")

	r.decodeDown = errors.New("decoder gone")
	assert.Error(t, r.down(false), "decode failures gate every partition")
}

// slowDecoder parks every Decode until released, so the test can mutate
// the batch while a pipeline is in flight.
type slowDecoder struct {
	started chan struct{}
	release chan struct{}
}

func (d *slowDecoder) Decode(ctx context.Context, data []byte) (image.Image, error) {
	d.started <- struct{}{}
	<-d.release
	return image.NewRGBA(image.Rect(0, 0, 4, 4)), nil
}

func (d *slowDecoder) ExtractExif(data []byte) ([]byte, error) {
	return nil, errors.New("no exif")
}

func TestRunDiscardsRemovedItemResult(t *testing.T) {
	b := New(Config{DefaultKind: KindRaster})
	id := b.Add("gone.heic", []byte("x"))

	dec := &slowDecoder{started: make(chan struct{}), release: make(chan struct{})}
	sink := newMemSink()
	deps := testDeps(sink)
	deps.Decoder = decode.NewLazy(func() (decode.Decoder, error) { return dec, nil })

	runDone := make(chan Summary)
	go func() {
		summary, err := b.Run(context.Background(), deps)
		assert.NoError(t, err)
		runDone <- summary
	}()

	<-dec.started
	require.True(t, b.Remove(id))
	close(dec.release)

	summary := <-runDone
	assert.Equal(t, 0, summary.Done)
	assert.Empty(t, sink.order, "results of removed items are discarded")
	_, tracked := b.Progress(id)
	assert.False(t, tracked)
}

func TestRunCancelledContext(t *testing.T) {
	b := New(Config{DefaultKind: KindRaster})
	b.Add("a.heic", []byte("10x10"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Run(ctx, testDeps(newMemSink()))
	assert.ErrorIs(t, err, context.Canceled)
}
