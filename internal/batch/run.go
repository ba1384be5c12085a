package batch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"heifpress/internal/decode"
	"heifpress/internal/pdfdoc"
	"heifpress/internal/transform"
	"heifpress/pkg/imgutil"
)

// Deps are the external collaborators a run needs: the two lazily
// acquired capabilities, the output boundary, and an optional progress
// channel for the shell.
type Deps struct {
	Decoder decode.Provider
	Docs    pdfdoc.Provider
	Sink    Sink
	Updates chan<- ProgressUpdate
	// Now stamps merged-document filenames; nil means time.Now.
	Now func() time.Time
}

type planItem struct {
	id   ItemID
	name string
	data []byte
}

// runState is the bookkeeping shared by one Run invocation.
type runState struct {
	deps Deps
	cfg  Config

	mu         sync.Mutex
	summary    Summary
	decodeDown error
	docsDown   error
}

// Run partitions the current items by resolved output kind and document
// mode, then processes the partitions in fixed order: raster-only,
// document-separate, document-merged. The first two run in concurrency
// groups of the configured size; the merged partition is strictly
// sequential so page order matches input order.
//
// Run returns an error only when ctx is cancelled; item failures are
// recorded per item and reflected in the summary.
func (b *Batch) Run(ctx context.Context, deps Deps) (Summary, error) {
	if deps.Now == nil {
		deps.Now = time.Now
	}

	rasters, separate, merged, cfg := b.plan(deps.Updates)
	r := &runState{deps: deps, cfg: cfg}
	r.summary.Total = len(rasters) + len(separate) + len(merged)

	scheduled := make([]ItemID, 0, r.summary.Total)
	for _, part := range [][]planItem{rasters, separate, merged} {
		for _, it := range part {
			scheduled = append(scheduled, it.id)
		}
	}

	if err := b.runGrouped(ctx, r, rasters, false); err != nil {
		return b.summarize(r, scheduled), err
	}
	if err := b.runGrouped(ctx, r, separate, true); err != nil {
		return b.summarize(r, scheduled), err
	}
	if err := b.runMerged(ctx, r, merged); err != nil {
		return b.summarize(r, scheduled), err
	}
	return b.summarize(r, scheduled), nil
}

// plan snapshots the pending items into the three disjoint partitions
// and marks every scheduled item Queued.
func (b *Batch) plan(updates chan<- ProgressUpdate) (rasters, separate, merged []planItem, cfg Config) {
	b.mu.Lock()
	cfg = b.cfg
	names := make([]string, 0, len(b.items))
	for _, it := range b.items {
		kind := b.router.Resolve(it.id)
		b.states[it.id] = StateQueued
		b.progress[it.id] = pctQueued
		names = append(names, it.name)

		pi := planItem{id: it.id, name: it.name, data: it.data}
		switch {
		case kind == KindRaster:
			rasters = append(rasters, pi)
		case cfg.Mode == ModeMerged:
			merged = append(merged, pi)
		default:
			separate = append(separate, pi)
		}
	}
	b.mu.Unlock()

	if updates != nil {
		for _, name := range names {
			updates <- ProgressUpdate{Item: name, State: StateQueued, Percent: pctQueued, TotalDelta: 1}
		}
	}
	return rasters, separate, merged, cfg
}

// runGrouped launches each group of pipelines concurrently and waits
// for the whole group to settle before starting the next. A stalled
// item therefore stalls the start of the next group; that trade-off
// bounds peak decoder and memory usage.
func (b *Batch) runGrouped(ctx context.Context, r *runState, items []planItem, docs bool) error {
	size := r.cfg.GroupSize
	for start := 0; start < len(items); start += size {
		if err := ctx.Err(); err != nil {
			return err
		}
		if down := r.down(docs); down != nil {
			b.failRemaining(r, items[start:], down)
			return nil
		}

		end := min(start+size, len(items))
		var wg sync.WaitGroup
		for _, it := range items[start:end] {
			wg.Add(1)
			go func(it planItem) {
				defer wg.Done()
				raster, err := b.convert(ctx, r, it, docs)
				if err != nil {
					r.noteCapability(err)
					b.fail(it.id, err, r.deps.Updates)
					return
				}
				if docs {
					b.finalizeSeparate(ctx, r, it, raster)
				} else {
					b.finalizeRaster(r, it, raster)
				}
			}(it)
		}
		wg.Wait()
	}
	return nil
}

// convert runs the decode and transform stages shared by every
// pipeline, returning the re-encoded raster. Only the encoded bytes
// leave this function; the decoded pixel buffers are dropped as soon as
// encoding finishes.
func (b *Batch) convert(ctx context.Context, r *runState, it planItem, assembling bool) (imgutil.Raster, error) {
	b.advance(it.id, StateDecoding, pctQueued, r.deps.Updates)

	dec, err := r.deps.Decoder.Get(ctx)
	if err != nil {
		return imgutil.Raster{}, err
	}
	img, err := dec.Decode(ctx, it.data)
	if err != nil {
		return imgutil.Raster{}, err
	}
	b.advance(it.id, StateTransforming, pctDecoded, r.deps.Updates)

	var rawExif []byte
	if r.cfg.Transform.KeepMetadata {
		if data, exifErr := dec.ExtractExif(it.data); exifErr == nil {
			rawExif = imgutil.StripExifPrefix(data)
		} else {
			log.Printf("batch: %s: no metadata carried over: %v", it.name, exifErr)
		}
	}

	out := transform.Apply(img, r.cfg.Transform)
	next := StateEncoding
	if assembling {
		next = StateAssembling
	}
	b.advance(it.id, next, pctTransformed, r.deps.Updates)

	raster, err := imgutil.EncodeJPEG(out)
	if err != nil {
		return imgutil.Raster{}, fmt.Errorf("encode %s: %w", it.name, err)
	}
	if len(rawExif) > 0 {
		if withExif, embedErr := imgutil.EmbedExif(raster.JPEG, rawExif); embedErr == nil {
			raster.JPEG = withExif
		} else {
			log.Printf("batch: %s: keeping stripped output: %v", it.name, embedErr)
		}
	}
	return raster, nil
}

func (b *Batch) finalizeRaster(r *runState, it planItem, raster imgutil.Raster) {
	b.advance(it.id, StateEncoding, pctFinalizing, r.deps.Updates)
	if !b.alive(it.id) {
		return // removed mid-flight; result discarded
	}

	name := rasterFilename(it.name)
	if err := r.deps.Sink.SaveRaster(name, raster.JPEG); err != nil {
		b.fail(it.id, fmt.Errorf("save %s: %w", name, err), r.deps.Updates)
		return
	}
	r.addOutput(name, KindRaster)
	b.finish(it.id, 1, r.deps.Updates)
}

func (b *Batch) finalizeSeparate(ctx context.Context, r *runState, it planItem, raster imgutil.Raster) {
	asm, err := r.deps.Docs.Get(ctx)
	if err != nil {
		r.noteCapability(err)
		b.fail(it.id, err, r.deps.Updates)
		return
	}

	doc, err := asm.Create(raster, r.cfg.PageSize)
	if err != nil {
		b.fail(it.id, fmt.Errorf("assemble %s: %w", it.name, err), r.deps.Updates)
		return
	}
	b.advance(it.id, StateAssembling, pctFinalizing, r.deps.Updates)
	if !b.alive(it.id) {
		return
	}

	name := pdfdoc.SingleFilename(it.name)
	if err := r.deps.Sink.SaveDocument(name, doc); err != nil {
		b.fail(it.id, fmt.Errorf("save %s: %w", name, err), r.deps.Updates)
		return
	}
	r.addOutput(name, KindDocument)
	b.finish(it.id, 1, r.deps.Updates)
}

// runMerged processes the merge group sequentially in input order. A
// failing item's slot is omitted from the page sequence and noted once
// at batch level; an empty sequence produces no file at all.
func (b *Batch) runMerged(ctx context.Context, r *runState, items []planItem) error {
	if len(items) == 0 {
		return nil
	}

	var pages []imgutil.Raster
	var pageIDs []ItemID
	firstName := ""
	skipped := 0

	for i := 0; i < len(items); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if down := r.down(true); down != nil {
			b.failRemaining(r, items[i:], down)
			break
		}

		it := items[i]
		raster, err := b.convert(ctx, r, it, true)
		if err != nil {
			r.noteCapability(err)
			b.fail(it.id, err, r.deps.Updates)
			skipped++
			continue
		}
		if !b.alive(it.id) {
			continue // removed mid-flight; slot omitted
		}
		b.advance(it.id, StateAssembling, pctFinalizing, r.deps.Updates)
		if firstName == "" {
			firstName = it.name
		}
		pages = append(pages, raster)
		pageIDs = append(pageIDs, it.id)
	}

	if skipped > 0 {
		r.addNotice(fmt.Sprintf("%d file(s) could not be converted and were left out of the merged document", skipped))
	}
	if len(pages) == 0 {
		r.addNotice("nothing to merge: no file in the merge group converted successfully")
		return nil
	}

	asm, err := r.deps.Docs.Get(ctx)
	if err == nil {
		var doc pdfdoc.Document
		doc, err = asm.Create(pages[0], r.cfg.PageSize)
		if err == nil {
			for _, page := range pages[1:] {
				if err = doc.Append(page); err != nil {
					break
				}
			}
		}
		if err == nil {
			name := pdfdoc.MergedFilename(r.deps.Now())
			if len(pages) == 1 {
				name = pdfdoc.SingleFilename(firstName)
			}
			if err = r.deps.Sink.SaveDocument(name, doc); err == nil {
				r.addOutput(name, KindDocument)
				for i, id := range pageIDs {
					outputs := 0
					if i == 0 {
						outputs = 1
					}
					b.finish(id, outputs, r.deps.Updates)
				}
				return nil
			}
		}
	}

	// Failure here is fatal only to the merged document itself.
	r.noteCapability(err)
	r.addNotice("merged document not created: " + err.Error())
	for _, id := range pageIDs {
		b.fail(id, err, r.deps.Updates)
	}
	return nil
}

// failRemaining marks unscheduled items failed without running them.
// Groups that already settled keep their results.
func (b *Batch) failRemaining(r *runState, items []planItem, cause error) {
	for _, it := range items {
		b.fail(it.id, cause, r.deps.Updates)
	}
}

func (b *Batch) summarize(r *runState, scheduled []ItemID) Summary {
	r.mu.Lock()
	s := r.summary
	s.Outputs = append([]string(nil), r.summary.Outputs...)
	s.Notices = append([]string(nil), r.summary.Notices...)
	r.mu.Unlock()

	for _, id := range scheduled {
		switch b.state(id) {
		case StateDone:
			s.Done++
		case StateFailed:
			s.Failed++
		}
	}
	if s.Failed > 0 {
		s.Notices = append(s.Notices, fmt.Sprintf("%d of %d files failed to convert", s.Failed, s.Total))
	}
	return s
}

func (r *runState) noteCapability(err error) {
	if err == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if errors.Is(err, decode.ErrUnavailable) && r.decodeDown == nil {
		r.decodeDown = err
		r.summary.Notices = append(r.summary.Notices, "decode capability unavailable; remaining work was skipped")
	}
	if errors.Is(err, pdfdoc.ErrUnavailable) && r.docsDown == nil {
		r.docsDown = err
		r.summary.Notices = append(r.summary.Notices, "document assembly unavailable; remaining document work was skipped")
	}
}

// down reports whether a required capability has already failed. The
// decode capability gates every partition; assembly only gates the
// document ones.
func (r *runState) down(needDocs bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.decodeDown != nil {
		return r.decodeDown
	}
	if needDocs && r.docsDown != nil {
		return r.docsDown
	}
	return nil
}

func (r *runState) addOutput(name string, kind OutputKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary.Outputs = append(r.summary.Outputs, name)
	if kind == KindDocument {
		r.summary.Docs++
	} else {
		r.summary.Rasters++
	}
}

func (r *runState) addNotice(notice string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary.Notices = append(r.summary.Notices, notice)
}

func rasterFilename(source string) string {
	base := source
	if i := strings.LastIndex(base, "."); i > 0 {
		base = base[:i]
	}
	return base + ".jpeg"
}
