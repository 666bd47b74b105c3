package detection

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// PipelineConfig wires the models and limits of a Pipeline.
type PipelineConfig struct {
	Detector   Detector
	Classifier Classifier
	Annotator  Annotator
	Suppressor *Suppressor

	// Workers bounds per-image work inside one batch.
	Workers int
	// Capacity bounds concurrent model invocations across all batches.
	Capacity int64

	Clock  func() time.Time
	Logger *slog.Logger
}

// Pipeline turns image batches into per-image results.
type Pipeline struct {
	detector   Detector
	classifier Classifier
	annotator  Annotator
	suppressor Suppressor
	workers    int
	inference  *semaphore.Weighted
	now        func() time.Time
	logger     *slog.Logger
}

// NewPipeline creates a pipeline. Models are shared and must be safe for concurrent use.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	suppressor := DefaultSuppressor()
	if cfg.Suppressor != nil {
		suppressor = *cfg.Suppressor
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = int64(workers)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Pipeline{
		detector:   cfg.Detector,
		classifier: cfg.Classifier,
		annotator:  cfg.Annotator,
		suppressor: suppressor,
		workers:    workers,
		inference:  semaphore.NewWeighted(capacity),
		now:        clock,
		logger:     logger,
	}
}

// Process runs detection, suppression, classification and rendering over a batch.
// Results match the input length and order. Any model failure aborts the whole
// batch with an *InferenceError and no partial results.
func (p *Pipeline) Process(ctx context.Context, images []Image) ([]Result, error) {
	if len(images) == 0 {
		return []Result{}, nil
	}
	createdAt := p.now()

	raws, err := p.detect(ctx, images)
	if err != nil {
		return nil, err
	}

	results := make([]Result, len(images))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i := range images {
		g.Go(func() error {
			res, err := p.processOne(gctx, images[i], raws[i])
			if err != nil {
				return err
			}
			res.CreatedAt = createdAt
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	p.logger.Debug("batch processed", "images", len(images))
	return results, nil
}

func (p *Pipeline) detect(ctx context.Context, images []Image) ([]RawDetectionSet, error) {
	if err := p.inference.Acquire(ctx, 1); err != nil {
		return nil, &InferenceError{Stage: StageDetect, Err: err}
	}
	defer p.inference.Release(1)

	raws, err := p.detector.Detect(ctx, images)
	if err != nil {
		return nil, &InferenceError{Stage: StageDetect, Err: err}
	}
	if len(raws) != len(images) {
		return nil, &InferenceError{
			Stage: StageDetect,
			Err:   fmt.Errorf("detector returned %d results for %d images", len(raws), len(images)),
		}
	}
	return raws, nil
}

func (p *Pipeline) processOne(ctx context.Context, img Image, raw RawDetectionSet) (Result, error) {
	threshold := p.suppressor.Threshold(raw)
	kept := p.suppressor.SuppressAt(raw, threshold)
	p.logger.Debug("suppressed detections",
		"filename", img.Filename,
		"raw", len(raw.Boxes),
		"kept", len(kept.Boxes),
		"iou_threshold", threshold,
	)

	labels, err := LabelText(kept)
	if err != nil {
		return Result{}, &InferenceError{Stage: StageLabel, Filename: img.Filename, Err: err}
	}

	if err := p.inference.Acquire(ctx, 1); err != nil {
		return Result{}, &InferenceError{Stage: StageClassify, Filename: img.Filename, Err: err}
	}
	class, err := p.classifier.Classify(ctx, img)
	p.inference.Release(1)
	if err != nil {
		return Result{}, &InferenceError{Stage: StageClassify, Filename: img.Filename, Err: err}
	}

	annotated, err := p.annotator.Annotate(ctx, img, kept)
	if err != nil {
		return Result{}, &InferenceError{Stage: StageAnnotate, Filename: img.Filename, Err: err}
	}

	dugongs, calves := CountClasses(kept)
	return Result{
		Filename:       img.Filename,
		DugongCount:    dugongs,
		CalfCount:      calves,
		TotalCount:     TotalCount(dugongs, calves),
		ImageClass:     class,
		AnnotatedImage: annotated,
		LabelText:      labels,
		Boxes:          kept,
	}, nil
}
