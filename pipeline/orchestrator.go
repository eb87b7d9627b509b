// Package pipeline drives frames through detection, field extraction,
// deduplication and narration, and reports each frame's outcome.
//
// Stage failures never escape Process: each one becomes a status event and
// ends the frame early. The orchestrator is single-threaded; its Gate and
// DuplicateCache are owned by the Run loop.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/edgeorder/labelreader/log"
	"github.com/edgeorder/labelreader/mailbox"
	"github.com/edgeorder/labelreader/metrics"
	"github.com/edgeorder/labelreader/storage"
	"github.com/edgeorder/labelreader/types"
)

// Poll intervals of the Run loop.
const (
	DefaultIdleInterval  = 100 * time.Millisecond
	DefaultRetryInterval = 10 * time.Millisecond
)

// Detector finds objects in a JPEG frame.
type Detector interface {
	Detect(ctx context.Context, jpeg []byte) (types.DetectionResult, error)
}

// Extractor reads label fields from a JPEG frame.
type Extractor interface {
	Extract(ctx context.Context, jpeg []byte) (map[string]types.Field, error)
}

// Narrator renders transformed order fields to audio.
type Narrator interface {
	Narrate(ctx context.Context, fields map[string]string) ([]byte, error)
}

// Config holds orchestrator settings.
type Config struct {
	DeviceID string
	StoreID  string
	Gate     GateConfig
	// Validator checks extracted fields.
	Validator Validator
	// IdleInterval is the sleep when the mailbox is empty.
	IdleInterval time.Duration
	// RetryInterval is the sleep when a take fails on a non-empty mailbox.
	RetryInterval time.Duration
}

// Deps are the collaborators of an Orchestrator. Detector, Extractor,
// Narrator, Status and Orders are required.
type Deps struct {
	Mailbox   mailbox.Box
	Detector  Detector
	Extractor Extractor
	Narrator  Narrator
	Identity  IdentityStrategy
	Cache     *DuplicateCache
	Sampler   *Sampler
	Archive   storage.Archive
	Status    *StatusNotifier
	Orders    *OrderNotifier
	Collector *metrics.Collector
	Logger    *log.Logger
	Now       func() time.Time
}

// Result is the outcome of one frame.
type Result struct {
	Detection  types.DetectionResult
	Extraction *types.ExtractionResult
	Latency    LatencyRecord
	Model      ModelRecord
	// Excluded frames are dropped from metrics logging.
	Excluded bool
}

// Orchestrator runs the per-frame state machine.
type Orchestrator struct {
	config Config
	deps   Deps
	gate   *Gate
	logger *log.Logger
	now    func() time.Time
}

// New creates an orchestrator. Missing optional dependencies get defaults:
// SetHash identity, an hour-long cache of 100 entries and a sampler of 10
// uploads per hour.
func New(config Config, deps Deps) (*Orchestrator, error) {
	if deps.Detector == nil || deps.Extractor == nil || deps.Narrator == nil {
		return nil, errors.New("pipeline: detector, extractor and narrator are required")
	}
	if deps.Status == nil || deps.Orders == nil {
		return nil, errors.New("pipeline: status and order notifiers are required")
	}
	if config.IdleInterval <= 0 {
		config.IdleInterval = DefaultIdleInterval
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = DefaultRetryInterval
	}
	if deps.Identity == nil {
		deps.Identity = SetHash{}
	}
	if deps.Cache == nil {
		deps.Cache = NewDuplicateCache(time.Hour, 100)
	}
	if deps.Sampler == nil {
		deps.Sampler = NewSampler(10)
	}
	if deps.Logger == nil {
		deps.Logger = log.Nop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Orchestrator{
		config: config,
		deps:   deps,
		gate:   NewGate(config.Gate),
		logger: deps.Logger,
		now:    deps.Now,
	}, nil
}

// Gate returns the detection gate.
func (o *Orchestrator) Gate() *Gate {
	return o.gate
}

// Cache returns the duplicate cache.
func (o *Orchestrator) Cache() *DuplicateCache {
	return o.deps.Cache
}

// Run polls the mailbox and processes frames until ctx is cancelled.
// It returns the mailbox error if the mailbox transport fails.
func (o *Orchestrator) Run(ctx context.Context) error {
	if o.deps.Mailbox == nil {
		return errors.New("pipeline: mailbox is required")
	}
	type errReporter interface{ Err() error }

	for {
		if ctx.Err() != nil {
			return nil
		}

		if o.deps.Mailbox.IsEmpty() {
			if r, ok := o.deps.Mailbox.(errReporter); ok && r.Err() != nil {
				return r.Err()
			}
			if !sleep(ctx, o.config.IdleInterval) {
				return nil
			}
			continue
		}

		frame, ok := o.deps.Mailbox.Take()
		if !ok {
			if !sleep(ctx, o.config.RetryInterval) {
				return nil
			}
			continue
		}
		o.Process(ctx, frame)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Process runs one frame through every stage and records the outcome.
func (o *Orchestrator) Process(ctx context.Context, frame types.Frame) Result {
	started := frame.CapturedAt
	if started.IsZero() {
		started = o.now()
	}
	res := Result{
		Latency: newLatencyRecord(frame.CorrelationID),
		Model:   newModelRecord(frame.CorrelationID),
	}

	o.run(ctx, frame, &res)

	res.Latency.Total = o.now().Sub(started)
	o.emit(&res)
	return res
}

func (o *Orchestrator) run(ctx context.Context, frame types.Frame, res *Result) {
	corr := frame.CorrelationID

	if !o.detect(ctx, frame, res) {
		return
	}

	ext, ok := o.extract(ctx, frame, res)
	if !ok {
		return
	}

	if o.deps.Cache.Contains(ext.IdentityHash) {
		res.Latency.Outcome = metrics.OutcomeDuplicate
		res.Model.Outcome = metrics.OutcomeDuplicate
		o.logger.Debug("duplicate order", map[string]any{"correlation_id": corr})
		return
	}

	o.narrate(ctx, frame, ext, res)
}

// detect runs the detector and gate. It reports whether extraction
// should follow.
func (o *Orchestrator) detect(ctx context.Context, frame types.Frame, res *Result) bool {
	corr := frame.CorrelationID
	start := o.now()

	raw, err := o.deps.Detector.Detect(ctx, frame.Image)
	if err != nil {
		o.logger.Error("detector failed", map[string]any{"correlation_id": corr, "error": err.Error()})
		o.deps.Status.NotifySystem(ctx, types.ErrorCodeEdgeModel, corr)
		res.Excluded = true
		return false
	}

	det := o.gate.Evaluate(raw)
	res.Detection = det
	o.deps.Status.NotifyDetection(ctx, det, corr)

	if !det.Valid && det.ErrorCode == types.ErrorCodeNoCup {
		res.Excluded = true
		return false
	}

	res.Latency.LocalInference = o.now().Sub(start)
	if det.ErrorCode == types.ErrorCodeSkipFrame {
		res.Latency.Outcome = metrics.OutcomeSkipped
		res.Model.Outcome = metrics.OutcomeSkipped
		res.Model.FailureCause = FailureCauseSkipped
	}
	res.Model.NumBoxes = len(det.Boxes)
	return det.Valid
}

// extract reads, validates and transforms the label fields. It returns the
// result when deduplication should follow.
func (o *Orchestrator) extract(ctx context.Context, frame types.Frame, res *Result) (*types.ExtractionResult, bool) {
	corr := frame.CorrelationID
	start := o.now()

	var ext *types.ExtractionResult
	fields, err := o.deps.Extractor.Extract(ctx, frame.Image)
	if err != nil {
		o.logger.Error("extractor failed", map[string]any{"correlation_id": corr, "error": err.Error()})
		o.deps.Status.NotifySystem(ctx, types.ErrorCodeLabelProcessing, corr)
	} else {
		ext = o.evaluate(fields, corr)
		o.deps.Status.NotifyExtraction(ctx, ext, corr)
	}

	res.Latency.OCR = o.now().Sub(start)
	res.Extraction = ext

	if ext != nil && ext.Valid {
		res.Latency.Fields = ext.Transformed
	} else {
		res.Model.FrameBlobID = o.uploadDiagnostic(ctx, frame, ext)
	}
	res.Model.applyExtraction(ext)

	if ext == nil || !ext.Valid {
		return nil, false
	}
	return ext, true
}

func (o *Orchestrator) evaluate(fields map[string]types.Field, corr string) *types.ExtractionResult {
	ext := &types.ExtractionResult{Fields: fields}
	ext.Valid, ext.ErrorCode = o.config.Validator.Validate(fields)
	if !ext.Valid {
		return ext
	}

	ext.Transformed = Transform(fields)
	hash, err := o.deps.Identity.Identity(ext.Transformed)
	if err != nil {
		o.logger.Warn("identity not computable", map[string]any{"correlation_id": corr, "error": err.Error()})
		ext.Valid = false
		ext.ErrorCode = types.ErrorCodeFieldMissing
		if errors.Is(err, ErrMissingIdentityField) {
			ext.ErrorCode = types.ErrorCodeCustomerNameMissing
		}
		return ext
	}
	ext.IdentityHash = hash
	return ext
}

func (o *Orchestrator) narrate(ctx context.Context, frame types.Frame, ext *types.ExtractionResult, res *Result) {
	corr := frame.CorrelationID
	start := o.now()
	defer func() { res.Latency.TTS = o.now().Sub(start) }()

	audio, err := o.deps.Narrator.Narrate(ctx, ext.Transformed)
	if err != nil {
		o.logger.Error("narration failed", map[string]any{"correlation_id": corr, "error": err.Error()})
		o.deps.Status.NotifySystem(ctx, types.ErrorCodeTTS, corr)
		return
	}

	if !o.deps.Orders.Notify(ctx, frame, audio, ext.Transformed) {
		o.deps.Status.NotifySystem(ctx, types.ErrorCodeTTS, corr)
		return
	}

	o.deps.Cache.Add(ext.IdentityHash)
	if len(audio) > 0 {
		res.Latency.Outcome = metrics.OutcomeSuccess
	}
}

// uploadDiagnostic stores a frame whose label could not be read, subject to
// the sampler. It returns the archive path, or "" if nothing was stored.
func (o *Orchestrator) uploadDiagnostic(ctx context.Context, frame types.Frame, ext *types.ExtractionResult) string {
	if o.deps.Archive == nil {
		return ""
	}
	if !o.deps.Sampler.Allow() {
		o.deps.Collector.IncDiagnosticSkipped()
		return ""
	}

	at := o.now()
	corr := frame.CorrelationID
	path, err := storage.FramePath(o.config.StoreID, o.config.DeviceID, storage.CategoryOCRErrors, at, corr)
	if err != nil {
		o.logger.Warn("diagnostic frame path rejected", map[string]any{"correlation_id": corr, "error": err.Error()})
		o.deps.Collector.IncDiagnosticFailure()
		return ""
	}

	if err := o.deps.Archive.PutFrame(ctx, path, frame.Image); err != nil {
		o.logger.Error("diagnostic upload failed", map[string]any{
			"correlation_id": corr,
			"path":           path,
			"error":          err.Error(),
		})
		o.deps.Collector.IncDiagnosticFailure()
		return ""
	}

	cause := string(types.ErrorCodeOCR)
	if ext != nil {
		cause = string(ext.ErrorCode)
	}
	record := map[string]any{
		"correlation_id": corr,
		"device_id":      o.config.DeviceID,
		"store_id":       o.config.StoreID,
		"frame_blob_id":  path,
		"failure_cause":  cause,
	}
	if err := o.deps.Archive.WriteRecord(ctx, storage.CategoryOCRErrors, at, record); err != nil {
		o.logger.Warn("diagnostic record not written", map[string]any{"correlation_id": corr, "error": err.Error()})
	}

	o.deps.Collector.IncDiagnosticUpload()
	o.logger.Info("diagnostic frame uploaded", map[string]any{"correlation_id": corr, "path": path})
	return path
}

func (o *Orchestrator) emit(res *Result) {
	c := o.deps.Collector
	if res.Excluded {
		c.IncExcluded()
		return
	}

	c.IncFrame()
	c.IncOutcome(res.Latency.Outcome)
	c.ObserveStage(metrics.StageInference, res.Latency.LocalInference)
	c.ObserveStage(metrics.StageOCR, res.Latency.OCR)
	c.ObserveStage(metrics.StageTTS, res.Latency.TTS)
	c.ObserveStage(metrics.StageTotal, res.Latency.Total)

	o.logger.Info("latency metrics", res.Latency.Log())
	o.logger.Info("model metrics", res.Model.Log())
}
