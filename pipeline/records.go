package pipeline

import (
	"time"

	"github.com/edgeorder/labelreader/metrics"
	"github.com/edgeorder/labelreader/types"
)

// Evaluation types for model records.
const (
	EvaluationSystem = "system"
	EvaluationUser   = "user"
)

// FailureCauseSkipped marks a model record for a cooldown frame.
const FailureCauseSkipped = "skipped"

// LatencyRecord accumulates per-stage timings for one frame.
type LatencyRecord struct {
	CorrelationID  string
	LocalInference time.Duration
	OCR            time.Duration
	TTS            time.Duration
	Total          time.Duration
	Outcome        string
	Fields         map[string]string
}

func newLatencyRecord(correlationID string) LatencyRecord {
	return LatencyRecord{CorrelationID: correlationID, Outcome: metrics.OutcomeFailure}
}

// Log returns the record as log fields. Durations are in seconds.
func (r LatencyRecord) Log() map[string]any {
	out := map[string]any{
		"correlation_id":       r.CorrelationID,
		"local_inference_time": r.LocalInference.Seconds(),
		"ocr_time":             r.OCR.Seconds(),
		"tts_time":             r.TTS.Seconds(),
		"total_time":           r.Total.Seconds(),
		"outcome_type":         r.Outcome,
	}
	for k, v := range r.Fields {
		out[k] = v
	}
	return out
}

// ModelRecord describes how the models performed on one frame.
type ModelRecord struct {
	CorrelationID string
	NumBoxes      int
	Outcome       string
	FailureCause  string
	FrameBlobID   string
}

func newModelRecord(correlationID string) ModelRecord {
	return ModelRecord{CorrelationID: correlationID, Outcome: metrics.OutcomeFailure}
}

// applyExtraction sets outcome and cause from an extraction result. A nil
// result means the extractor itself failed.
func (r *ModelRecord) applyExtraction(result *types.ExtractionResult) {
	switch {
	case result == nil:
		r.Outcome = metrics.OutcomeFailure
		r.FailureCause = string(types.ErrorCodeOCR)
	case !result.Valid:
		r.Outcome = metrics.OutcomeFailure
		r.FailureCause = string(result.ErrorCode)
	default:
		r.Outcome = metrics.OutcomeSuccess
		r.FailureCause = ""
	}
}

// Log returns the record as log fields. Empty values are null.
func (r ModelRecord) Log() map[string]any {
	return map[string]any{
		"correlation_id":        r.CorrelationID,
		"evaluation_type":       EvaluationSystem,
		"edge_model_num_bboxes": r.NumBoxes,
		"outcome_type":          r.Outcome,
		"failure_cause":         nullable(r.FailureCause),
		"frame_blob_id":         nullable(r.FrameBlobID),
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
