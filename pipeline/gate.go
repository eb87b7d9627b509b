package pipeline

import "github.com/edgeorder/labelreader/types"

// GateConfig configures the detection gate.
type GateConfig struct {
	// ThresholdLow is the box count below which nothing is considered present.
	ThresholdLow int
	// ThresholdLabel is the box count at which a label is readable.
	ThresholdLabel int
	// SkipFrame enables the cooldown after an invalid detection.
	SkipFrame bool
	// SkipCount is the number of valid frames suppressed after an invalid one.
	SkipCount int
}

// FrameSkipState is the cooldown state of the gate.
type FrameSkipState struct {
	Skipping  bool
	Remaining int
}

// Gate classifies detections by box count and suppresses valid frames for a
// configured count after any invalid one. A Gate is owned by a single
// orchestrator loop and is not safe for concurrent use.
type Gate struct {
	config GateConfig
	state  FrameSkipState
}

// NewGate creates a gate with skipping disarmed.
func NewGate(config GateConfig) *Gate {
	return &Gate{config: config}
}

// Evaluate applies the thresholds to result and then the skip refinement.
//
// A result that arrives invalid keeps its error code, or NO_CUP if it has
// none. The returned result shares the Boxes slice with the input.
func (g *Gate) Evaluate(result types.DetectionResult) types.DetectionResult {
	out := g.threshold(result)
	if !g.config.SkipFrame {
		return out
	}

	if !out.Valid {
		g.state.Skipping = true
		g.state.Remaining = g.config.SkipCount
		return out
	}
	if g.state.Skipping {
		g.state.Remaining--
		if g.state.Remaining <= 0 {
			g.state.Skipping = false
		}
		out.Valid = false
		out.ErrorCode = types.ErrorCodeSkipFrame
	}
	return out
}

func (g *Gate) threshold(result types.DetectionResult) types.DetectionResult {
	out := types.DetectionResult{Boxes: result.Boxes}
	if !result.Valid {
		out.ErrorCode = result.ErrorCode
		if out.ErrorCode == "" {
			out.ErrorCode = types.ErrorCodeNoCup
		}
		return out
	}

	n := len(result.Boxes)
	switch {
	case n < g.config.ThresholdLow:
		out.ErrorCode = types.ErrorCodeNoCup
	case n < g.config.ThresholdLabel:
		out.ErrorCode = types.ErrorCodeLowBB
	default:
		out.Valid = true
	}
	return out
}

// State returns the current cooldown state.
func (g *Gate) State() FrameSkipState {
	return g.state
}
