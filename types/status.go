//nolint:revive // types is a common Go package naming convention
package types

import "time"

// ErrorCode is the fine-grained failure reason carried as error_sub_type.
type ErrorCode string

// Detection, extraction and pipeline error codes.
const (
	ErrorCodeLowBB               ErrorCode = "LOW_BB"
	ErrorCodeNoCup               ErrorCode = "NO_CUP"
	ErrorCodeSkipFrame           ErrorCode = "SKIP_FRAME"
	ErrorCodeEdgeModel           ErrorCode = "EDGE_MODEL_ERROR"
	ErrorCodeLowFieldConfidence  ErrorCode = "LOW_FIELD_CONFIDENCE"
	ErrorCodeFieldMissing        ErrorCode = "FIELD_MISSING"
	ErrorCodeCustomerNameMissing ErrorCode = "CUSTOMER_NAME_MISSING"
	ErrorCodeItemNameMissing     ErrorCode = "ITEM_NAME_MISSING"
	ErrorCodeOrderTypeMissing    ErrorCode = "ORDER_TYPE_MISSING"
	ErrorCodeOCR                 ErrorCode = "OCR_ERROR"
	ErrorCodeLabelProcessing     ErrorCode = "LABEL_PROCESSING_ERROR"
	ErrorCodeTTS                 ErrorCode = "TTS_ERROR"
)

// StatusCode groups status events for the UI.
type StatusCode string

const (
	StatusCodeSystem          StatusCode = "SYSTEM"
	StatusCodeLabelExtraction StatusCode = "LABEL_EXTRACTION"
)

// StatusEvent is the JSON payload sent on the status topic.
type StatusEvent struct {
	ErrorSubType  ErrorCode  `json:"error_sub_type"`
	ErrorCode     StatusCode `json:"error_code"`
	CorrelationID string     `json:"correlation_id"`
	IsError       bool       `json:"is_error"`
	IsCupDetected bool       `json:"is_cup_detected"`
	// Timestamp is epoch milliseconds.
	Timestamp int64 `json:"timestamp"`
}

// NewStatusEvent builds an error status stamped with the current time.
func NewStatusEvent(sub ErrorCode, code StatusCode, correlationID string) StatusEvent {
	return StatusEvent{
		ErrorSubType:  sub,
		ErrorCode:     code,
		CorrelationID: correlationID,
		IsError:       true,
		IsCupDetected: true,
		Timestamp:     time.Now().UnixMilli(),
	}
}
