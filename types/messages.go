//nolint:revive // types is a common Go package naming convention
package types

// OrderNotification is the JSON payload sent on the order_info topic.
type OrderNotification struct {
	// AudioByte is base64-encoded narration audio.
	AudioByte string `json:"audio_byte"`
	// CapturedFrame is a base64 JPEG data URI.
	CapturedFrame     string            `json:"captured_frame"`
	CorrelationID     string            `json:"correlation_id"`
	StoreID           string            `json:"store_id"`
	DeviceID          string            `json:"device_id"`
	TransformedFields map[string]string `json:"transformed_fields"`
}

// Admin message types and commands.
const (
	AdminTypeRequest  = "request"
	AdminTypeResponse = "response"

	AdminCommandStart   = "start"
	AdminCommandStop    = "stop"
	AdminCommandRestart = "restart"

	AdminStatusSuccess = "success"
	AdminStatusError   = "error"
)

// AdminRequest is an inbound admin command.
type AdminRequest struct {
	Type    string `json:"type"`
	Command string `json:"command"`
}

// AdminResponse answers exactly one AdminRequest.
type AdminResponse struct {
	Command string `json:"command"`
	Status  string `json:"status"`
	Type    string `json:"type"`
}

// Feedback is a correction submitted from the UI.
type Feedback struct {
	OrderType     string `json:"order_type"`
	OrderNumber   string `json:"order_number"`
	CapturedFrame string `json:"captured_frame"`
	CorrelationID string `json:"correlation_id"`
	DeviceID      string `json:"device_id"`
	StoreID       string `json:"store_id"`
}

// FeedbackAck is the fixed reply to every accepted feedback message.
type FeedbackAck struct {
	Outcome string `json:"outcome"`
	Detail  string `json:"detail"`
}

// FeedbackReceived is the acknowledgement sent for accepted feedback.
var FeedbackReceived = FeedbackAck{Outcome: "success", Detail: "feedback received"}
