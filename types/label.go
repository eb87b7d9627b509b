//nolint:revive // types is a common Go package naming convention
package types

// Box is an axis-aligned bounding box in pixel coordinates.
type Box struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// DetectionResult is produced once per frame by the detection step.
// ErrorCode is empty when the result is valid.
type DetectionResult struct {
	Boxes     []Box
	Valid     bool
	ErrorCode ErrorCode
}

// Field is one extracted label field.
type Field struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// Well-known label field names.
const (
	FieldCustomerName = "customer_name"
	FieldItemName     = "item_name"
	FieldOrderType    = "order_type"
)

// ExtractionResult carries the extracted fields through validation,
// transformation and identity computation.
type ExtractionResult struct {
	Fields       map[string]Field
	Valid        bool
	ErrorCode    ErrorCode
	Transformed  map[string]string
	IdentityHash string
}
