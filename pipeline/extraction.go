package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/edgeorder/labelreader/types"
)

// ErrMissingIdentityField is returned when the field an identity strategy
// keys on is absent from the transformed fields.
var ErrMissingIdentityField = errors.New("identity field missing")

var requiredFieldCodes = map[string]types.ErrorCode{
	types.FieldCustomerName: types.ErrorCodeCustomerNameMissing,
	types.FieldItemName:     types.ErrorCodeItemNameMissing,
	types.FieldOrderType:    types.ErrorCodeOrderTypeMissing,
}

// Validator checks raw extracted fields.
type Validator struct {
	// Threshold is the minimum per-field confidence.
	Threshold float64
	// Required lists fields that must be present. Well-known fields report
	// their own error code; others report FIELD_MISSING.
	Required []string
}

// Validate returns the first failure found, or valid.
//
// An empty field set is FIELD_MISSING. Required fields are checked first in
// the order given, then every field in name order: an empty value is
// FIELD_MISSING and a confidence below Threshold is LOW_FIELD_CONFIDENCE.
func (v Validator) Validate(fields map[string]types.Field) (bool, types.ErrorCode) {
	if len(fields) == 0 {
		return false, types.ErrorCodeFieldMissing
	}

	for _, name := range v.Required {
		if f, ok := fields[name]; !ok || strings.TrimSpace(f.Value) == "" {
			if code, known := requiredFieldCodes[name]; known {
				return false, code
			}
			return false, types.ErrorCodeFieldMissing
		}
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		f := fields[name]
		if f.Value == "" {
			return false, types.ErrorCodeFieldMissing
		}
		if f.Confidence < v.Threshold {
			return false, types.ErrorCodeLowFieldConfidence
		}
	}
	return true, ""
}

var nonAlphanumeric = regexp.MustCompile(`[^a-zA-Z\d\s]`)

// Transform normalizes field values: punctuation and symbols are removed,
// surrounding whitespace trimmed and the result uppercased. Inner
// whitespace is kept.
func Transform(fields map[string]types.Field) map[string]string {
	out := make(map[string]string, len(fields))
	for name, f := range fields {
		out[name] = strings.ToUpper(strings.TrimSpace(nonAlphanumeric.ReplaceAllString(f.Value, "")))
	}
	return out
}

// IdentityStrategy derives the duplicate-detection key from transformed fields.
type IdentityStrategy interface {
	Identity(transformed map[string]string) (string, error)
}

// SetHash hashes every name/value pair. The result does not depend on map
// iteration order.
type SetHash struct{}

// Identity returns the hex SHA-256 of the pairs in name order.
func (SetHash) Identity(transformed map[string]string) (string, error) {
	names := make([]string, 0, len(transformed))
	for k := range transformed {
		names = append(names, k)
	}
	slices.Sort(names)

	h := sha256.New()
	for _, k := range names {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(transformed[k]))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// CustomerName keys orders on the transformed customer name alone.
type CustomerName struct{}

// Identity returns the customer_name value.
func (CustomerName) Identity(transformed map[string]string) (string, error) {
	name, ok := transformed[types.FieldCustomerName]
	if !ok || name == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingIdentityField, types.FieldCustomerName)
	}
	return name, nil
}

// NewIdentityStrategy returns the strategy registered under name.
func NewIdentityStrategy(name string) (IdentityStrategy, error) {
	switch name {
	case "", "set":
		return SetHash{}, nil
	case "customer_name":
		return CustomerName{}, nil
	default:
		return nil, fmt.Errorf("unknown identity strategy %q", name)
	}
}

// RequiredFor returns the fields a strategy cannot work without.
func RequiredFor(strategy IdentityStrategy) []string {
	if _, ok := strategy.(CustomerName); ok {
		return []string{types.FieldCustomerName}
	}
	return nil
}
