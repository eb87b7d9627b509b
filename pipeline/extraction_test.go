package pipeline

import (
	"errors"
	"testing"

	"github.com/edgeorder/labelreader/types"
)

func TestValidator(t *testing.T) {
	good := types.Field{Value: "John", Confidence: 0.9}

	tests := []struct {
		name     string
		required []string
		fields   map[string]types.Field
		valid    bool
		code     types.ErrorCode
	}{
		{"empty set", nil, nil, false, types.ErrorCodeFieldMissing},
		{"all good", nil, map[string]types.Field{"customer_name": good, "item_name": good}, true, ""},
		{"empty value", nil, map[string]types.Field{"customer_name": good, "item_name": {Value: "", Confidence: 1}}, false, types.ErrorCodeFieldMissing},
		{"low confidence", nil, map[string]types.Field{"customer_name": {Value: "J", Confidence: 0.2}}, false, types.ErrorCodeLowFieldConfidence},
		{"at threshold", nil, map[string]types.Field{"customer_name": {Value: "J", Confidence: 0.5}}, true, ""},
		{"first failure in name order", nil, map[string]types.Field{
			"a_field": {Value: "", Confidence: 1},
			"b_field": {Value: "x", Confidence: 0.1},
		}, false, types.ErrorCodeFieldMissing},
		{"required customer", []string{"customer_name"}, map[string]types.Field{"item_name": good}, false, types.ErrorCodeCustomerNameMissing},
		{"required item", []string{"item_name"}, map[string]types.Field{"customer_name": good}, false, types.ErrorCodeItemNameMissing},
		{"required order type blank", []string{"order_type"}, map[string]types.Field{"order_type": {Value: "  ", Confidence: 1}}, false, types.ErrorCodeOrderTypeMissing},
		{"required custom", []string{"pickup"}, map[string]types.Field{"customer_name": good}, false, types.ErrorCodeFieldMissing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Validator{Threshold: 0.5, Required: tt.required}
			valid, code := v.Validate(tt.fields)
			if valid != tt.valid || code != tt.code {
				t.Errorf("got (%v, %q), want (%v, %q)", valid, code, tt.valid, tt.code)
			}
		})
	}
}

func TestTransform(t *testing.T) {
	got := Transform(map[string]types.Field{
		"customer_name": {Value: "  John O'Neil! "},
		"item_name":     {Value: "latte (oat)"},
		"order_type":    {Value: "café"},
	})

	want := map[string]string{
		"customer_name": "JOHN ONEIL",
		"item_name":     "LATTE OAT",
		"order_type":    "CAF",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s: got %q, want %q", k, got[k], v)
		}
	}
}

func TestSetHash_OrderIndependent(t *testing.T) {
	a := map[string]string{"customer_name": "JOHN", "item_name": "LATTE", "order_type": "CAFE"}
	b := map[string]string{"order_type": "CAFE", "item_name": "LATTE", "customer_name": "JOHN"}

	ha, _ := SetHash{}.Identity(a)
	for range 20 {
		hb, _ := SetHash{}.Identity(b)
		if ha != hb {
			t.Fatalf("hash depends on insertion order: %s != %s", ha, hb)
		}
	}

	c := map[string]string{"customer_name": "JANE", "item_name": "LATTE", "order_type": "CAFE"}
	if hc, _ := (SetHash{}).Identity(c); hc == ha {
		t.Error("different orders should hash differently")
	}
}

func TestSetHash_PairBoundaries(t *testing.T) {
	h1, _ := SetHash{}.Identity(map[string]string{"a": "b=c"})
	h2, _ := SetHash{}.Identity(map[string]string{"a=b": "c"})
	if h1 == h2 {
		t.Error("pairs with different key/value splits should hash differently")
	}
}

func TestCustomerName(t *testing.T) {
	id, err := CustomerName{}.Identity(map[string]string{"customer_name": "JOHN", "item_name": "LATTE"})
	if err != nil || id != "JOHN" {
		t.Fatalf("got (%q, %v), want JOHN", id, err)
	}

	_, err = CustomerName{}.Identity(map[string]string{"item_name": "LATTE"})
	if !errors.Is(err, ErrMissingIdentityField) {
		t.Errorf("expected ErrMissingIdentityField, got %v", err)
	}
}

func TestNewIdentityStrategy(t *testing.T) {
	if s, err := NewIdentityStrategy("set"); err != nil || s != (SetHash{}) {
		t.Errorf("set: got (%v, %v)", s, err)
	}
	s, err := NewIdentityStrategy("customer_name")
	if err != nil || s != (CustomerName{}) {
		t.Errorf("customer_name: got (%v, %v)", s, err)
	}
	if req := RequiredFor(s); len(req) != 1 || req[0] != types.FieldCustomerName {
		t.Errorf("RequiredFor(customer_name) = %v", req)
	}
	if _, err := NewIdentityStrategy("md5"); err == nil {
		t.Error("expected error for unknown strategy")
	}
}
