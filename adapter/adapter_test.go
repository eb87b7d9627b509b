package adapter

import (
	"context"
	"errors"
	"testing"
)

type recordingAdapter struct {
	published []*Event
	err       error
	closed    bool
}

func (r *recordingAdapter) Publish(_ context.Context, event *Event) error {
	r.published = append(r.published, event)
	return r.err
}

func (r *recordingAdapter) Close() error {
	r.closed = true
	return r.err
}

func TestFanout_PublishesToEveryAdapter(t *testing.T) {
	failing := &recordingAdapter{err: errors.New("broker down")}
	ok := &recordingAdapter{}
	f := Fanout{failing, ok}

	event := &Event{Type: EventTypeStatus, CorrelationID: "c-1"}
	err := f.Publish(t.Context(), event)
	if err == nil || err.Error() != "broker down" {
		t.Fatalf("expected joined failure, got %v", err)
	}
	if len(failing.published) != 1 || len(ok.published) != 1 {
		t.Errorf("expected both adapters attempted, got %d and %d", len(failing.published), len(ok.published))
	}
}

func TestFanout_Close(t *testing.T) {
	a, b := &recordingAdapter{}, &recordingAdapter{}
	if err := (Fanout{a, b}).Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !a.closed || !b.closed {
		t.Error("expected every adapter closed")
	}
}

func TestFanout_Empty(t *testing.T) {
	if err := Fanout(nil).Publish(t.Context(), &Event{}); err != nil {
		t.Errorf("empty fanout should succeed, got %v", err)
	}
}
