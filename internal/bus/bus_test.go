package bus

import (
	"context"
	"testing"
	"time"

	"github.com/aatumaykin/tfreaper/internal/logger"
)

func newTestBus(capacity int) *Bus {
	return New(capacity, logger.NewDiscard(), nil)
}

func TestNew(t *testing.T) {
	b := newTestBus(10)
	if b == nil {
		t.Fatal("New() returned nil")
	}
	if b.IsStarted() {
		t.Error("New() returned a started bus")
	}
}

func TestBus_StartStop(t *testing.T) {
	b := newTestBus(10)

	if err := b.Stop(); err != ErrNotStarted {
		t.Errorf("expected ErrNotStarted, got %v", err)
	}

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if !b.IsStarted() {
		t.Error("Start() did not set started flag")
	}

	if err := b.Start(context.Background()); err != ErrAlreadyStarted {
		t.Errorf("expected ErrAlreadyStarted, got %v", err)
	}

	if err := b.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if b.IsStarted() {
		t.Error("Stop() did not clear started flag")
	}
}

func TestBus_PublishNotStarted(t *testing.T) {
	b := newTestBus(10)
	err := b.Publish(Notification{Type: TypeScheduled, ProjectID: "p1"})
	if err != ErrNotStarted {
		t.Errorf("expected ErrNotStarted, got %v", err)
	}
}

func TestBus_SubscribeBeforeStart(t *testing.T) {
	b := newTestBus(10)
	if ch := b.Subscribe(); ch != nil {
		t.Error("Subscribe() before Start() should return nil")
	}
}

func TestBus_PublishAndSubscribe(t *testing.T) {
	b := newTestBus(10)
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer b.Stop()

	sub := b.Subscribe()
	if sub == nil {
		t.Fatal("Subscribe() returned nil after Start()")
	}

	want := Notification{Type: TypeWarning, ProjectID: "p1", MinutesLeft: 15}
	if err := b.Publish(want); err != nil {
		t.Fatalf("Publish() failed: %v", err)
	}

	select {
	case got := <-sub:
		if got.Type != TypeWarning || got.ProjectID != "p1" || got.MinutesLeft != 15 {
			t.Errorf("received wrong notification: %+v", got)
		}
		if got.Timestamp.IsZero() {
			t.Error("Publish() did not stamp the notification")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
	}
}

func TestBus_FanOut(t *testing.T) {
	b := newTestBus(10)
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer b.Stop()

	first := b.Subscribe()
	second := b.Subscribe()

	if err := b.Publish(Notification{Type: TypeCompleted, ProjectID: "p1"}); err != nil {
		t.Fatalf("Publish() failed: %v", err)
	}

	for i, sub := range []<-chan Notification{first, second} {
		select {
		case got := <-sub:
			if got.Type != TypeCompleted {
				t.Errorf("subscriber %d received wrong type: %s", i, got.Type)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("subscriber %d timed out", i)
		}
	}
}

func TestBus_StopClosesSubscribers(t *testing.T) {
	b := newTestBus(10)
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	sub := b.Subscribe()
	if err := b.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}

	select {
	case _, ok := <-sub:
		if ok {
			t.Error("expected subscriber channel to be closed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for subscriber channel to close")
	}
}

func TestNotification_JSONRoundTrip(t *testing.T) {
	n := Notification{
		Type:        TypeRetryScheduled,
		ProjectID:   "p1",
		ProjectName: "staging",
		Attempt:     2,
		Timestamp:   time.Now().UTC(),
	}

	data, err := n.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON() failed: %v", err)
	}

	var restored Notification
	if err := restored.FromJSON(data); err != nil {
		t.Fatalf("FromJSON() failed: %v", err)
	}
	if restored.Type != n.Type || restored.Attempt != n.Attempt {
		t.Errorf("round trip mismatch: %+v", restored)
	}
}
