package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type mockEventEmitter struct {
	mu      sync.Mutex
	events  []*Event
	emitErr error
}

func (m *mockEventEmitter) Emit(ctx context.Context, event *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return m.emitErr
}

func (m *mockEventEmitter) getEvents() []*Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.events
}

func TestEmitAsync_NilEmitter(t *testing.T) {
	// Should not panic
	EmitAsync(nil, zap.NewNop(), &Event{Kind: KindConnectionOpened})
}

func TestEmitAsync_NilEvent(t *testing.T) {
	emitter := &mockEventEmitter{}
	EmitAsync(emitter, zap.NewNop(), nil)

	time.Sleep(50 * time.Millisecond)
	if got := emitter.getEvents(); len(got) != 0 {
		t.Errorf("events = %d, want 0", len(got))
	}
}

func TestEmitAsync_Delivers(t *testing.T) {
	emitter := &mockEventEmitter{}
	EmitAsync(emitter, zap.NewNop(), &Event{Kind: KindMessageDenied, UserID: "user-1"})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(emitter.getEvents()) == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	got := emitter.getEvents()
	if len(got) != 1 {
		t.Fatalf("events = %d, want 1", len(got))
	}
	if got[0].Kind != KindMessageDenied || got[0].UserID != "user-1" {
		t.Errorf("event = %+v", got[0])
	}
}

func TestEmitAsync_ErrorDoesNotPanic(t *testing.T) {
	emitter := &mockEventEmitter{emitErr: errors.New("broker down")}
	EmitAsync(emitter, zap.NewNop(), &Event{Kind: KindAdmissionDenied})
	time.Sleep(50 * time.Millisecond)
}

func TestNewKafkaProducer_DisabledWithoutBrokers(t *testing.T) {
	if p := NewKafkaProducer(nil, "events", zap.NewNop()); p != nil {
		t.Error("producer without brokers should be nil")
	}
	if p := NewKafkaProducer([]string{"localhost:9092"}, "", zap.NewNop()); p != nil {
		t.Error("producer without topic should be nil")
	}
	var p *KafkaProducer
	if err := p.Emit(context.Background(), &Event{Kind: KindConnectionOpened}); err != nil {
		t.Errorf("nil producer Emit = %v, want nil", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("nil producer Close = %v, want nil", err)
	}
}
