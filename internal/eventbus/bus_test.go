package eventbus

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	logx "dutyrec/pkg/logx"
)

func TestBusFanout(t *testing.T) {
	t.Parallel()
	b := New()
	ch1, unsub1 := b.Subscribe(4)
	ch2, unsub2 := b.Subscribe(4)
	defer unsub2()

	b.Publish(Event{Type: TypeTriggerFired, Data: "x"})
	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case e := <-ch:
			if e.Type != TypeTriggerFired || e.Time.IsZero() {
				t.Fatalf("event = %+v", e)
			}
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}

	unsub1()
	unsub1()
	b.Publish(Event{Type: TypeSweepDone})
	if _, ok := <-ch1; ok {
		t.Fatal("unsubscribed channel should be closed")
	}
}

func TestBusDropsWhenFull(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()
	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})
	if e := <-ch; e.Type != "a" {
		t.Fatalf("got %s", e.Type)
	}
	select {
	case e := <-ch:
		t.Fatalf("unexpected %s", e.Type)
	default:
	}
}

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	got    chan struct{}
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	w.msgs = append(w.msgs, msgs...)
	w.mu.Unlock()
	select {
	case w.got <- struct{}{}:
	default:
	}
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return nil
}

func TestKafkaForwarderWritesJSON(t *testing.T) {
	t.Parallel()
	fw := &fakeWriter{got: make(chan struct{}, 1)}
	f := &KafkaForwarder{w: fw, log: logx.Nop()}
	b := New()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx, b) }()

	// Wait for the subscription before publishing.
	deadline := time.Now().Add(time.Second)
	for {
		b.Publish(Event{Type: TypeUploadDone, Data: map[string]any{"identity": 2}})
		select {
		case <-fw.got:
		case <-time.After(10 * time.Millisecond):
			if time.Now().After(deadline) {
				t.Fatal("no message written")
			}
			continue
		}
		break
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run = %v", err)
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()
	if !fw.closed {
		t.Fatal("writer not closed")
	}
	m := fw.msgs[0]
	if string(m.Key) != TypeUploadDone {
		t.Fatalf("key = %s", m.Key)
	}
	var e struct {
		Type string         `json:"type"`
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(m.Value, &e); err != nil {
		t.Fatal(err)
	}
	if e.Type != TypeUploadDone || e.Data["identity"] != float64(2) {
		t.Fatalf("payload = %s", m.Value)
	}
}

func TestNewKafkaForwarderValidates(t *testing.T) {
	t.Parallel()
	if _, err := NewKafkaForwarder(KafkaConfig{Topic: "t"}, logx.Nop()); err == nil {
		t.Fatal("expected broker error")
	}
	if _, err := NewKafkaForwarder(KafkaConfig{Brokers: []string{"localhost:9092"}}, logx.Nop()); err == nil {
		t.Fatal("expected topic error")
	}
}
