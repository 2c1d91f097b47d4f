package event

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/HerbHall/camlink/internal/testutil"
)

func TestPublishSubscribe(t *testing.T) {
	bus := NewBus(testutil.Logger())
	var received Event

	bus.Subscribe(TopicCameraConnected, func(_ context.Context, e Event) {
		received = e
	})

	err := bus.Publish(context.Background(), Event{
		Topic:   TopicCameraConnected,
		Source:  "orchestrator",
		Payload: CameraPayload{CameraID: "cam-1", Strategy: "rtsp"},
	})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if received.Topic != TopicCameraConnected {
		t.Errorf("received.Topic = %q, want %q", received.Topic, TopicCameraConnected)
	}
	if received.Timestamp.IsZero() {
		t.Error("received.Timestamp is zero, want stamped")
	}
	if p, ok := received.Payload.(CameraPayload); !ok || p.CameraID != "cam-1" {
		t.Errorf("received.Payload = %#v", received.Payload)
	}
}

func TestTopicsAreIsolated(t *testing.T) {
	bus := NewBus(testutil.Logger())
	var connected, failed int32

	bus.Subscribe(TopicCameraConnected, func(context.Context, Event) { atomic.AddInt32(&connected, 1) })
	bus.Subscribe(TopicCameraConnectFailed, func(context.Context, Event) { atomic.AddInt32(&failed, 1) })

	_ = bus.Publish(context.Background(), Event{Topic: TopicCameraConnectFailed})

	if connected != 0 || failed != 1 {
		t.Errorf("connected, failed = %d, %d; want 0, 1", connected, failed)
	}
}

func TestSubscribeAllAndUnsubscribe(t *testing.T) {
	bus := NewBus(testutil.Logger())
	var all, topic int32

	unsubAll := bus.SubscribeAll(func(context.Context, Event) { atomic.AddInt32(&all, 1) })
	unsubTopic := bus.Subscribe("a", func(context.Context, Event) { atomic.AddInt32(&topic, 1) })

	_ = bus.Publish(context.Background(), Event{Topic: "a"})
	_ = bus.Publish(context.Background(), Event{Topic: "b"})
	unsubAll()
	unsubTopic()
	unsubTopic()
	_ = bus.Publish(context.Background(), Event{Topic: "a"})

	if got := atomic.LoadInt32(&all); got != 2 {
		t.Errorf("SubscribeAll handler called %d times, want 2", got)
	}
	if got := atomic.LoadInt32(&topic); got != 1 {
		t.Errorf("topic handler called %d times, want 1", got)
	}
}

func TestPublishAsync(t *testing.T) {
	bus := NewBus(testutil.Logger())
	var wg sync.WaitGroup
	var count int32

	wg.Add(2)
	bus.Subscribe(TopicCameraStatus, func(context.Context, Event) {
		atomic.AddInt32(&count, 1)
		wg.Done()
	})
	bus.SubscribeAll(func(context.Context, Event) {
		atomic.AddInt32(&count, 1)
		wg.Done()
	})

	bus.PublishAsync(context.Background(), Event{Topic: TopicCameraStatus, Timestamp: time.Now()})

	wg.Wait()
	if got := atomic.LoadInt32(&count); got != 2 {
		t.Errorf("async handlers called %d times, want 2", got)
	}
}

func TestHandlerPanicRecovery(t *testing.T) {
	bus := NewBus(testutil.Logger())
	var count int32

	bus.Subscribe("panic.test", func(context.Context, Event) { panic("boom") })
	bus.Subscribe("panic.test", func(context.Context, Event) { atomic.AddInt32(&count, 1) })

	_ = bus.Publish(context.Background(), Event{Topic: "panic.test"})

	if got := atomic.LoadInt32(&count); got != 1 {
		t.Errorf("second handler called %d times, want 1", got)
	}
}

func TestNoSubscribersOK(t *testing.T) {
	if err := NewBus(nil).Publish(context.Background(), Event{Topic: "empty"}); err != nil {
		t.Fatalf("Publish() with no subscribers error = %v", err)
	}
}
