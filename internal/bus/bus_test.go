package bus_test

import (
	"sync"
	"testing"
	"time"

	"pledgeline/internal/bus"
)

func TestPublishReachesSubscriber(t *testing.T) {
	b := bus.New()
	defer b.Close()
	got := make(chan any, 1)
	b.Subscribe(bus.PromiseCreated, func(payload any) {
		got <- payload
	})
	b.Publish(bus.PromiseCreated, "p-1")
	select {
	case v := <-got:
		if v != "p-1" {
			t.Fatalf("payload = %v, want p-1", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("notification not delivered")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := bus.New()
	defer b.Close()
	var mu sync.Mutex
	count := 0
	unsub := b.Subscribe(bus.PromiseUpdated, func(any) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	b.Publish(bus.PromiseUpdated, 1)
	time.Sleep(50 * time.Millisecond)
	unsub()
	b.Publish(bus.PromiseUpdated, 2)
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
}

func TestPanickingHandlerIsolated(t *testing.T) {
	b := bus.New()
	defer b.Close()
	got := make(chan any, 1)
	b.Subscribe(bus.PromiseDeleted, func(any) {
		panic("broken listener")
	})
	b.Subscribe(bus.PromiseDeleted, func(payload any) {
		got <- payload
	})
	b.Publish(bus.PromiseDeleted, "p-2")
	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatalf("healthy subscriber starved by panicking one")
	}
}

func TestPublishConcurrentWithTeardown(t *testing.T) {
	b := bus.New()
	for i := 0; i < 200; i++ {
		unsub := b.Subscribe(bus.PromiseCreated, func(any) {})
		if i%2 == 0 {
			defer unsub()
		}
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5000; i++ {
			b.Publish(bus.PromiseCreated, i)
		}
	}()
	// Tear down mid-fanout. A send landing on a closed channel would panic
	// and crash the test.
	b.Close()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("publisher did not finish")
	}
}

func TestFIFOWithinKind(t *testing.T) {
	b := bus.New()
	defer b.Close()
	var mu sync.Mutex
	var order []int
	done := make(chan struct{})
	b.Subscribe(bus.StatsUpdated, func(payload any) {
		mu.Lock()
		order = append(order, payload.(int))
		n := len(order)
		mu.Unlock()
		if n == 5 {
			close(done)
		}
	})
	for i := 1; i <= 5; i++ {
		b.Publish(bus.StatsUpdated, i)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("deliveries incomplete")
	}
	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != i+1 {
			t.Fatalf("order = %v, want ascending", order)
		}
	}
}
