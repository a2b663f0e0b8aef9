package pubsub

import (
	"bytes"
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func runForward(ctx context.Context, bus *RedisBus, src chan *redis.Message) (chan *Message, chan struct{}) {
	out := make(chan *Message, subscriptionBuffer)
	done := make(chan struct{})
	go func() {
		bus.forward(ctx, src, out)
		close(done)
	}()
	return out, done
}

func TestForwardDeliversInOrder(t *testing.T) {
	bus := NewRedisBus(nil, zerolog.Nop())
	src := make(chan *redis.Message)
	out, done := runForward(context.Background(), bus, src)

	go func() {
		for i := 0; i < 3; i++ {
			src <- &redis.Message{Channel: "session:1:events", Payload: strconv.Itoa(i)}
		}
		close(src)
	}()

	for i := 0; i < 3; i++ {
		select {
		case m := <-out:
			if m.Topic != "session:1:events" || string(m.Payload) != strconv.Itoa(i) {
				t.Fatalf("message %d = %s %s", i, m.Topic, m.Payload)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("delivery timed out")
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("forward did not stop after source closed")
	}
	if _, ok := <-out; ok {
		t.Fatal("subscription channel left open")
	}
}

func TestForwardNeverDropsUnderSlowConsumer(t *testing.T) {
	bus := NewRedisBus(nil, zerolog.Nop())
	src := make(chan *redis.Message)
	out, done := runForward(context.Background(), bus, src)

	const total = subscriptionBuffer + 50
	go func() {
		for i := 0; i < total; i++ {
			src <- &redis.Message{Channel: "t", Payload: strconv.Itoa(i)}
		}
		close(src)
	}()

	// Let the producer overrun the buffer before consuming anything.
	time.Sleep(20 * time.Millisecond)

	next := 0
	timeout := time.After(5 * time.Second)
	for next < total {
		select {
		case m, ok := <-out:
			if !ok {
				t.Fatalf("channel closed after %d of %d messages", next, total)
			}
			if string(m.Payload) != strconv.Itoa(next) {
				t.Fatalf("message %d arrived as %s, ordering or shedding bug", next, m.Payload)
			}
			next++
		case <-timeout:
			t.Fatalf("only %d of %d messages arrived", next, total)
		}
	}

	<-done
	if _, ok := <-out; ok {
		t.Fatal("unexpected extra message")
	}
}

func TestForwardWarnsPastLagWatermark(t *testing.T) {
	var buf bytes.Buffer
	bus := NewRedisBus(nil, zerolog.New(&buf))
	src := make(chan *redis.Message)
	out, done := runForward(context.Background(), bus, src)

	const total = lagWatermark + 5
	go func() {
		for i := 0; i < total; i++ {
			src <- &redis.Message{Channel: "t", Payload: strconv.Itoa(i)}
		}
		close(src)
	}()

	// Nothing consumes until the queue sits past the watermark.
	waitDeadline := time.Now().Add(2 * time.Second)
	for len(out) < total {
		if time.Now().After(waitDeadline) {
			t.Fatalf("queued %d of %d", len(out), total)
		}
		time.Sleep(5 * time.Millisecond)
	}

	got := 0
	for range out {
		got++
		if got == total {
			break
		}
	}
	if got != total {
		t.Fatalf("delivered %d of %d, lagging consumer lost messages", got, total)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("forward did not stop")
	}
	if !bytes.Contains(buf.Bytes(), []byte("subscriber lagging behind bus")) {
		t.Fatal("lag crossing not logged")
	}
}

func TestForwardStopsOnCancelWhileBlocked(t *testing.T) {
	bus := NewRedisBus(nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	src := make(chan *redis.Message)
	out, done := runForward(ctx, bus, src)

	// Fill the buffer and leave one more delivery blocked in the send.
	for i := 0; i < subscriptionBuffer+1; i++ {
		select {
		case src <- &redis.Message{Channel: "t", Payload: strconv.Itoa(i)}:
		case <-time.After(2 * time.Second):
			t.Fatalf("producer stuck at message %d", i)
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("forward did not stop on cancel")
	}

	drained := 0
	for range out {
		drained++
	}
	if drained != subscriptionBuffer {
		t.Fatalf("drained %d, want the %d buffered messages", drained, subscriptionBuffer)
	}
}
