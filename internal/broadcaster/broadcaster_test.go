package broadcaster

import (
	"context"
	"testing"
)

type fakeSubscriber struct {
	channel string
	handler func([]byte)
}

func (f *fakeSubscriber) Subscribe(ctx context.Context, channel string, handler func([]byte)) (func(), error) {
	f.channel = channel
	f.handler = handler
	return func() {}, nil
}

func TestHubStartSubscribesToConfiguredChannel(t *testing.T) {
	h := NewHub("nds:alerts:realtime", 64)
	sub := &fakeSubscriber{}

	if _, err := h.Start(context.Background(), sub); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if sub.channel != "nds:alerts:realtime" {
		t.Errorf("expected subscription to nds:alerts:realtime, got %q", sub.channel)
	}
}

func TestBroadcastFansOutToAllClients(t *testing.T) {
	h := NewHub("nds:alerts:realtime", 4)

	c1 := &client{send: make(chan []byte, 4)}
	c2 := &client{send: make(chan []byte, 4)}
	h.addClient(c1)
	h.addClient(c2)

	h.broadcast([]byte(`{"severity":"high"}`))

	for _, c := range []*client{c1, c2} {
		select {
		case msg := <-c.send:
			if string(msg) != `{"severity":"high"}` {
				t.Errorf("unexpected payload: %s", msg)
			}
		default:
			t.Error("expected message in client send queue")
		}
	}
}

func TestBroadcastDropsOnFullQueueRatherThanBlocking(t *testing.T) {
	h := NewHub("nds:alerts:realtime", 1)
	c := &client{send: make(chan []byte, 1)}
	h.addClient(c)

	h.broadcast([]byte("first"))
	h.broadcast([]byte("second")) // queue full, must not block

	msg := <-c.send
	if string(msg) != "first" {
		t.Errorf("expected first message retained, got %s", msg)
	}
}
