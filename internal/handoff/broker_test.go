package handoff

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestPassDeliversConnToRegisteredDaemon(t *testing.T) {
	b := NewBroker()
	inbox := b.Register("daemon-1")

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if _, err := b.Pass(ctx, "daemon-1", server); err != nil {
			t.Errorf("pass failed: %v", err)
		}
	}()

	select {
	case got := <-inbox:
		if got != server {
			t.Fatal("received unexpected connection")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for handoff")
	}
}

func TestPassUnknownDaemon(t *testing.T) {
	b := NewBroker()
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	_, err := b.Pass(context.Background(), "missing", server)
	if err == nil {
		t.Fatal("expected ErrUnknownDaemon")
	}
}

func TestPassTimeoutWhenDaemonNeverAccepts(t *testing.T) {
	b := NewBroker()
	b.Register("daemon-2")

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := b.Pass(ctx, "daemon-2", server)
	if err != ErrHandoffTimeout {
		t.Fatalf("got %v, want ErrHandoffTimeout", err)
	}
}
