package bus

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"granolabot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestInMemoryBus_PublishSubscribe(t *testing.T) {
	b := New(10, testLogger())
	defer b.Close()

	b.Publish(domain.InboundMessage{Channel: "slack", MessageID: "1700000000.000100", Content: "hello"})

	select {
	case msg := <-b.Subscribe():
		if msg.MessageID != "1700000000.000100" {
			t.Errorf("unexpected message id: %s", msg.MessageID)
		}
	case <-time.After(time.Second):
		t.Fatal("no message received")
	}
}

func TestInMemoryBus_Outbound(t *testing.T) {
	b := New(10, testLogger())
	defer b.Close()

	var got domain.OutboundMessage
	b.OnOutbound("slack", func(msg domain.OutboundMessage) {
		got = msg
	})

	b.SendOutbound(domain.OutboundMessage{Channel: "slack", ChatID: "C123", ThreadID: "1700000000.000100", Content: "reply"})

	if got.ThreadID != "1700000000.000100" {
		t.Errorf("expected threaded outbound, got %+v", got)
	}
}

func TestInMemoryBus_OutboundNoHandler(t *testing.T) {
	b := New(10, testLogger())
	defer b.Close()

	// Must not panic when no handler is registered.
	b.SendOutbound(domain.OutboundMessage{Channel: "telegram", Content: "x"})
}

func TestInMemoryBus_PublishAfterClose(t *testing.T) {
	b := New(10, testLogger())
	b.Close()

	// Must not panic.
	b.Publish(domain.InboundMessage{Channel: "slack"})
}
