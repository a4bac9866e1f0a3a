package transportudp

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/tutu-network/swim/internal/swim"
)

func TestUDPTransportSendReceiveRoundTrip(t *testing.T) {
	a, err := Listen("127.0.0.1:0", zap.NewNop(), 16)
	if err != nil {
		t.Fatalf("Listen a: %v", err)
	}
	defer a.Close()

	b, err := Listen("127.0.0.1:0", zap.NewNop(), 16)
	if err != nil {
		t.Fatalf("Listen b: %v", err)
	}
	defer b.Close()

	targetB := swim.MemberID{ID: "b", Address: b.LocalAddress()}
	msg := swim.Message{Type: swim.MsgPing, Seq: 42}

	if err := a.Send(context.Background(), msg, targetB); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case inc := <-b.Incoming():
		if inc.Message.Seq != 42 || inc.Message.Type != swim.MsgPing {
			t.Errorf("received message = %+v, want Ping seq=42", inc.Message)
		}
		if inc.Sender.Address != a.LocalAddress() {
			t.Errorf("sender address = %q, want %q", inc.Sender.Address, a.LocalAddress())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("b never received a's datagram")
	}
}

func TestUDPTransportSenderIdentityCachedAfterSend(t *testing.T) {
	a, err := Listen("127.0.0.1:0", zap.NewNop(), 16)
	if err != nil {
		t.Fatalf("Listen a: %v", err)
	}
	defer a.Close()

	b, err := Listen("127.0.0.1:0", zap.NewNop(), 16)
	if err != nil {
		t.Fatalf("Listen b: %v", err)
	}
	defer b.Close()

	namedA := swim.MemberID{ID: "node-a", Address: a.LocalAddress()}
	targetB := swim.MemberID{ID: "b", Address: b.LocalAddress()}

	// b learns a's identity the first time it sends to a.
	if err := b.Send(context.Background(), swim.Message{Type: swim.MsgAck, Seq: 1, Subject: targetB}, namedA); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case <-a.Incoming():
	case <-time.After(2 * time.Second):
		t.Fatal("a never received b's datagram")
	}

	// Now a replies to b; b's receive loop should resolve the sender as namedA's
	// address via the cache populated by its own earlier Send.
	if err := a.Send(context.Background(), swim.Message{Type: swim.MsgPing, Seq: 2}, swim.MemberID{ID: "b", Address: b.LocalAddress()}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case inc := <-b.Incoming():
		if inc.Sender.ID != "node-a" {
			t.Errorf("sender id = %q, want cached id %q", inc.Sender.ID, "node-a")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("b never received a's reply")
	}
}

func TestUDPTransportCloseStopsReceiveLoop(t *testing.T) {
	a, err := Listen("127.0.0.1:0", zap.NewNop(), 16)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case _, ok := <-a.Incoming():
		if ok {
			t.Error("Incoming channel yielded a value after Close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Incoming channel never closed after Close")
	}
}
