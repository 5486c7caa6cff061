package osadapt

import (
	"net"
	"sync"
	"testing"
	"time"
)

type fakeDatagramSender struct {
	bindAddr Sockaddr
	bound    bool
	bindErr  error
	sentTo   []Sockaddr
	closed   bool
}

func (f *fakeDatagramSender) Bind(addr Sockaddr) error {
	if f.bindErr != nil {
		return f.bindErr
	}
	f.bindAddr = addr
	f.bound = true
	return nil
}

func (f *fakeDatagramSender) SendTo(buf []byte, addr Sockaddr) (int, error) {
	f.sentTo = append(f.sentTo, addr)
	return len(buf), nil
}

func (f *fakeDatagramSender) Close() error { f.closed = true; return nil }

func TestDatagramEndpoint_WriteReadyImmediately(t *testing.T) {
	sel := NewSelector(testLogger())
	sender := &fakeDatagramSender{}
	ep := NewDatagramEndpoint(testLogger(), sel, 4, sender, AFInet)
	defer ep.Close()

	if !ep.Target().HasWriteData() {
		t.Fatal("expected a fresh DatagramEndpoint to be write-ready")
	}
}

func TestDatagramEndpoint_ReceiveEmptyIsEWouldBlock(t *testing.T) {
	sel := NewSelector(testLogger())
	sender := &fakeDatagramSender{}
	ep := NewDatagramEndpoint(testLogger(), sel, 4, sender, AFInet)
	defer ep.Close()

	_, _, err := ep.ReceiveFrom(make([]byte, 16), 0)
	if err != EWOULDBLOCK {
		t.Fatalf("expected EWOULDBLOCK, got %v", err)
	}
}

func TestDatagramEndpoint_AddPacketPreservesSource(t *testing.T) {
	sel := NewSelector(testLogger())
	sender := &fakeDatagramSender{}
	ep := NewDatagramEndpoint(testLogger(), sel, 4, sender, AFInet)
	defer ep.Close()

	src := Sockaddr{Family: AFInet, IP: net.IPv4(10, 0, 0, 1), Port: 9999}
	ep.AddPacket(src, []byte("datagram"))

	buf := make([]byte, 32)
	n, from, err := ep.ReceiveFrom(buf, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(buf[:n]) != "datagram" {
		t.Fatalf("got %q, want %q", buf[:n], "datagram")
	}
	if from.String() != src.String() {
		t.Fatalf("source address not preserved: got %v, want %v", from, src)
	}
}

func TestDatagramEndpoint_SendToAutoBinds(t *testing.T) {
	sel := NewSelector(testLogger())
	sender := &fakeDatagramSender{}
	ep := NewDatagramEndpoint(testLogger(), sel, 4, sender, AFInet)
	defer ep.Close()

	dest := Sockaddr{Family: AFInet, IP: net.IPv4(8, 8, 8, 8), Port: 53}
	n, err := ep.SendTo([]byte("q"), 0, dest)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 byte sent, got %d", n)
	}
	if !sender.bound {
		t.Fatal("expected SendTo to auto-bind before the first send")
	}
	if !sender.bindAddr.IsAny() {
		t.Fatalf("expected auto-bind to the wildcard address, got %v", sender.bindAddr)
	}
}

// TestDatagramEndpoint_ConcurrentProducerConsumerNoMissedWakeup mirrors
// StreamEndpoint's equivalent test: many concurrent AddPacket producers
// against a tight-looping ReceiveFrom consumer, run with -race, to catch a
// pop/len split leaving the read-ready edge cleared while packets remain
// queued.
func TestDatagramEndpoint_ConcurrentProducerConsumerNoMissedWakeup(t *testing.T) {
	sel := NewSelector(testLogger())
	sender := &fakeDatagramSender{}
	ep := NewDatagramEndpoint(testLogger(), sel, 4, sender, AFInet)
	defer ep.Close()

	src := Sockaddr{Family: AFInet, IP: net.IPv4(10, 0, 0, 1), Port: 1234}

	const producers = 8
	const perProducer = 500
	want := producers * perProducer

	var wg sync.WaitGroup
	wg.Add(producers)
	for i := 0; i < producers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				ep.AddPacket(src, []byte("x"))
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	got := 0
	buf := make([]byte, 8)
	deadline := time.After(10 * time.Second)
	for got < want {
		_, _, err := ep.ReceiveFrom(buf, 0)
		if err == EWOULDBLOCK {
			select {
			case <-deadline:
				t.Fatalf("stalled after receiving %d/%d packets: missed wakeup", got, want)
			default:
			}
			continue
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got++
	}

	if got != want {
		t.Fatalf("got %d packets, want %d", got, want)
	}
	if ep.Target().HasReadData() {
		t.Fatal("expected read-ready to be clear once the queue is fully drained")
	}
}

func TestDatagramEndpoint_InterleavedAddAndPopAtLockBoundary(t *testing.T) {
	sel := NewSelector(testLogger())
	sender := &fakeDatagramSender{}
	ep := NewDatagramEndpoint(testLogger(), sel, 4, sender, AFInet)
	defer ep.Close()

	src := Sockaddr{Family: AFInet, IP: net.IPv4(10, 0, 0, 1), Port: 1234}

	ep.AddPacket(src, []byte("first"))
	ep.AddPacket(src, []byte("second"))
	if !ep.Target().HasReadData() {
		t.Fatal("expected read-ready after two AddPacket calls")
	}

	buf := make([]byte, 16)
	n, _, err := ep.ReceiveFrom(buf, 0)
	if err != nil || string(buf[:n]) != "first" {
		t.Fatalf("first pop failed: n=%d err=%v", n, err)
	}
	if !ep.Target().HasReadData() {
		t.Fatal("expected read-ready to remain set with one packet still queued")
	}

	n, _, err = ep.ReceiveFrom(buf, 0)
	if err != nil || string(buf[:n]) != "second" {
		t.Fatalf("second pop failed: n=%d err=%v", n, err)
	}
	if ep.Target().HasReadData() {
		t.Fatal("expected read-ready to clear once fully drained")
	}
}

func TestDatagramEndpoint_SendToFamilyMismatchFails(t *testing.T) {
	sel := NewSelector(testLogger())
	sender := &fakeDatagramSender{}
	ep := NewDatagramEndpoint(testLogger(), sel, 4, sender, AFInet)
	defer ep.Close()

	dest := Sockaddr{Family: AFInet6, IP: net.IPv6loopback, Port: 53}
	_, err := ep.SendTo([]byte("q"), 0, dest)
	if err != errFamilyMismatch {
		t.Fatalf("expected family-mismatch error, got %v", err)
	}
	if sender.bound {
		t.Fatal("expected no bind attempt on a family mismatch")
	}
}
