package agentwire

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	original := []byte("some ssh-agent reply payload")
	framed := Encode(original)

	var d Decoder
	packets, err := d.Feed(framed)
	if err != nil {
		t.Fatalf("Feed: %s", err)
	}
	if len(packets) != 1 {
		t.Fatalf("got %d packets, want 1", len(packets))
	}
	if !bytes.Equal(packets[0], original) {
		t.Errorf("got %q, want %q", packets[0], original)
	}
}

func TestDecoder_PartialPacketNotReported(t *testing.T) {
	framed := Encode([]byte("hello agent"))

	var d Decoder
	packets, err := d.Feed(framed[:len(framed)-3])
	if err != nil {
		t.Fatalf("Feed: %s", err)
	}
	if len(packets) != 0 {
		t.Fatalf("got %d packets from a partial feed, want 0", len(packets))
	}

	packets, err = d.Feed(framed[len(framed)-3:])
	if err != nil {
		t.Fatalf("Feed: %s", err)
	}
	if len(packets) != 1 {
		t.Fatalf("got %d packets, want 1", len(packets))
	}
	if string(packets[0]) != "hello agent" {
		t.Errorf("got %q", packets[0])
	}
}

func TestDecoder_MultiplePacketsInOneFeed(t *testing.T) {
	var d Decoder
	combined := append(Encode([]byte("one")), Encode([]byte("two"))...)
	packets, err := d.Feed(combined)
	if err != nil {
		t.Fatalf("Feed: %s", err)
	}
	if len(packets) != 2 || string(packets[0]) != "one" || string(packets[1]) != "two" {
		t.Fatalf("got %v", packets)
	}
}
