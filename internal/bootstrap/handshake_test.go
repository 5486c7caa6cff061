package bootstrap

import "testing"

// scenario 5: Handshake parse.
func TestParseHandshake(t *testing.T) {
	reply := "\r\nMOSH IP 10.0.0.1\r\nMOSH CONNECT 60001 ABCDEFGHIJKLMNOPQRSTUV\r\n"
	h, err := parseHandshake(reply)
	if err != nil {
		t.Fatalf("parseHandshake: %s", err)
	}
	if h.MoshAddr != "10.0.0.1" {
		t.Errorf("MoshAddr = %q, want 10.0.0.1", h.MoshAddr)
	}
	if h.MoshPort != "60001" {
		t.Errorf("MoshPort = %q, want 60001", h.MoshPort)
	}
	if h.MoshKey != "ABCDEFGHIJKLMNOPQRSTUV" {
		t.Errorf("MoshKey = %q, want ABCDEFGHIJKLMNOPQRSTUV", h.MoshKey)
	}
}

func TestParseHandshake_MissingConnectFails(t *testing.T) {
	if _, err := parseHandshake("\r\nMOSH IP 10.0.0.1\r\n"); err == nil {
		t.Fatal("expected error for a reply with no MOSH CONNECT line")
	}
}

func TestParseHandshake_TruncatesOverlongFields(t *testing.T) {
	reply := "MOSH CONNECT 123456 " + string(make([]byte, 40)) + "\r\n"
	h, err := parseHandshake(reply)
	if err != nil {
		t.Fatalf("parseHandshake: %s", err)
	}
	if len(h.MoshPort) != 5 {
		t.Errorf("MoshPort length = %d, want 5", len(h.MoshPort))
	}
	if len(h.MoshKey) != 22 {
		t.Errorf("MoshKey length = %d, want 22", len(h.MoshKey))
	}
}

func TestNormalizeToCRLF(t *testing.T) {
	got := normalizeToCRLF("a\nb\r\nc\n")
	want := "a\r\nb\r\nc\r\n"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
