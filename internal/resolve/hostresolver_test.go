package resolve

import "testing"

func TestHostResolver_IsValidating(t *testing.T) {
	r := NewHostResolver(testResolveLogger())
	if r.IsValidating() {
		t.Fatal("HostResolver must report IsValidating() == false")
	}
}

func TestHostResolver_SSHFPUnsupported(t *testing.T) {
	r := NewHostResolver(testResolveLogger())

	cb, wait := awaitCallback(t)
	r.Resolve("example.com", TypeSSHFP, cb)
	res := wait()

	if res.Status != TypeNotSupported {
		t.Fatalf("expected TypeNotSupported for SSHFP, got %+v", res)
	}
	if res.Authenticity != Insecure {
		t.Fatalf("expected Insecure authenticity, got %+v", res)
	}
}

func TestHostResolver_UnknownRRTypeUnsupported(t *testing.T) {
	r := NewHostResolver(testResolveLogger())

	cb, wait := awaitCallback(t)
	r.Resolve("example.com", RRType(99), cb)
	res := wait()

	if res.Status != TypeNotSupported {
		t.Fatalf("expected TypeNotSupported for an unknown RRType, got %+v", res)
	}
}
