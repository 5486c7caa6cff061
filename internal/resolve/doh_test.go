package resolve

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"moshvm/internal/logging"
)

func testResolveLogger() logging.Logger {
	return logging.NewLogger("test", logging.LogLevelError)
}

func withDoHServer(t *testing.T, handler http.HandlerFunc) *DoHResolver {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	prev := dohEndpoint
	dohEndpoint = srv.URL
	t.Cleanup(func() { dohEndpoint = prev })

	return NewDoHResolver(testResolveLogger())
}

func awaitCallback(t *testing.T) (Callback, func() Result) {
	t.Helper()
	var (
		mu  sync.Mutex
		got *Result
	)
	done := make(chan struct{})
	cb := func(r Result) {
		mu.Lock()
		got = &r
		mu.Unlock()
		close(done)
	}
	wait := func() Result {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("callback was never invoked")
		}
		mu.Lock()
		defer mu.Unlock()
		return *got
	}
	return cb, wait
}

func TestDoHResolver_IsValidating(t *testing.T) {
	r := NewDoHResolver(testResolveLogger())
	if !r.IsValidating() {
		t.Fatal("DoHResolver must report IsValidating() == true")
	}
}

func TestDoHResolver_NumericLiteralShortCircuits(t *testing.T) {
	r := withDoHServer(t, func(w http.ResponseWriter, req *http.Request) {
		t.Fatal("numeric literal lookups must not hit the network")
	})

	cb, wait := awaitCallback(t)
	r.Resolve("203.0.113.7", TypeA, cb)
	res := wait()

	if res.Status != OK || res.Authenticity != Authentic {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(res.Results) != 1 || res.Results[0] != "203.0.113.7" {
		t.Fatalf("expected the literal echoed back, got %+v", res.Results)
	}
}

func TestDoHResolver_SuccessfulAQuery(t *testing.T) {
	r := withDoHServer(t, func(w http.ResponseWriter, req *http.Request) {
		if got := req.URL.Query().Get("type"); got != "A" {
			t.Errorf("expected type=A, got %q", got)
		}
		json.NewEncoder(w).Encode(dohResponse{
			Status: 0,
			Answer: []dohAnswer{{Type: 1, Data: "192.0.2.1"}},
		})
	})

	cb, wait := awaitCallback(t)
	r.Resolve("example.com", TypeA, cb)
	res := wait()

	if res.Status != OK || res.Authenticity != Authentic {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(res.Results) != 1 || res.Results[0] != "192.0.2.1" {
		t.Fatalf("expected [192.0.2.1], got %+v", res.Results)
	}
}

func TestDoHResolver_SSHFPQuery(t *testing.T) {
	r := withDoHServer(t, func(w http.ResponseWriter, req *http.Request) {
		if got := req.URL.Query().Get("type"); got != "SSHFP" {
			t.Errorf("expected type=SSHFP, got %q", got)
		}
		json.NewEncoder(w).Encode(dohResponse{
			Answer: []dohAnswer{
				{Type: 44, Data: "1 1 0123456789abcdef0123456789abcdef01234567"},
			},
		})
	})

	cb, wait := awaitCallback(t)
	r.Resolve("example.com", TypeSSHFP, cb)
	res := wait()

	if res.Status != OK {
		t.Fatalf("unexpected status: %+v", res)
	}
	if len(res.Results) != 1 {
		t.Fatalf("expected one SSHFP record, got %+v", res.Results)
	}
}

func TestDoHResolver_NoMatchingAnswerIsNotResolved(t *testing.T) {
	r := withDoHServer(t, func(w http.ResponseWriter, req *http.Request) {
		json.NewEncoder(w).Encode(dohResponse{
			Answer: []dohAnswer{{Type: 28, Data: "2001:db8::1"}},
		})
	})

	cb, wait := awaitCallback(t)
	r.Resolve("example.com", TypeA, cb)
	res := wait()

	if res.Status != NotResolved {
		t.Fatalf("expected NotResolved when no answer matches the requested type, got %+v", res)
	}
}

func TestDoHResolver_HTTPErrorIsNotResolved(t *testing.T) {
	r := withDoHServer(t, func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	cb, wait := awaitCallback(t)
	r.Resolve("example.com", TypeA, cb)
	res := wait()

	if res.Status != NotResolved {
		t.Fatalf("expected NotResolved on a non-200 response, got %+v", res)
	}
}

func TestDoHResolver_MalformedBodyIsNotResolved(t *testing.T) {
	r := withDoHServer(t, func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte("not json"))
	})

	cb, wait := awaitCallback(t)
	r.Resolve("example.com", TypeAAAA, cb)
	res := wait()

	if res.Status != NotResolved {
		t.Fatalf("expected NotResolved on malformed JSON, got %+v", res)
	}
}
