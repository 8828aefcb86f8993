package apierr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"syscall"
	"testing"
	"time"
)

// ---------- Kind mapping ----------

func TestStatusMapping_TotalAndStable(t *testing.T) {
	want := map[Kind]int{
		KindInvalidInput:        http.StatusBadRequest,
		KindNotFound:            http.StatusNotFound,
		KindUnauthorized:        http.StatusUnauthorized,
		KindConflict:            http.StatusConflict,
		KindUpstreamUnavailable: http.StatusServiceUnavailable,
		KindUpstreamTimeout:     http.StatusGatewayTimeout,
		KindInternal:            http.StatusInternalServerError,
	}

	ks := Kinds()
	if len(ks) != len(want) {
		t.Fatalf("Kinds() has %d members, want %d", len(ks), len(want))
	}
	for _, k := range ks {
		st, ok := want[k]
		if !ok {
			t.Fatalf("unexpected kind %q", k)
		}
		// Stable: repeated calls always yield the same status.
		if k.Status() != st || k.Status() != st {
			t.Fatalf("Status(%q) = %d, want %d", k, k.Status(), st)
		}
	}
}

func TestRetryable_OnlyUpstreamKinds(t *testing.T) {
	for _, k := range Kinds() {
		want := k == KindUpstreamUnavailable || k == KindUpstreamTimeout
		if k.Retryable() != want {
			t.Fatalf("Retryable(%q) = %v, want %v", k, k.Retryable(), want)
		}
	}
}

func TestStatus_UnknownKindPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for unmapped kind")
		}
	}()
	Kind("bogus").Status()
}

// ---------- Error value ----------

func TestError_StringAndUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	e := E(KindUpstreamUnavailable, "engine unreachable").WithCause(cause)

	if got := e.Error(); got != "upstream_unavailable: engine unreachable: dial tcp: connection refused" {
		t.Fatalf("Error() = %q", got)
	}
	if !errors.Is(e, cause) {
		t.Fatal("cause not reachable via errors.Is")
	}

	var nilErr *Error
	if nilErr.Error() != "<nil>" {
		t.Fatalf("nil Error() = %q", nilErr.Error())
	}
}

func TestWithCauseAndDetail_CopyNotMutate(t *testing.T) {
	base := E(KindConflict, "index job already running")
	withCause := base.WithCause(errors.New("row exists"))
	withDetail := base.WithDetail(map[string]string{"job_id": "j1"})

	if base.Cause != nil || base.Detail != nil {
		t.Fatal("base error was mutated")
	}
	if withCause.Cause == nil || withDetail.Detail == nil {
		t.Fatal("copies missing their fields")
	}
}

func TestInternal_FixedClientMessage(t *testing.T) {
	e := Internal(errors.New("pq: relation jobs does not exist at /app/repo.go:42"))
	if e.Message != "internal server error" {
		t.Fatalf("internal message leaks detail: %q", e.Message)
	}
	if e.Detail != nil {
		t.Fatal("internal detail must stay server-side")
	}
}

// ---------- From classification ----------

type fakeNetErr struct{ timeout bool }

func (e fakeNetErr) Error() string   { return "fake net error" }
func (e fakeNetErr) Timeout() bool   { return e.timeout }
func (e fakeNetErr) Temporary() bool { return true }

func TestFrom_Classification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil stays nil", nil, ""},
		{"deadline exceeded", context.DeadlineExceeded, KindUpstreamTimeout},
		{"wrapped deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), KindUpstreamTimeout},
		{"canceled", context.Canceled, KindUpstreamTimeout},
		{"net timeout", fakeNetErr{timeout: true}, KindUpstreamTimeout},
		{"net transient", fakeNetErr{}, KindUpstreamUnavailable},
		{"op error", &net.OpError{Op: "dial", Err: &os.SyscallError{Syscall: "connect", Err: syscall.ECONNREFUSED}}, KindUpstreamUnavailable},
		{"plain error", errors.New("boom"), KindInternal},
	}
	for _, tc := range cases {
		got := From(tc.err)
		if tc.err == nil {
			if got != nil {
				t.Fatalf("%s: From(nil) = %v", tc.name, got)
			}
			continue
		}
		if got == nil || got.Kind != tc.want {
			t.Fatalf("%s: From(%v) kind = %v, want %v", tc.name, tc.err, got, tc.want)
		}
		if !errors.Is(got, tc.err) {
			t.Fatalf("%s: cause chain broken", tc.name)
		}
	}
}

func TestFrom_Deterministic(t *testing.T) {
	err := &net.OpError{Op: "read", Err: errors.New("connection reset by peer")}
	first := From(err).Kind
	for i := 0; i < 3; i++ {
		if From(err).Kind != first {
			t.Fatal("From is not deterministic for the same input")
		}
	}
}

func TestFrom_PreservesExistingTaxonomyError(t *testing.T) {
	orig := E(KindNotFound, "job not found")
	wrapped := fmt.Errorf("status lookup: %w", orig)
	if got := From(wrapped); got != orig {
		t.Fatalf("From re-classified an already classified error: %v", got)
	}
}

func TestFrom_DeadlineFromRealContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	<-ctx.Done()
	if got := From(ctx.Err()); got.Kind != KindUpstreamTimeout {
		t.Fatalf("ctx deadline → %v, want %v", got.Kind, KindUpstreamTimeout)
	}
}
