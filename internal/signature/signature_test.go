package signature

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"testing"
	"time"
)

const testSecret = "8f742231b10e8888abcd99yyyzzz85a5"

func signedHeader(secret string, ts time.Time, body []byte) http.Header {
	stamp := strconv.FormatInt(ts.Unix(), 10)
	h := http.Header{}
	h.Set(HeaderTimestamp, stamp)
	h.Set(HeaderSignature, Sign(secret, stamp, body))
	return h
}

func TestVerify_RoundTrip(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	body := []byte("token=abc&command=%2Fquestion&user_id=U1")

	h := signedHeader(testSecret, now, body)
	if !Verify(h, body, testSecret, now) {
		t.Fatal("expected correctly signed request to verify")
	}
}

func TestVerify_WrongSecret(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	body := []byte("payload=%7B%7D")

	h := signedHeader("not-the-secret", now, body)
	if Verify(h, body, testSecret, now) {
		t.Fatal("expected request signed with another secret to fail")
	}
}

func TestVerify_ReplayWindow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	body := []byte("payload=%7B%7D")

	tests := []struct {
		name   string
		signed time.Time
		want   bool
	}{
		{"fresh", now, true},
		{"at window edge", now.Add(-300 * time.Second), true},
		{"301s old", now.Add(-301 * time.Second), false},
		{"301s in the future", now.Add(301 * time.Second), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := signedHeader(testSecret, tt.signed, body)
			if got := Verify(h, body, testSecret, now); got != tt.want {
				t.Errorf("Verify = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVerify_MissingHeaders(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	body := []byte("x=1")
	full := signedHeader(testSecret, now, body)

	noSig := http.Header{}
	noSig.Set(HeaderTimestamp, full.Get(HeaderTimestamp))
	noTS := http.Header{}
	noTS.Set(HeaderSignature, full.Get(HeaderSignature))

	for name, h := range map[string]http.Header{
		"no signature": noSig,
		"no timestamp": noTS,
		"empty":        {},
	} {
		if Verify(h, body, testSecret, now) {
			t.Errorf("%s: expected false", name)
		}
	}
}

func TestVerify_MalformedTimestamp(t *testing.T) {
	h := http.Header{}
	h.Set(HeaderTimestamp, "yesterday")
	h.Set(HeaderSignature, "v0=deadbeef")
	if Verify(h, nil, testSecret, time.Now()) {
		t.Fatal("expected malformed timestamp to fail")
	}
}

func TestVerify_TamperedBody(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	h := signedHeader(testSecret, now, []byte("amount=1"))
	if Verify(h, []byte("amount=1000"), testSecret, now) {
		t.Fatal("expected tampered body to fail")
	}
}

func TestVerifier_Disabled(t *testing.T) {
	v := NewVerifier(Config{Disabled: true, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	if !v.Check(http.Header{}, []byte("anything")) {
		t.Fatal("disabled verifier should accept unsigned requests")
	}
	if !v.Disabled() {
		t.Error("Disabled() = false, want true")
	}
}

func TestVerifier_UsesClock(t *testing.T) {
	signedAt := time.Unix(1_700_000_000, 0)
	body := []byte("payload=%7B%7D")
	h := signedHeader(testSecret, signedAt, body)

	clock := signedAt
	v := NewVerifier(Config{
		Secret: testSecret,
		Now:    func() time.Time { return clock },
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if !v.Check(h, body) {
		t.Fatal("expected fresh request to pass")
	}

	clock = signedAt.Add(10 * time.Minute)
	if v.Check(h, body) {
		t.Fatal("expected replayed request to fail")
	}
}
