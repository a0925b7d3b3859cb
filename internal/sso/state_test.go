package sso

import (
	"testing"
	"time"
)

func TestStateSealRoundTrip(t *testing.T) {
	sealer, err := NewStateSealer([]byte("a-sufficiently-long-secret"))
	if err != nil {
		t.Fatalf("NewStateSealer: %v", err)
	}
	want := State{
		ValidUntil: time.Now().UTC().Add(15 * time.Minute).Truncate(time.Second),
		Nonce:      "nonce-123",
	}
	sealed, err := sealer.Seal(want)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	got, err := sealer.Open(sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got.Nonce != want.Nonce || !got.ValidUntil.Equal(want.ValidUntil) {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, want)
	}
}

func TestStateOpenRejectsTampering(t *testing.T) {
	sealer, err := NewStateSealer([]byte("a-sufficiently-long-secret"))
	if err != nil {
		t.Fatalf("NewStateSealer: %v", err)
	}
	sealed, err := sealer.Seal(State{Nonce: "n"})
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	cases := map[string]string{
		"truncated":     sealed[:len(sealed)/2],
		"flipped":       "A" + sealed[1:],
		"not base64url": "%%%",
		"empty":         "",
	}
	for name, input := range cases {
		if _, err := sealer.Open(input); err == nil {
			t.Errorf("%s input must not unseal", name)
		}
	}
}

func TestStateOpenRejectsForeignKey(t *testing.T) {
	a, _ := NewStateSealer([]byte("secret-one-0123456789"))
	b, _ := NewStateSealer([]byte("secret-two-0123456789"))
	sealed, err := a.Seal(State{Nonce: "n"})
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := b.Open(sealed); err == nil {
		t.Fatal("state sealed under another key must not unseal")
	}
}
