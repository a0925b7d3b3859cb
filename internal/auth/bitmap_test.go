package auth

import (
	"strings"
	"testing"
)

func TestBitmapSetAndCovers(t *testing.T) {
	var b Bitmap
	b.Set(10, true)
	b.Set(20, true)

	if !b.Covers(RequiredSet(PermReadProject)) {
		t.Fatalf("expected bit 10 to be covered")
	}
	if !b.Covers(RequiredSet(PermReadProject, PermReadCustomer)) {
		t.Fatalf("expected bits 10+20 to be covered")
	}
	if b.Covers(RequiredSet(PermReadUser)) {
		t.Fatalf("bit 30 was never set")
	}

	b.Set(10, false)
	if b.Covers(RequiredSet(PermReadProject)) {
		t.Fatalf("bit 10 was cleared")
	}
}

func TestBitmapCoversIsMonotonic(t *testing.T) {
	var b Bitmap
	b.Set(10, true)
	b.Set(20, true)
	b.Set(255, true)

	wide := RequiredSet(PermReadProject, PermReadCustomer)
	narrow := RequiredSet(PermReadProject)
	if !b.Covers(wide) {
		t.Fatalf("expected wide set to be covered")
	}
	// Any subset of a covered set must also be covered.
	if !b.Covers(narrow) {
		t.Fatalf("expected subset to be covered")
	}
	if !b.Covers(Bitmap{}) {
		t.Fatalf("the empty set is a subset of everything")
	}
}

func TestBitmapStringRoundTrip(t *testing.T) {
	var b Bitmap
	for _, i := range []int{0, 1, 10, 63, 64, 127, 128, 200, 255} {
		b.Set(i, true)
	}

	s := b.String()
	if len(s) != BitmapCapacity {
		t.Fatalf("expected %d characters, got %d", BitmapCapacity, len(s))
	}
	if s[0] != '1' || s[255] != '1' || s[2] != '0' {
		t.Fatalf("unexpected serialization: %s", s)
	}

	parsed, err := ParseBitmap(s)
	if err != nil {
		t.Fatalf("ParseBitmap: %v", err)
	}
	if parsed != b {
		t.Fatalf("round trip changed the bit pattern")
	}
}

func TestParseBitmapPadsShortInput(t *testing.T) {
	b, err := ParseBitmap("0101")
	if err != nil {
		t.Fatalf("ParseBitmap: %v", err)
	}
	if b.Test(0) || !b.Test(1) || b.Test(2) || !b.Test(3) {
		t.Fatalf("unexpected bits: %s", b.String())
	}
	for i := 4; i < BitmapCapacity; i++ {
		if b.Test(i) {
			t.Fatalf("expected trailing zero bit at %d", i)
		}
	}
}

func TestParseBitmapRejectsBadInput(t *testing.T) {
	if _, err := ParseBitmap(strings.Repeat("0", BitmapCapacity+1)); err == nil {
		t.Fatalf("expected error for oversized input")
	}
	if _, err := ParseBitmap("01x"); err == nil {
		t.Fatalf("expected error for non-binary character")
	}
}

func TestBitmapSetPanicsOutOfRange(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for out-of-range index")
		}
	}()
	var b Bitmap
	b.Set(BitmapCapacity, true)
}
