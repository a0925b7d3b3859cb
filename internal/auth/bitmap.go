package auth

import (
	"fmt"
	"strings"
)

// BitmapCapacity is the fixed width of every permission bitmap. Permission
// codes are pre-allocated integers below this bound; the width never changes
// for the lifetime of the system because the stored representation is a
// Postgres bit(256) column compared bit-for-bit.
const BitmapCapacity = 256

// Bitmap is a fixed 256-bit permission set. Bit index equals permission code.
// The zero value is the empty set.
type Bitmap [BitmapCapacity / 64]uint64

// Set sets or clears a single bit. Index outside [0, BitmapCapacity) is a
// programming error and panics.
func (b *Bitmap) Set(index int, value bool) {
	if index < 0 || index >= BitmapCapacity {
		panic(fmt.Sprintf("auth: bitmap index %d out of range", index))
	}
	word, bit := index/64, uint(index%64)
	if value {
		b[word] |= 1 << bit
	} else {
		b[word] &^= 1 << bit
	}
}

// Test reports whether the bit at index is set.
func (b Bitmap) Test(index int) bool {
	if index < 0 || index >= BitmapCapacity {
		panic(fmt.Sprintf("auth: bitmap index %d out of range", index))
	}
	return b[index/64]&(1<<uint(index%64)) != 0
}

// Covers reports whether every bit set in required is also set in b,
// i.e. (b AND required) == required. This is the sole semantic the
// authorization decision relies on.
func (b Bitmap) Covers(required Bitmap) bool {
	for i := range b {
		if b[i]&required[i] != required[i] {
			return false
		}
	}
	return true
}

// String returns the canonical serialized form: a 256-character string of
// '0'/'1' where character position i carries bit i ('1' = set). The same
// ordering is used in process, as a SQL parameter and in the persisted
// bit(256) column.
func (b Bitmap) String() string {
	var sb strings.Builder
	sb.Grow(BitmapCapacity)
	for i := 0; i < BitmapCapacity; i++ {
		if b.Test(i) {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}

// ParseBitmap decodes the canonical form produced by String. Inputs shorter
// than the capacity are right-padded with zero bits; longer inputs or
// characters other than '0'/'1' are rejected.
func ParseBitmap(s string) (Bitmap, error) {
	var b Bitmap
	if len(s) > BitmapCapacity {
		return Bitmap{}, fmt.Errorf("%w: bitmap longer than %d bits", ErrInvalidInput, BitmapCapacity)
	}
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '1':
			b.Set(i, true)
		case '0':
		default:
			return Bitmap{}, fmt.Errorf("%w: bitmap contains %q", ErrInvalidInput, s[i])
		}
	}
	return b, nil
}

// RequiredSet builds an ad-hoc bitmap from the permissions a protected
// action declares. It exists only for the duration of one check.
func RequiredSet(perms ...Permission) Bitmap {
	var b Bitmap
	for _, p := range perms {
		b.Set(int(p), true)
	}
	return b
}
