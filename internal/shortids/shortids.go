// Package shortids encodes integer primary keys as compact URL-safe tokens.
// The mapping is bijective but not order-preserving, so public URLs do not
// expose enumerable sequential ids.
package shortids

import (
	"encoding/base32"
	"encoding/binary"
	"errors"
	"strings"
)

// ErrInvalidID is returned for tokens that do not decode to a valid id.
var ErrInvalidID = errors.New("invalid short id")

const (
	// Ids are permuted inside the 60-bit domain by an odd multiplier; the
	// two constants are multiplicative inverses mod 2^60.
	idBits  = 60
	idMask  = uint64(1)<<idBits - 1
	mult    = uint64(0x0B1F9E4D52C7A6B3)
	multInv = uint64(0x0B8CEB4ACBD5787B)
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// MaxID is the largest id the codec accepts.
const MaxID = int64(idMask)

// Encode maps a positive id to its token.
func Encode(id int64) string {
	if id <= 0 || id > MaxID {
		// Ids come from bigserial primary keys; anything outside the
		// domain is a programming error.
		panic("shortids: id out of range")
	}
	scrambled := (uint64(id) * mult) & idMask
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], scrambled)
	return strings.ToLower(encoding.EncodeToString(buf[:]))
}

// Decode maps a token back to its id, returning ErrInvalidID on any
// malformed or out-of-domain input.
func Decode(token string) (int64, error) {
	if token == "" {
		return 0, ErrInvalidID
	}
	raw, err := encoding.DecodeString(strings.ToUpper(token))
	if err != nil || len(raw) != 8 {
		return 0, ErrInvalidID
	}
	scrambled := binary.BigEndian.Uint64(raw)
	if scrambled > idMask {
		return 0, ErrInvalidID
	}
	id := (scrambled * multInv) & idMask
	if id == 0 {
		return 0, ErrInvalidID
	}
	return int64(id), nil
}
