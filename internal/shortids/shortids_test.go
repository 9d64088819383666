package shortids

import (
	"errors"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	ids := []int64{1, 2, 3, 42, 12345, 1 << 20, 1 << 40, MaxID}
	for _, id := range ids {
		token := Encode(id)
		got, err := Decode(token)
		if err != nil {
			t.Fatalf("Decode(%q) err=%v", token, err)
		}
		if got != id {
			t.Fatalf("Decode(Encode(%d))=%d", id, got)
		}
	}
}

func TestTokensAreNotSequential(t *testing.T) {
	// Consecutive ids must not produce tokens differing only in the last
	// character, which would make other users' uploads enumerable.
	a, b := Encode(1), Encode(2)
	if a == b {
		t.Fatalf("distinct ids encoded identically")
	}
	if a[:len(a)-1] == b[:len(b)-1] {
		t.Fatalf("tokens %q and %q differ only in the final char", a, b)
	}
}

func TestDecode_Malformed(t *testing.T) {
	for _, token := range []string{"", "!!!", "abc", "aaaaaaaaaaaaaaaaaaaaaaaaaaaa", "====="} {
		if _, err := Decode(token); !errors.Is(err, ErrInvalidID) {
			t.Fatalf("Decode(%q) err=%v, want ErrInvalidID", token, err)
		}
	}
}

func TestEncode_RejectsNonPositive(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for id 0")
		}
	}()
	Encode(0)
}
