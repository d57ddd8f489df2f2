package runtime

import "testing"

func TestStatusCodeTriState(t *testing.T) {
	cases := []StatusCode{
		StatusGood,
		StatusProcessing,
		StatusBadTimeout,
		StatusBadCRC,
		StatusBadConnection,
		StatusBadInvalidArgument,
		StatusBadException(0x02),
		StatusBadException(0xFF),
	}

	for _, s := range cases {
		n := 0
		if s.IsGood() {
			n++
		}
		if s.IsProcessing() {
			n++
		}
		if s.IsBad() {
			n++
		}
		if n != 1 {
			t.Errorf("status %v (%d): expected exactly one of Good/Processing/Bad, got %d", s, int(s), n)
		}
	}
}

func TestStatusBadException(t *testing.T) {
	s := StatusBadException(0x02)
	if !s.IsBad() {
		t.Fatal("exception status must be bad")
	}
	ec, ok := s.ExceptionCode()
	if !ok || ec != 0x02 {
		t.Fatalf("ExceptionCode() = %d, %v; want 0x02, true", ec, ok)
	}

	if _, ok := StatusGood.ExceptionCode(); ok {
		t.Fatal("StatusGood must not report an exception code")
	}
}
