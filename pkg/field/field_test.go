package field

import "testing"

func TestFromDecimalStringRoundTrip(t *testing.T) {
	e, err := FromDecimalString("12345")
	if err != nil {
		t.Fatalf("FromDecimalString: %v", err)
	}
	if e.String() != "12345" {
		t.Fatalf("expected 12345, got %s", e.String())
	}
}

func TestFromDecimalStringRejectsNonNumeric(t *testing.T) {
	if _, err := FromDecimalString("not-a-number"); err == nil {
		t.Fatal("expected an error for non-numeric input")
	}
	if _, err := FromDecimalString(""); err == nil {
		t.Fatal("expected an error for empty input")
	}
}

func TestZeroIsZero(t *testing.T) {
	if !Zero().IsZero() {
		t.Fatal("expected Zero() to be zero")
	}
	if FromUint64(1).IsZero() {
		t.Fatal("expected FromUint64(1) to be non-zero")
	}
}

func TestEqual(t *testing.T) {
	a := FromUint64(7)
	b := FromUint64(7)
	c := FromUint64(8)
	if !a.Equal(b) {
		t.Fatal("expected equal elements to compare equal")
	}
	if a.Equal(c) {
		t.Fatal("expected distinct elements to compare unequal")
	}
}

func TestAdd(t *testing.T) {
	a := FromUint64(3)
	b := FromUint64(4)
	if got := a.Add(b); got.String() != "7" {
		t.Fatalf("expected 3+4=7, got %s", got.String())
	}
}

func TestBytesRoundTrip(t *testing.T) {
	e := FromUint64(999)
	b := e.Bytes()
	got := FromBytes(b[:])
	if !got.Equal(e) {
		t.Fatalf("expected FromBytes(e.Bytes()) to equal e, got %s vs %s", got.String(), e.String())
	}
}

func TestBigIntRoundTrip(t *testing.T) {
	e, err := FromDecimalString("42")
	if err != nil {
		t.Fatalf("FromDecimalString: %v", err)
	}
	if e.BigInt().Int64() != 42 {
		t.Fatalf("expected BigInt() to be 42, got %s", e.BigInt().String())
	}
}
