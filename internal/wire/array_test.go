package wire

import "testing"

func u8Size(buf []byte) (int, error) {
	if len(buf) < 1 {
		return 0, ErrShortBuffer
	}
	return 1, nil
}

func TestZTArrayIterRoundTrip(t *testing.T) {
	buf := []byte{1, 2, 3, 0}
	it := NewZTArrayIter(buf, u8Size)

	var got []byte
	for {
		elem, ok, err := it.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, elem...)
	}
	if string(got) != string([]byte{1, 2, 3}) {
		t.Fatalf("got %v, want [1 2 3]", got)
	}

	size, err := ZTArraySize(buf, u8Size)
	if err != nil {
		t.Fatalf("ZTArraySize: %v", err)
	}
	if size != 4 {
		t.Fatalf("ZTArraySize = %d, want 4", size)
	}
}

func TestZTArrayIterEmpty(t *testing.T) {
	buf := []byte{0}
	it := NewZTArrayIter(buf, u8Size)
	_, ok, err := it.Next()
	if err != nil || ok {
		t.Fatalf("expected immediate sentinel, got ok=%v err=%v", ok, err)
	}
}

func TestArrayCountRoundTrip(t *testing.T) {
	for _, kind := range []ArrayLenKind{ArrayLenU8, ArrayLenI16, ArrayLenI32} {
		buf := PutArrayCount(nil, kind, 7)
		n, err := ArrayCount(buf, kind)
		if err != nil {
			t.Fatalf("ArrayCount(%v): %v", kind, err)
		}
		if n != 7 {
			t.Fatalf("ArrayCount(%v) = %d, want 7", kind, n)
		}
	}
}

func TestArrayIterRoundTrip(t *testing.T) {
	buf := []byte{10, 20, 30}
	it := NewArrayIter(buf, 3, u8Size)
	var got []byte
	for {
		elem, ok, err := it.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, elem[0])
	}
	if len(got) != 3 || got[0] != 10 || got[1] != 20 || got[2] != 30 {
		t.Fatalf("got %v, want [10 20 30]", got)
	}

	size, err := ArraySize(buf, 3, u8Size)
	if err != nil {
		t.Fatalf("ArraySize: %v", err)
	}
	if size != 3 {
		t.Fatalf("ArraySize = %d, want 3", size)
	}
}
