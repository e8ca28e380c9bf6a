package wire

// ElementCodec is the minimal capability an element type needs to
// live inside a ZTArray or Array field: it must know its own
// serialized size at the head of a buffer.
type ElementCodec interface {
	// SizeOfElementAt returns the number of bytes the element occupies
	// starting at buf[0].
	SizeOfElementAt(buf []byte) (int, error)
}

// ZTArrayIter walks a ZTArray<T> field: a sequence of fixed-shape
// elements terminated by a single 0x00 sentinel byte occupying the
// position the next element would start at. It is restartable by
// re-slicing the original buffer; it holds no state beyond a cursor.
type ZTArrayIter struct {
	buf    []byte
	off    int
	sizeOf func(buf []byte) (int, error)
}

// NewZTArrayIter constructs an iterator over buf using sizeOf to
// measure each element. buf must start at the first element (or the
// sentinel, if the array is empty).
func NewZTArrayIter(buf []byte, sizeOf func(buf []byte) (int, error)) *ZTArrayIter {
	return &ZTArrayIter{buf: buf, sizeOf: sizeOf}
}

// Next returns the next element's raw bytes, or ok=false once the
// sentinel is reached.
func (it *ZTArrayIter) Next() (elem []byte, ok bool, err error) {
	if it.off >= len(it.buf) {
		return nil, false, ErrShortBuffer
	}
	if it.buf[it.off] == 0 {
		return nil, false, nil
	}
	n, err := it.sizeOf(it.buf[it.off:])
	if err != nil {
		return nil, false, err
	}
	elem = it.buf[it.off : it.off+n]
	it.off += n
	return elem, true, nil
}

// ZTArraySize measures the total byte size (elements plus the
// trailing 0x00 sentinel) of a ZTArray<T> starting at buf[0].
func ZTArraySize(buf []byte, sizeOf func(buf []byte) (int, error)) (int, error) {
	off := 0
	for {
		if off >= len(buf) {
			return 0, ErrShortBuffer
		}
		if buf[off] == 0 {
			return off + 1, nil
		}
		n, err := sizeOf(buf[off:])
		if err != nil {
			return 0, err
		}
		off += n
	}
}

// ArrayLenKind is the integer width used as the element count prefix
// of an Array<L,T> field.
type ArrayLenKind int

const (
	ArrayLenU8 ArrayLenKind = iota
	ArrayLenI16
	ArrayLenI32
)

func (k ArrayLenKind) width() int {
	switch k {
	case ArrayLenU8:
		return 1
	case ArrayLenI16:
		return 2
	default:
		return 4
	}
}

// ArrayCount reads the element count prefix of an Array<L,T> field.
func ArrayCount(buf []byte, kind ArrayLenKind) (int, error) {
	w := kind.width()
	if len(buf) < w {
		return 0, ErrShortBuffer
	}
	switch kind {
	case ArrayLenU8:
		return int(U8(buf)), nil
	case ArrayLenI16:
		return int(I16(buf)), nil
	default:
		return int(I32(buf)), nil
	}
}

// PutArrayCount appends the element count prefix.
func PutArrayCount(dst []byte, kind ArrayLenKind, n int) []byte {
	switch kind {
	case ArrayLenU8:
		return PutU8(dst, uint8(n))
	case ArrayLenI16:
		return PutI16(dst, int16(n))
	default:
		return PutI32(dst, int32(n))
	}
}

// ArrayIter walks an Array<L,T> field after its count prefix has been
// consumed by the caller (the count is usually needed up front to
// size a destination slice, so it is not re-derived here).
type ArrayIter struct {
	buf    []byte
	off    int
	n      int
	i      int
	sizeOf func(buf []byte) (int, error)
}

// NewArrayIter constructs an iterator over the n elements starting at
// buf[0] (buf must NOT include the count prefix).
func NewArrayIter(buf []byte, n int, sizeOf func(buf []byte) (int, error)) *ArrayIter {
	return &ArrayIter{buf: buf, n: n, sizeOf: sizeOf}
}

// Next returns the next element, or ok=false once n elements have
// been yielded.
func (it *ArrayIter) Next() (elem []byte, ok bool, err error) {
	if it.i >= it.n {
		return nil, false, nil
	}
	size, err := it.sizeOf(it.buf[it.off:])
	if err != nil {
		return nil, false, err
	}
	elem = it.buf[it.off : it.off+size]
	it.off += size
	it.i++
	return elem, true, nil
}

// ArraySize measures the total byte size of n elements (not including
// the count prefix) starting at buf[0].
func ArraySize(buf []byte, n int, sizeOf func(buf []byte) (int, error)) (int, error) {
	off := 0
	for i := 0; i < n; i++ {
		size, err := sizeOf(buf[off:])
		if err != nil {
			return 0, err
		}
		off += size
	}
	return off, nil
}
