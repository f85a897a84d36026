package liveupload

// DefaultPartSize is the size of every part but the last one. 5 MiB is also the smallest
// part size S3 accepts for a non-final part.
const DefaultPartSize = 5 * 1024 * 1024

// PartAssembler slices a byte stream into fixed-size parts.
type PartAssembler struct {
	partSize int
	buf      []byte
}

// NewPartAssembler ...
func NewPartAssembler(partSize int) *PartAssembler {
	if partSize <= 0 {
		partSize = DefaultPartSize
	}
	return &PartAssembler{
		partSize: partSize,
		buf:      make([]byte, 0, partSize),
	}
}

// Feed appends b to the buffer.
func (a *PartAssembler) Feed(b []byte) {
	a.buf = append(a.buf, b...)
}

// HasFullPart reports whether at least one full part is buffered.
func (a *PartAssembler) HasFullPart() bool {
	return len(a.buf) >= a.partSize
}

// TakeFullPart removes and returns exactly partSize bytes, or nil if no full part is buffered.
func (a *PartAssembler) TakeFullPart() []byte {
	if !a.HasFullPart() {
		return nil
	}

	part := make([]byte, a.partSize)
	copy(part, a.buf[:a.partSize])

	rest := copy(a.buf, a.buf[a.partSize:])
	a.buf = a.buf[:rest]

	return part
}

// TakeFinalPart drains the remainder as the last, possibly undersized part.
// It returns nil when nothing is buffered.
func (a *PartAssembler) TakeFinalPart() []byte {
	if len(a.buf) == 0 {
		return nil
	}

	part := make([]byte, len(a.buf))
	copy(part, a.buf)
	a.buf = a.buf[:0]

	return part
}

// Buffered returns the number of bytes not yet emitted.
func (a *PartAssembler) Buffered() int {
	return len(a.buf)
}

// PartSize ...
func (a *PartAssembler) PartSize() int {
	return a.partSize
}
