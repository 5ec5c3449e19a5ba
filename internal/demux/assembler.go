package demux

import (
	"fmt"

	"github.com/zsiec/esfeed/internal/media"
	"github.com/zsiec/esfeed/internal/ring"
)

// DefaultUnitCapacity is the initial size of the linear unit buffer.
const DefaultUnitCapacity = 2 << 20

type span struct{ lo, hi int }

// assembler copies the bytes of one decodable unit out of the ring into a
// contiguous buffer. The buffer grows by doubling and is never shrunk, so a
// long stream settles into zero allocations per unit.
type assembler struct {
	buf      []byte
	spans    []span
	parts    [][]byte
	offset   int64
	keyframe bool
	pts      int64
	unit     media.Unit
}

func newAssembler(capacity int) *assembler {
	if capacity < 1 {
		capacity = DefaultUnitCapacity
	}
	return &assembler{buf: make([]byte, 0, capacity)}
}

func (a *assembler) reset() {
	a.buf = a.buf[:0]
	a.spans = a.spans[:0]
	a.keyframe = false
	a.pts = 0
}

func (a *assembler) empty() bool { return len(a.buf) == 0 }

// appendFrom copies n bytes at the ring's read position into the unit,
// consumes them from the ring and returns the unit offset they landed at.
func (a *assembler) appendFrom(rb *ring.Buffer, n int) int {
	if len(a.buf) == 0 {
		a.offset = rb.Consumed()
	}
	base := len(a.buf)
	if need := base + n; need > cap(a.buf) {
		newCap := 2 * cap(a.buf)
		if newCap < need {
			newCap = need
		}
		grown := make([]byte, base, newCap)
		copy(grown, a.buf)
		a.buf = grown
	}
	var ok bool
	a.buf, ok = rb.AppendTo(a.buf, 0, n)
	if !ok {
		panic(fmt.Sprintf("demux: assembling %d bytes with %d buffered", n, rb.Len()))
	}
	rb.Advance(n)
	return base
}

// take copies one NAL unit or OBU of n bytes and records it as a part,
// excluding the first skip bytes (the start code).
func (a *assembler) take(rb *ring.Buffer, n, skip int) []byte {
	base := a.appendFrom(rb, n)
	a.addPart(base+skip, base+n)
	return a.buf[base+skip : base+n]
}

func (a *assembler) addPart(lo, hi int) {
	a.spans = append(a.spans, span{lo, hi})
}

// finish publishes the assembled bytes as a Unit. The returned pointer and
// its slices stay valid until the next reset.
func (a *assembler) finish(codec media.Codec, index int64) *media.Unit {
	a.parts = a.parts[:0]
	for _, s := range a.spans {
		a.parts = append(a.parts, a.buf[s.lo:s.hi])
	}
	a.unit = media.Unit{
		Data:       a.buf,
		Parts:      a.parts,
		Codec:      codec,
		Index:      index,
		Offset:     a.offset,
		IsKeyframe: a.keyframe,
		PTS:        a.pts,
	}
	return &a.unit
}
