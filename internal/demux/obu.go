package demux

import (
	"fmt"
	"io"

	"github.com/pion/rtp/codecs/av1/obu"
)

// maxLeb128Bytes bounds the obu_size field. Longer continuation chains are
// malformed.
const maxLeb128Bytes = 8

// obuHeader is the framing of one OBU as located by the scanner.
type obuHeader struct {
	typ     obu.Type
	hdrLen  int // header byte plus optional extension byte
	sizeLen int // leb128 bytes
	payload int
}

func (h obuHeader) total() int { return h.hdrLen + h.sizeLen + h.payload }

// obuSplitter assembles one temporal unit per call from a low-overhead AV1
// OBU stream. A temporal delimiter that follows at least one other OBU
// closes the current unit and opens the next.
type obuSplitter struct {
	delimiters int64
	hasPayload bool
}

func (s *obuSplitter) next(p *Parser) error {
	rb, a := p.rb, p.asm
	s.hasPayload = false
	for {
		if rb.Len() == 0 {
			if ok, err := p.more(); err != nil {
				return err
			} else if !ok {
				if a.empty() {
					p.log.Debug("end of OBU stream", "temporal_delimiters", s.delimiters)
					return io.EOF
				}
				return nil
			}
		}

		h, err := s.readHeader(p)
		if err != nil {
			return err
		}
		isTD := h.typ == obu.OBUTemporalDelimiter
		if isTD && s.hasPayload {
			return nil
		}

		if h.total() > rb.Cap() {
			return p.formatError(0, fmt.Sprintf("%s OBU of %d bytes exceeds ring capacity %d", h.typ, h.total(), rb.Cap()))
		}
		for rb.Len() < h.total() {
			ok, err := p.more()
			if err != nil {
				return err
			}
			if !ok {
				return p.formatError(0, fmt.Sprintf("truncated %s OBU: %d of %d bytes", h.typ, rb.Len(), h.total()))
			}
		}

		if isTD {
			s.delimiters++
		} else {
			s.hasPayload = true
		}
		if h.typ == obu.OBUFrame || h.typ == obu.OBUFrameHeader {
			if b, ok := rb.PeekByte(h.hdrLen + h.sizeLen); ok && h.payload > 0 && isKeyFrameHeader(b) {
				a.keyframe = true
			}
		}
		a.take(rb, h.total(), 0)
	}
}

// readHeader decodes the OBU header and size field at the read position
// without consuming them.
func (s *obuSplitter) readHeader(p *Parser) (obuHeader, error) {
	rb := p.rb
	b0, _ := rb.PeekByte(0)
	if b0&0x80 != 0 {
		return obuHeader{}, p.formatError(0, "OBU forbidden bit set")
	}
	hdrLen := 1
	if b0&0x04 != 0 {
		hdrLen = 2
	}
	if err := p.need(hdrLen, "truncated OBU header"); err != nil {
		return obuHeader{}, err
	}
	var hb [2]byte
	rb.Peek(0, hb[:hdrLen])
	parsed, err := obu.ParseOBUHeader(hb[:hdrLen])
	if err != nil {
		return obuHeader{}, p.formatError(0, fmt.Sprintf("OBU header: %v", err))
	}
	if !parsed.HasSizeField {
		return obuHeader{}, p.formatError(0, fmt.Sprintf("%s OBU without obu_size field", parsed.Type))
	}

	var lb [maxLeb128Bytes]byte
	for {
		avail := min(maxLeb128Bytes, rb.Len()-hdrLen)
		rb.Peek(hdrLen, lb[:avail])
		size, n, err := obu.ReadLeb128(lb[:avail])
		if err == nil {
			if size > uint(rb.Cap()) {
				return obuHeader{}, p.formatError(0, fmt.Sprintf("%s OBU size %d exceeds ring capacity %d", parsed.Type, size, rb.Cap()))
			}
			return obuHeader{typ: parsed.Type, hdrLen: hdrLen, sizeLen: int(n), payload: int(size)}, nil
		}
		if avail == maxLeb128Bytes {
			return obuHeader{}, p.formatError(int64(hdrLen), "leb128 size exceeds 8 bytes")
		}
		ok, ferr := p.more()
		if ferr != nil {
			return obuHeader{}, ferr
		}
		if !ok {
			return obuHeader{}, p.formatError(int64(hdrLen), "truncated OBU size field")
		}
	}
}

// isKeyFrameHeader reports whether the first byte of an uncompressed frame
// header announces a KEY_FRAME: show_existing_frame == 0 and frame_type == 0.
// Sequences using reduced_still_picture_header code neither field, so there
// the answer is approximate.
func isKeyFrameHeader(b byte) bool {
	return b&0x80 == 0 && (b>>5)&0x03 == 0
}
