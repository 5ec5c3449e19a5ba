package demux

import (
	"io"

	"github.com/zsiec/esfeed/internal/media"
	"github.com/zsiec/esfeed/internal/ring"
)

type scanStatus int

const (
	scanFound scanStatus = iota
	scanNeedMore
	scanEnd
)

// scanResult is the outcome of one start-code scan. For scanFound, offset
// and length locate the start code relative to the ring read position. For
// scanNeedMore, offset is where the scan should resume once more bytes are
// buffered. scanEnd means the source is exhausted and no start code follows.
type scanResult struct {
	status scanStatus
	offset int
	length int
}

// findStartCode scans the buffered bytes of rb from offset from for a
// 00 00 01 pattern. A zero byte immediately before the pattern turns it into
// a 4-byte start code, but only at or above floor, so a 4-byte start code
// never claims bytes of the preceding start code.
func findStartCode(rb *ring.Buffer, from, floor int) scanResult {
	n := rb.Len()
	for i := from; i+2 < n; i++ {
		b2, _ := rb.PeekByte(i + 2)
		if b2 > 1 {
			i += 2
			continue
		}
		if b2 != 1 {
			continue
		}
		b0, _ := rb.PeekByte(i)
		b1, _ := rb.PeekByte(i + 1)
		if b0 != 0 || b1 != 0 {
			continue
		}
		if i-1 >= floor {
			if z, _ := rb.PeekByte(i - 1); z == 0 {
				return scanResult{status: scanFound, offset: i - 1, length: 4}
			}
		}
		return scanResult{status: scanFound, offset: i, length: 3}
	}
	if rb.EOF() {
		return scanResult{status: scanEnd}
	}
	resume := n - 2
	if resume < from {
		resume = from
	}
	return scanResult{status: scanNeedMore, offset: resume}
}

// annexbSplitter assembles one coded picture per call from an Annex B
// stream. Between calls the ring read position always sits on a start code
// of length scLen.
type annexbSplitter struct {
	cls    nalClassifier
	hevc   bool
	synced bool
	scLen  int
	hasVCL bool
}

func newAnnexBSplitter(codec media.Codec) *annexbSplitter {
	if codec == media.CodecHEVC {
		return &annexbSplitter{cls: hevcClassifier{}, hevc: true}
	}
	return &annexbSplitter{cls: avcClassifier{}}
}

func (s *annexbSplitter) next(p *Parser) error {
	if !s.synced {
		if err := s.sync(p); err != nil {
			return err
		}
	}
	rb, a := p.rb, p.asm
	s.hasVCL = false
	for {
		if rb.Len() == 0 {
			if a.empty() {
				return io.EOF
			}
			return nil
		}

		// The header and first slice-header byte follow the start code.
		want := s.scLen + s.cls.headerLen() + 1
		for rb.Len() < want && !rb.EOF() {
			if _, err := p.more(); err != nil {
				return err
			}
		}
		var hdr [3]byte
		hn := min(s.cls.headerLen()+1, rb.Len()-s.scLen)
		rb.Peek(s.scLen, hdr[:hn])
		info := s.cls.classify(hdr[:hn])

		if s.hasVCL && (info.opensAU || (info.vcl && info.firstSlice)) {
			return nil
		}
		if s.hevc && info.vcl && info.firstSlice {
			p.log.Debug("hevc picture", "nal_type", info.typ, "layer", info.layer, "temporal_id", info.tid)
		}

		end, nextLen, err := s.locateEnd(p)
		if err != nil {
			return err
		}
		nal := a.take(rb, end, s.scLen)
		s.scLen = nextLen
		if info.vcl {
			s.hasVCL = true
		}
		if info.keyframe {
			a.keyframe = true
		}
		if info.sps {
			p.noteSPS(nal)
		}
	}
}

// locateEnd returns the length of the NAL unit (start code included) at the
// read position and the length of the start code that follows it, or zero
// when the NAL unit runs to the end of the stream.
func (s *annexbSplitter) locateEnd(p *Parser) (end, nextLen int, err error) {
	rb := p.rb
	from := s.scLen
	for {
		r := findStartCode(rb, from, s.scLen)
		switch r.status {
		case scanFound:
			return r.offset, r.length, nil
		case scanEnd:
			return rb.Len(), 0, nil
		}
		from = r.offset
		if _, err := p.more(); err != nil {
			return 0, 0, err
		}
	}
}

// sync discards any bytes before the first start code.
func (s *annexbSplitter) sync(p *Parser) error {
	rb := p.rb
	var skipped int64
	from := 0
	for {
		r := findStartCode(rb, from, 0)
		switch r.status {
		case scanFound:
			if r.offset > 0 {
				skipped += int64(r.offset)
				rb.Advance(r.offset)
			}
			if skipped > 0 {
				p.log.Warn("skipped bytes before first start code", "bytes", skipped)
			}
			s.synced = true
			s.scLen = r.length
			return nil
		case scanEnd:
			if skipped+int64(rb.Len()) == 0 {
				return io.EOF
			}
			return p.formatError(0, "no start code found")
		}
		// Keep one byte that may be the leading zero of a 4-byte start code.
		if drop := r.offset - 1; drop > 0 {
			rb.Advance(drop)
			skipped += int64(drop)
			r.offset -= drop
		}
		from = r.offset
		if _, err := p.more(); err != nil {
			return err
		}
	}
}
