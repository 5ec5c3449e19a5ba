package demux

import (
	"fmt"
	"io"

	"github.com/pion/rtp/codecs/av1/obu"

	"github.com/zsiec/esfeed/internal/ivf"
	"github.com/zsiec/esfeed/internal/media"
)

// detectContainer checks once per stream for a leading IVF file header and
// skips it. Without the IVF signature the ring is left untouched.
func (p *Parser) detectContainer(want media.Container) error {
	if p.containerChecked {
		return nil
	}
	p.containerChecked = true
	p.info.Container = media.ContainerNone
	if want == media.ContainerNone {
		return nil
	}

	if err := p.fill(ivf.FileHeaderSize); err != nil {
		return err
	}
	var head [ivf.FileHeaderSize]byte
	n := min(len(head), p.rb.Len())
	p.rb.Peek(0, head[:n])
	if !ivf.HasMagic(head[:n]) {
		if want == media.ContainerIVF {
			return p.formatError(0, "missing IVF signature")
		}
		return nil
	}

	h, err := ivf.ParseFileHeader(head[:n])
	if err != nil {
		return p.formatError(0, err.Error())
	}
	if int(h.HeaderSize) > p.rb.Cap() {
		return p.formatError(0, fmt.Sprintf("IVF header size %d exceeds ring capacity", h.HeaderSize))
	}
	if err := p.need(int(h.HeaderSize), "truncated IVF file header"); err != nil {
		return err
	}
	p.rb.Advance(int(h.HeaderSize))

	p.ivfHeader = h
	p.info.Container = media.ContainerIVF
	p.info.FourCC = h.FourCC
	p.info.Width = int(h.Width)
	p.info.Height = int(h.Height)
	p.info.TimebaseNum = h.TimebaseNum
	p.info.TimebaseDen = h.TimebaseDen
	p.info.FrameCount = h.FrameCount
	p.log.Debug("IVF header",
		"fourcc", h.FourCC,
		"width", h.Width,
		"height", h.Height,
		"timebase", fmt.Sprintf("%d/%d", h.TimebaseNum, h.TimebaseDen),
		"frames", h.FrameCount,
	)
	return nil
}

// ivfSplitter emits one IVF frame per call. Frame boundaries come from the
// frame headers; AV1 payloads are additionally split into OBU parts.
type ivfSplitter struct {
	splitOBUs bool
}

func (s *ivfSplitter) next(p *Parser) error {
	rb, a := p.rb, p.asm
	for {
		if err := p.fill(ivf.FrameHeaderSize); err != nil {
			return err
		}
		if rb.Len() == 0 {
			return io.EOF
		}
		if rb.Len() < ivf.FrameHeaderSize {
			return p.formatError(0, "truncated IVF frame header")
		}
		var hb [ivf.FrameHeaderSize]byte
		rb.Peek(0, hb[:])
		fh, err := ivf.ParseFrameHeader(hb[:])
		if err != nil {
			return p.formatError(0, err.Error())
		}
		total := int64(ivf.FrameHeaderSize) + int64(fh.Size)
		if total > int64(rb.Cap()) {
			return p.formatError(0, fmt.Sprintf("IVF frame of %d bytes exceeds ring capacity %d", fh.Size, rb.Cap()))
		}
		if err := p.need(int(total), "truncated IVF frame"); err != nil {
			return err
		}
		rb.Advance(ivf.FrameHeaderSize)
		if fh.Size == 0 {
			p.log.Debug("skipping empty IVF frame", "pts", fh.Timestamp)
			continue
		}

		base := a.appendFrom(rb, int(fh.Size))
		a.pts = int64(fh.Timestamp)
		if !s.splitOBUs || !splitOBUs(a, base) {
			a.spans = a.spans[:0]
			a.keyframe = false
			a.addPart(base, len(a.buf))
		}
		return nil
	}
}

// splitOBUs records every OBU of the frame starting at base as a part. It
// reports false if the payload is not a clean sequence of sized OBUs.
func splitOBUs(a *assembler, base int) bool {
	data := a.buf[base:]
	off := 0
	for off < len(data) {
		h, err := obu.ParseOBUHeader(data[off:])
		if err != nil || !h.HasSizeField {
			return false
		}
		sizeAt := off + h.Size()
		if sizeAt >= len(data) {
			return false
		}
		size, n, err := obu.ReadLeb128(data[sizeAt:min(len(data), sizeAt+maxLeb128Bytes)])
		if err != nil || size > uint(len(data)) {
			return false
		}
		payloadAt := sizeAt + int(n)
		end := payloadAt + int(size)
		if end > len(data) {
			return false
		}
		if (h.Type == obu.OBUFrame || h.Type == obu.OBUFrameHeader) && size > 0 && isKeyFrameHeader(data[payloadAt]) {
			a.keyframe = true
		}
		a.addPart(base+off, base+end)
		off = end
	}
	return true
}
