package demux

import (
	"bytes"
	"fmt"

	"github.com/zsiec/esfeed/internal/ivf"
	"github.com/zsiec/esfeed/internal/media"
)

// probeWindow is how far into a raw stream ProbeCodec looks for a start code.
const probeWindow = 64 << 10

var startCode3 = []byte{0, 0, 1}

// ProbeCodec guesses the codec of a raw elementary stream from its first
// bytes. An AV1 stream is recognized by a leading temporal delimiter OBU, an
// Annex B stream by the NAL header after its first start code.
func ProbeCodec(head []byte) media.Codec {
	if len(head) >= 2 && head[0] == 0x12 && head[1] == 0x00 {
		return media.CodecAV1
	}
	if len(head) > probeWindow {
		head = head[:probeWindow]
	}
	i := bytes.Index(head, startCode3)
	if i < 0 || i+3 >= len(head) {
		return media.CodecUnknown
	}
	h := head[i+3:]
	if len(h) >= 2 && looksLikeHEVC(h[0], h[1]) {
		return media.CodecHEVC
	}
	if h[0]&0x80 == 0 {
		if t := h[0] & 0x1F; t >= 1 && t <= 23 {
			return media.CodecAVC
		}
	}
	return media.CodecUnknown
}

// looksLikeHEVC accepts the NAL types an HEVC stream opens with (VPS, SPS,
// PPS, AUD, prefix SEI) in the base layer with TemporalId 0.
func looksLikeHEVC(h0, h1 byte) bool {
	if h0&0x80 != 0 || HEVCLayerID(h0, h1) != 0 || HEVCTemporalID(h1) != 0 {
		return false
	}
	switch HEVCNALType(h0) {
	case HEVCNALVPS, HEVCNALSPS, HEVCNALPPS, HEVCNALAUD, HEVCNALSEIPrefix:
		return true
	}
	return false
}

// probeCodec resolves the codec of a stream opened without one.
func (p *Parser) probeCodec() (media.Codec, error) {
	if p.info.Container == media.ContainerIVF {
		if p.info.FourCC == ivf.FourCCAV1 {
			return media.CodecAV1, nil
		}
		return media.CodecUnknown, p.formatError(0, fmt.Sprintf("unsupported IVF fourcc %q", p.info.FourCC))
	}
	if err := p.fill(probeWindow); err != nil {
		return media.CodecUnknown, err
	}
	if p.rb.Len() == 0 {
		// Empty source: Next reports io.EOF straight away.
		return media.CodecUnknown, nil
	}
	head := make([]byte, min(probeWindow, p.rb.Len()))
	p.rb.Peek(0, head)
	c := ProbeCodec(head)
	if c == media.CodecUnknown {
		return c, p.formatError(0, "unrecognized elementary stream")
	}
	return c, nil
}
