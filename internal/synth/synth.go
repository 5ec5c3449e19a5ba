// Package synth builds small synthetic elementary streams: Annex B H.264 and
// H.265, AV1 OBU streams and IVF files. Payload bytes never emulate a start
// code, so the boundaries a parser finds are exactly the ones built here.
package synth

import (
	"fmt"

	"github.com/bluenviron/mediacommon/pkg/codecs/h264"
	"github.com/pion/rtp/codecs/av1/obu"

	"github.com/zsiec/esfeed/internal/ivf"
	"github.com/zsiec/esfeed/internal/media"
)

// Parameter sets used for every synthetic stream.
var (
	AVCSPS = []byte{
		0x67, 0x64, 0x00, 0x1f, 0xac, 0xd9, 0x40, 0x50,
		0x05, 0xbb, 0xff, 0x00, 0x03, 0x00, 0x04, 0x6a,
		0x02, 0x02, 0x02, 0x80, 0x00, 0x01, 0xf4, 0x80,
		0x00, 0x5d, 0xc0, 0x07, 0x8c, 0x18, 0xcb,
	}
	AVCPPS = []byte{0x68, 0xce, 0x38, 0x80}
	AVCAUD = []byte{0x09, 0xf0}

	HEVCVPS = []byte{0x40, 0x01, 0x0c, 0x01, 0xff, 0xff, 0x01, 0x60}
	HEVCSPS = []byte{
		0x42, 0x01, 0x01, 0x01, 0x40, 0x00, 0x00, 0x00,
		0xb0, 0x00, 0x00, 0x00, 0x00, 0x00, 0x5d, 0xa0,
		0x0a, 0x08, 0x0f, 0x10,
	}
	HEVCPPS = []byte{0x44, 0x01, 0xc1, 0x72, 0xb4, 0x62, 0x40}
	HEVCAUD = []byte{0x46, 0x01, 0x50}
)

// Payload returns n filler bytes derived from seed. Every byte has its high
// bit set, so no start code or emulation prevention is ever needed.
func Payload(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = 0x80 | (seed+byte(i)*7)&0x7f
	}
	return b
}

// AnnexB joins NAL units, each behind a 4-byte start code.
func AnnexB(nalus ...[]byte) []byte {
	b, err := h264.AnnexBMarshal(nalus)
	if err != nil {
		panic(fmt.Sprintf("synth: %v", err))
	}
	return b
}

// AVCSlice builds an H.264 slice NAL unit. first selects first_mb_in_slice
// == 0; otherwise the slice header starts with a non-zero macroblock index.
func AVCSlice(idr, first bool, size int) []byte {
	hdr := byte(0x41) // nal_ref_idc 2, non-IDR slice
	if idr {
		hdr = 0x65
	}
	sh := byte(0x88) // ue(0), slice_type ue(7)
	if !first {
		sh = 0x48 // ue(1), leading bit clear
	}
	return append([]byte{hdr, sh}, Payload(size, hdr)...)
}

// HEVCSlice builds an H.265 slice segment NAL unit with
// first_slice_segment_in_pic_flag set when first is true.
func HEVCSlice(idr, first bool, size int) []byte {
	typ := byte(1) // TRAIL_R
	if idr {
		typ = 19 // IDR_W_RADL
	}
	sh := byte(0x60)
	if first {
		sh |= 0x80
	}
	return append([]byte{typ << 1, 0x01, sh}, Payload(size, typ)...)
}

// OBU builds a low-overhead OBU with obu_has_size_field set.
func OBU(typ obu.Type, payload []byte) []byte {
	b := []byte{byte(typ)<<3 | 0x02}
	b = append(b, obu.WriteToLeb128(uint(len(payload)))...)
	return append(b, payload...)
}

// AV1Frame returns the first byte of an uncompressed frame header
// followed by filler. key selects frame_type KEY_FRAME, otherwise
// INTER_FRAME; show_frame is always set.
func AV1Frame(key bool, size int) []byte {
	b := byte(0x30)
	if key {
		b = 0x10
	}
	return append([]byte{b}, Payload(size, b)...)
}

// AV1SequenceHeader is a placeholder sequence header OBU payload.
var AV1SequenceHeader = []byte{0x00, 0x00, 0x00, 0x0a, 0x0b, 0xf0}

// Picture describes one coded picture or temporal unit.
type Picture struct {
	Key    bool
	Slices int // AVC/HEVC slices; AV1 tile groups after the frame header
	Size   int // payload bytes per slice or OBU
}

// Options configures Stream.
type Options struct {
	Codec    media.Codec
	Pictures int
	GOP      int  // key picture interval; 0 means only the first
	Slices   int  // per picture, at least 1
	Size     int  // payload bytes per slice or OBU
	AUD      bool // access unit delimiters (AVC/HEVC)
	IVF      bool // wrap AV1 temporal units in IVF
}

// Stream builds a complete stream and returns it with the byte length of
// every unit a parser should emit, in order.
func Stream(o Options) ([]byte, []int) {
	if o.Slices < 1 {
		o.Slices = 1
	}
	if o.Size < 1 {
		o.Size = 16
	}
	var (
		out   []byte
		sizes []int
	)
	units := make([][]byte, 0, o.Pictures)
	for i := 0; i < o.Pictures; i++ {
		key := i == 0 || (o.GOP > 0 && i%o.GOP == 0)
		units = append(units, Unit(o, Picture{Key: key, Slices: o.Slices, Size: o.Size + i%5}))
	}
	if o.Codec == media.CodecAV1 && o.IVF {
		out = IVF(ivf.FourCCAV1, 320, 240, units)
		for _, u := range units {
			sizes = append(sizes, len(u))
		}
		return out, sizes
	}
	for _, u := range units {
		out = append(out, u...)
		sizes = append(sizes, len(u))
	}
	return out, sizes
}

// Unit builds the bytes of one picture or temporal unit.
func Unit(o Options, p Picture) []byte {
	switch o.Codec {
	case media.CodecAV1:
		b := OBU(obu.OBUTemporalDelimiter, nil)
		if p.Key {
			b = append(b, OBU(obu.OBUSequenceHeader, AV1SequenceHeader)...)
		}
		b = append(b, OBU(obu.OBUFrameHeader, AV1Frame(p.Key, 4))...)
		for s := 0; s < max(p.Slices, 1); s++ {
			b = append(b, OBU(obu.OBUTileGroup, Payload(p.Size, byte(s)))...)
		}
		return b
	case media.CodecHEVC:
		var nalus [][]byte
		if o.AUD {
			nalus = append(nalus, HEVCAUD)
		}
		if p.Key {
			nalus = append(nalus, HEVCVPS, HEVCSPS, HEVCPPS)
		}
		for s := 0; s < max(p.Slices, 1); s++ {
			nalus = append(nalus, HEVCSlice(p.Key, s == 0, p.Size))
		}
		return AnnexB(nalus...)
	default:
		var nalus [][]byte
		if o.AUD {
			nalus = append(nalus, AVCAUD)
		}
		if p.Key {
			nalus = append(nalus, AVCSPS, AVCPPS)
		}
		for s := 0; s < max(p.Slices, 1); s++ {
			nalus = append(nalus, AVCSlice(p.Key, s == 0, p.Size))
		}
		return AnnexB(nalus...)
	}
}

// IVF wraps frames in an IVF file. Frame timestamps count from zero.
func IVF(fourcc string, width, height uint16, frames [][]byte) []byte {
	h := ivf.FileHeader{
		FourCC:      fourcc,
		Width:       width,
		Height:      height,
		TimebaseDen: 30,
		TimebaseNum: 1,
		FrameCount:  uint32(len(frames)),
	}
	out := h.Marshal()
	for i, f := range frames {
		out = append(out, ivf.FrameHeader{Size: uint32(len(f)), Timestamp: uint64(i)}.Marshal()...)
		out = append(out, f...)
	}
	return out
}
