package demux

import (
	"errors"
	"fmt"
	"math/bits"
)

// SPSInfo holds the H.264 Sequence Parameter Set fields reported in
// StreamInfo.
type SPSInfo struct {
	Width           int
	Height          int
	ProfileIDC      byte
	ConstraintFlags byte
	LevelIDC        byte
}

// CodecString returns the RFC 6381 codec parameter string (e.g. "avc1.42E01E").
func (s SPSInfo) CodecString() string {
	return fmt.Sprintf("avc1.%02X%02X%02X", s.ProfileIDC, s.ConstraintFlags, s.LevelIDC)
}

// HEVCSPSInfo holds the HEVC SPS fields reported in StreamInfo.
type HEVCSPSInfo struct {
	Width      int
	Height     int
	ProfileIDC byte
	TierFlag   byte
	LevelIDC   byte

	ProfileCompatibilityFlags uint32
	ConstraintIndicatorFlags  uint64
}

// CodecString returns the RFC 6381 codec parameter string (e.g.
// "hev1.1.6.L93.B0").
func (s HEVCSPSInfo) CodecString() string {
	tier := "L"
	if s.TierFlag == 1 {
		tier = "H"
	}
	codec := fmt.Sprintf("hev1.%d.%X.%s%d", s.ProfileIDC, bits.Reverse32(s.ProfileCompatibilityFlags), tier, s.LevelIDC)

	// Six constraint bytes, trailing zero bytes omitted.
	var cb [6]byte
	last := -1
	for i := range cb {
		cb[i] = byte(s.ConstraintIndicatorFlags >> uint((5-i)*8))
		if cb[i] != 0 {
			last = i
		}
	}
	for i := 0; i <= last; i++ {
		codec += fmt.Sprintf(".%X", cb[i])
	}
	return codec
}

var errSPSTooShort = errors.New("SPS data too short")

// bitReader reads an RBSP MSB-first. The first overrun is sticky: every
// later read returns zero and err stays set, so callers check once at the
// end of a syntax structure.
type bitReader struct {
	data []byte
	pos  int
	err  error
}

func (br *bitReader) u(n int) uint {
	var v uint
	for i := 0; i < n; i++ {
		if br.pos>>3 >= len(br.data) {
			br.err = errSPSTooShort
			return 0
		}
		v = v<<1 | uint(br.data[br.pos>>3]>>(7-br.pos&7))&1
		br.pos++
	}
	return v
}

func (br *bitReader) flag() bool { return br.u(1) == 1 }

func (br *bitReader) ue() uint {
	zeros := 0
	for br.u(1) == 0 {
		if br.err != nil || zeros == 31 {
			br.err = errSPSTooShort
			return 0
		}
		zeros++
	}
	return 1<<zeros - 1 + br.u(zeros)
}

func (br *bitReader) se() int {
	v := br.ue()
	if v%2 == 0 {
		return -int(v / 2)
	}
	return int((v + 1) / 2)
}

func (br *bitReader) skipScalingList(size int) {
	last, next := 8, 8
	for j := 0; j < size && br.err == nil; j++ {
		if next != 0 {
			next = (last + br.se() + 256) % 256
		}
		if next != 0 {
			last = next
		}
	}
}

// highProfiles carry chroma_format_idc and scaling matrices in the SPS.
var highProfiles = map[uint]bool{
	100: true, 110: true, 122: true, 244: true, 44: true, 83: true,
	86: true, 118: true, 128: true, 138: true, 139: true, 134: true,
}

// ParseSPS parses an H.264 SPS NAL unit (header byte included, start code
// excluded) far enough to compute the cropped picture size.
func ParseSPS(nalu []byte) (SPSInfo, error) {
	if len(nalu) < 4 {
		return SPSInfo{}, errSPSTooShort
	}
	br := &bitReader{data: removeEmulationPrevention(nalu[1:])}

	info := SPSInfo{
		ProfileIDC:      byte(br.u(8)),
		ConstraintFlags: byte(br.u(8)),
		LevelIDC:        byte(br.u(8)),
	}
	br.ue() // seq_parameter_set_id

	chromaFormatIdc := uint(1)
	separateColourPlane := false
	if highProfiles[uint(info.ProfileIDC)] {
		chromaFormatIdc = br.ue()
		if chromaFormatIdc == 3 {
			separateColourPlane = br.flag()
		}
		br.ue() // bit_depth_luma_minus8
		br.ue() // bit_depth_chroma_minus8
		br.u(1) // qpprime_y_zero_transform_bypass_flag
		if br.flag() {
			lists := 8
			if chromaFormatIdc == 3 {
				lists = 12
			}
			for i := 0; i < lists; i++ {
				if !br.flag() {
					continue
				}
				if i < 6 {
					br.skipScalingList(16)
				} else {
					br.skipScalingList(64)
				}
			}
		}
	}

	br.ue() // log2_max_frame_num_minus4
	switch br.ue() {
	case 0:
		br.ue() // log2_max_pic_order_cnt_lsb_minus4
	case 1:
		br.u(1)
		br.se()
		br.se()
		for n := br.ue(); n > 0 && br.err == nil; n-- {
			br.se()
		}
	}
	br.ue() // max_num_ref_frames
	br.u(1) // gaps_in_frame_num_value_allowed_flag

	widthMbs := br.ue() + 1
	heightMapUnits := br.ue() + 1
	frameMbsOnly := br.u(1)
	if frameMbsOnly == 0 {
		br.u(1) // mb_adaptive_frame_field_flag
	}
	br.u(1) // direct_8x8_inference_flag

	var cropLeft, cropRight, cropTop, cropBottom uint
	if br.flag() {
		cropLeft, cropRight, cropTop, cropBottom = br.ue(), br.ue(), br.ue(), br.ue()
	}
	if br.err != nil {
		return SPSInfo{}, br.err
	}

	chromaArrayType := chromaFormatIdc
	if separateColourPlane {
		chromaArrayType = 0
	}
	subWidthC, subHeightC := uint(2), uint(2)
	switch chromaArrayType {
	case 0, 3:
		subWidthC, subHeightC = 1, 1
	case 2:
		subHeightC = 1
	}
	cropUnitY := subHeightC * (2 - frameMbsOnly)

	info.Width = int(widthMbs*16 - subWidthC*(cropLeft+cropRight))
	info.Height = int(heightMapUnits*16*(2-frameMbsOnly) - cropUnitY*(cropTop+cropBottom))
	return info, nil
}

// ParseHEVCSPS parses an HEVC SPS NAL unit (2-byte header included) far
// enough to read profile/tier/level and the conformance-cropped size.
func ParseHEVCSPS(nalu []byte) (HEVCSPSInfo, error) {
	if len(nalu) < 4 {
		return HEVCSPSInfo{}, errSPSTooShort
	}
	br := &bitReader{data: removeEmulationPrevention(nalu[2:])}

	br.u(4) // sps_video_parameter_set_id
	maxSubLayersMinus1 := br.u(3)
	br.u(1) // sps_temporal_id_nesting_flag

	var info HEVCSPSInfo
	parseHEVCProfileTierLevel(br, &info, maxSubLayersMinus1)

	br.ue() // sps_seq_parameter_set_id
	chromaFormatIdc := br.ue()
	if chromaFormatIdc == 3 {
		br.u(1) // separate_colour_plane_flag
	}
	info.Width = int(br.ue())
	info.Height = int(br.ue())
	if br.err != nil {
		return HEVCSPSInfo{}, br.err
	}

	if br.flag() {
		left, right, top, bottom := br.ue(), br.ue(), br.ue(), br.ue()
		if br.err != nil {
			return info, nil
		}
		subWidthC, subHeightC := uint(1), uint(1)
		switch chromaFormatIdc {
		case 1:
			subWidthC, subHeightC = 2, 2
		case 2:
			subWidthC = 2
		}
		info.Width -= int((left + right) * subWidthC)
		info.Height -= int((top + bottom) * subHeightC)
	}
	return info, nil
}

func parseHEVCProfileTierLevel(br *bitReader, info *HEVCSPSInfo, maxSubLayersMinus1 uint) {
	br.u(2) // general_profile_space
	info.TierFlag = byte(br.u(1))
	info.ProfileIDC = byte(br.u(5))
	info.ProfileCompatibilityFlags = uint32(br.u(32))
	info.ConstraintIndicatorFlags = uint64(br.u(24))<<24 | uint64(br.u(24))
	info.LevelIDC = byte(br.u(8))

	if maxSubLayersMinus1 == 0 {
		return
	}
	var profilePresent, levelPresent [8]bool
	for i := uint(0); i < maxSubLayersMinus1; i++ {
		profilePresent[i] = br.flag()
		levelPresent[i] = br.flag()
	}
	for i := maxSubLayersMinus1; i < 8; i++ {
		br.u(2) // reserved_zero_2bits
	}
	for i := uint(0); i < maxSubLayersMinus1; i++ {
		if profilePresent[i] {
			br.u(32)
			br.u(32)
			br.u(24)
		}
		if levelPresent[i] {
			br.u(8)
		}
	}
}

// removeEmulationPrevention strips emulation_prevention_three_byte from a
// NAL payload, yielding the RBSP.
func removeEmulationPrevention(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if i+2 < len(data) && data[i] == 0 && data[i+1] == 0 && data[i+2] == 3 &&
			(i+3 >= len(data) || data[i+3] <= 3) {
			out = append(out, 0, 0)
			i += 2
			continue
		}
		out = append(out, data[i])
	}
	return out
}
