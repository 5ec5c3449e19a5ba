package demux

// H.264 NAL unit type constants as defined in ITU-T H.264 Table 7-1.
const (
	NALTypeSlice      = 1
	NALTypeSliceDPA   = 2
	NALTypeIDR        = 5
	NALTypeSEI        = 6
	NALTypeSPS        = 7
	NALTypePPS        = 8
	NALTypeAUD        = 9
	NALTypeFillerData = 12
	NALTypePrefix     = 14
	NALTypeSubsetSPS  = 15
)

// H.265/HEVC NAL unit type constants as defined in ITU-T H.265 Table 7-1.
const (
	HEVCNALBlaWLP     = 16
	HEVCNALIDRWRadl   = 19
	HEVCNALIDRNlp     = 20
	HEVCNALCraNut     = 21
	HEVCNALVPS        = 32
	HEVCNALSPS        = 33
	HEVCNALPPS        = 34
	HEVCNALAUD        = 35
	HEVCNALFillerData = 38
	HEVCNALSEIPrefix  = 39
	HEVCNALSEISuffix  = 40
)

// nalInfo is what the classifier learns from a NAL header and the first
// slice-header byte.
type nalInfo struct {
	typ        byte
	vcl        bool
	firstSlice bool // first slice of a picture (first_mb_in_slice == 0 or first_slice_segment_in_pic_flag)
	opensAU    bool // non-VCL NAL that starts a new access unit when it follows a VCL NAL
	keyframe   bool
	sps        bool
	layer      byte // HEVC nuh_layer_id
	tid        byte // HEVC TemporalId
}

// nalClassifier decides picture boundaries for one Annex B codec. Both
// implementations are heuristics over NAL type, order and the first bit of
// the slice header; no slice header is parsed beyond that bit, so streams
// using arbitrary slice order may be split at the wrong place.
type nalClassifier interface {
	// headerLen is the NAL header size in bytes.
	headerLen() int
	// classify inspects up to headerLen()+1 bytes following the start code.
	// Missing bytes are tolerated; classification never fails.
	classify(b []byte) nalInfo
}

type avcClassifier struct{}

func (avcClassifier) headerLen() int { return 1 }

func (avcClassifier) classify(b []byte) nalInfo {
	if len(b) == 0 {
		return nalInfo{}
	}
	info := nalInfo{typ: b[0] & 0x1F}
	switch {
	case info.typ >= NALTypeSlice && info.typ <= NALTypeIDR:
		info.vcl = true
		info.keyframe = info.typ == NALTypeIDR
		// first_mb_in_slice is ue(v); a leading 1 bit encodes zero. Data
		// partitions B and C carry no first_mb_in_slice.
		if info.typ == NALTypeSlice || info.typ == NALTypeSliceDPA || info.typ == NALTypeIDR {
			info.firstSlice = len(b) > 1 && b[1]&0x80 != 0
		}
	case info.typ == NALTypeSEI, info.typ == NALTypeSPS, info.typ == NALTypePPS, info.typ == NALTypeAUD:
		info.opensAU = true
		info.sps = info.typ == NALTypeSPS
	case info.typ >= NALTypePrefix && info.typ <= 18:
		info.opensAU = true
	}
	return info
}

type hevcClassifier struct{}

func (hevcClassifier) headerLen() int { return 2 }

func (hevcClassifier) classify(b []byte) nalInfo {
	if len(b) == 0 {
		return nalInfo{}
	}
	info := nalInfo{typ: HEVCNALType(b[0])}
	if len(b) > 1 {
		info.layer = HEVCLayerID(b[0], b[1])
		info.tid = HEVCTemporalID(b[1])
	}
	switch {
	case info.typ <= 31:
		info.vcl = true
		info.keyframe = IsHEVCKeyframe(info.typ)
		info.firstSlice = len(b) > 2 && b[2]&0x80 != 0
	case info.typ >= HEVCNALVPS && info.typ <= HEVCNALAUD, info.typ == HEVCNALSEIPrefix:
		info.opensAU = true
		info.sps = info.typ == HEVCNALSPS
	case info.typ >= 41 && info.typ <= 44, info.typ >= 48 && info.typ <= 55:
		info.opensAU = true
	}
	return info
}

// HEVCNALType extracts the NAL unit type from the first byte of an HEVC
// 2-byte NAL header: forbidden(1) | type(6) | layerID_high(1).
func HEVCNALType(firstByte byte) byte {
	return (firstByte >> 1) & 0x3F
}

// HEVCLayerID extracts nuh_layer_id from the 2-byte NAL header.
func HEVCLayerID(hdr0, hdr1 byte) byte {
	return (hdr0&0x01)<<5 | hdr1>>3
}

// HEVCTemporalID extracts TemporalId (nuh_temporal_id_plus1 - 1). A zero
// nuh_temporal_id_plus1 is invalid and reported as 0xFF.
func HEVCTemporalID(hdr1 byte) byte {
	return hdr1&0x07 - 1
}

// IsHEVCKeyframe returns true if the NAL type represents an HEVC random access
// point (BLA, IDR, or CRA).
func IsHEVCKeyframe(nalType byte) bool {
	return nalType >= HEVCNALBlaWLP && nalType <= HEVCNALCraNut
}
