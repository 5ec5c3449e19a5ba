package demux

import "testing"

func TestHEVCNALType(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		firstByte byte
		want      byte
	}{
		{"VPS (32)", 0x40, HEVCNALVPS},
		{"SPS (33)", 0x42, HEVCNALSPS},
		{"PPS (34)", 0x44, HEVCNALPPS},
		{"IDR_W_RADL (19)", 0x26, HEVCNALIDRWRadl},
		{"IDR_N_LP (20)", 0x28, HEVCNALIDRNlp},
		{"CRA (21)", 0x2A, HEVCNALCraNut},
		{"BLA_W_LP (16)", 0x20, HEVCNALBlaWLP},
		{"TRAIL_R (1)", 0x02, 1},
		{"TRAIL_N (0)", 0x00, 0},
		{"SEI_PREFIX (39)", 0x4E, HEVCNALSEIPrefix},
		{"AUD (35)", 0x46, HEVCNALAUD},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := HEVCNALType(tt.firstByte); got != tt.want {
				t.Errorf("HEVCNALType(0x%02X) = %d, want %d", tt.firstByte, got, tt.want)
			}
		})
	}
}

func TestIsHEVCKeyframe(t *testing.T) {
	t.Parallel()
	for typ := byte(0); typ < 64; typ++ {
		want := typ >= 16 && typ <= 21
		if got := IsHEVCKeyframe(typ); got != want {
			t.Errorf("IsHEVCKeyframe(%d) = %v, want %v", typ, got, want)
		}
	}
}

func TestHEVCHeaderFields(t *testing.T) {
	t.Parallel()
	if got := HEVCLayerID(0x40, 0x01); got != 0 {
		t.Errorf("layer id = %d, want 0", got)
	}
	if got := HEVCLayerID(0x41, 0x09); got != 33 {
		t.Errorf("layer id = %d, want 33", got)
	}
	if got := HEVCTemporalID(0x03); got != 2 {
		t.Errorf("temporal id = %d, want 2", got)
	}
}

func TestAVCClassify(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   []byte
		want nalInfo
	}{
		{"IDR first slice", []byte{0x65, 0x88}, nalInfo{typ: 5, vcl: true, firstSlice: true, keyframe: true}},
		{"IDR later slice", []byte{0x65, 0x48}, nalInfo{typ: 5, vcl: true, keyframe: true}},
		{"non-IDR first slice", []byte{0x41, 0x9a}, nalInfo{typ: 1, vcl: true, firstSlice: true}},
		{"partition A", []byte{0x22, 0x80}, nalInfo{typ: 2, vcl: true, firstSlice: true}},
		{"partition B has no slice address", []byte{0x23, 0x80}, nalInfo{typ: 3, vcl: true}},
		{"slice header missing", []byte{0x41}, nalInfo{typ: 1, vcl: true}},
		{"SEI", []byte{0x06, 0x04}, nalInfo{typ: 6, opensAU: true}},
		{"SPS", []byte{0x67, 0x64}, nalInfo{typ: 7, opensAU: true, sps: true}},
		{"PPS", []byte{0x68, 0xce}, nalInfo{typ: 8, opensAU: true}},
		{"AUD", []byte{0x09, 0xf0}, nalInfo{typ: 9, opensAU: true}},
		{"end of sequence", []byte{0x0a}, nalInfo{typ: 10}},
		{"filler", []byte{0x0c, 0xff}, nalInfo{typ: 12}},
		{"prefix NAL", []byte{0x0e, 0x80}, nalInfo{typ: 14, opensAU: true}},
		{"subset SPS", []byte{0x0f, 0x64}, nalInfo{typ: 15, opensAU: true}},
		{"reserved 18", []byte{0x12}, nalInfo{typ: 18, opensAU: true}},
		{"slice extension", []byte{0x14, 0x80}, nalInfo{typ: 20}},
		{"empty", nil, nalInfo{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := (avcClassifier{}).classify(tt.in); got != tt.want {
				t.Errorf("classify(% x) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestHEVCClassify(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   []byte
		want nalInfo
	}{
		{"IDR first slice", []byte{0x26, 0x01, 0xe0}, nalInfo{typ: 19, vcl: true, firstSlice: true, keyframe: true}},
		{"CRA later slice", []byte{0x2a, 0x01, 0x60}, nalInfo{typ: 21, vcl: true, keyframe: true}},
		{"TRAIL_R first slice", []byte{0x02, 0x01, 0x80}, nalInfo{typ: 1, vcl: true, firstSlice: true}},
		{"VPS", []byte{0x40, 0x01, 0x0c}, nalInfo{typ: 32, opensAU: true}},
		{"SPS", []byte{0x42, 0x01, 0x01}, nalInfo{typ: 33, opensAU: true, sps: true}},
		{"PPS", []byte{0x44, 0x01, 0xc1}, nalInfo{typ: 34, opensAU: true}},
		{"AUD", []byte{0x46, 0x01, 0x50}, nalInfo{typ: 35, opensAU: true}},
		{"prefix SEI", []byte{0x4e, 0x01, 0x05}, nalInfo{typ: 39, opensAU: true}},
		{"suffix SEI stays", []byte{0x50, 0x01, 0x05}, nalInfo{typ: 40}},
		{"end of sequence stays", []byte{0x48, 0x01}, nalInfo{typ: 36}},
		{"reserved 41", []byte{0x52, 0x01}, nalInfo{typ: 41, opensAU: true}},
		{"unspecified 48", []byte{0x60, 0x01}, nalInfo{typ: 48, opensAU: true}},
		{"unspecified 56", []byte{0x70, 0x01}, nalInfo{typ: 56}},
		{"TRAIL_N sublayer 2", []byte{0x00, 0x03, 0x80}, nalInfo{typ: 0, vcl: true, firstSlice: true, tid: 2}},
		{"IDR layer 1", []byte{0x26, 0x09, 0x80}, nalInfo{typ: 19, vcl: true, firstSlice: true, keyframe: true, layer: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := (hevcClassifier{}).classify(tt.in); got != tt.want {
				t.Errorf("classify(% x) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}
