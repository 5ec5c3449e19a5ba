package inspect

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/bluenviron/mediacommon/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/pkg/codecs/h265"

	"github.com/zsiec/esfeed/internal/demux"
	"github.com/zsiec/esfeed/internal/media"
	"github.com/zsiec/esfeed/internal/pipeline"
	"github.com/zsiec/esfeed/internal/synth"
)

func inspect(t *testing.T, data []byte) Report {
	t.Helper()
	parser, err := demux.New(bytes.NewReader(data), demux.Options{})
	if err != nil {
		t.Fatalf("demux.New: %v", err)
	}
	rec := NewRecorder(nil)
	if err := pipeline.New("inspect-test", parser, rec).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return rec.Report()
}

func TestRecorderAVC(t *testing.T) {
	t.Parallel()
	sei := synth.CaptionSEI([2]byte{'H', 'I'}, [2]byte{'!', ' '})
	data := synth.AnnexB(synth.AVCSPS, synth.AVCPPS, sei, synth.AVCSlice(true, true, 200))
	data = append(data, synth.AnnexB(sei, synth.AVCSlice(false, true, 150))...)
	data = append(data, synth.AnnexB(synth.AVCSlice(false, true, 100))...)

	r := inspect(t, data)
	if r.Units != 3 || r.Keyframes != 1 {
		t.Fatalf("units=%d keyframes=%d, want 3 and 1", r.Units, r.Keyframes)
	}
	if r.Bytes != int64(len(data)) {
		t.Errorf("bytes = %d, want %d", r.Bytes, len(data))
	}
	if r.FirstKeyframe != 0 {
		t.Errorf("first keyframe = %d, want 0", r.FirstKeyframe)
	}
	if r.Info.Width != 1280 || r.Info.Height != 720 {
		t.Errorf("info = %dx%d, want 1280x720", r.Info.Width, r.Info.Height)
	}
	want := map[string]int64{
		h264.NALUTypeSPS.String():    1,
		h264.NALUTypePPS.String():    1,
		h264.NALUTypeSEI.String():    2,
		h264.NALUTypeIDR.String():    1,
		h264.NALUTypeNonIDR.String(): 2,
	}
	for k, v := range want {
		if r.Types[k] != v {
			t.Errorf("types[%q] = %d, want %d", k, r.Types[k], v)
		}
	}
	if r.CaptionPairs == 0 {
		t.Error("expected caption pairs from the A/53 SEI")
	}
	if r.MinSize > r.MaxSize || r.MeanSize < float64(r.MinSize) || r.MeanSize > float64(r.MaxSize) {
		t.Errorf("size stats inconsistent: min=%d max=%d mean=%f", r.MinSize, r.MaxSize, r.MeanSize)
	}
}

func TestRecorderGOP(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		codec media.Codec
	}{
		{"h264", media.CodecAVC},
		{"h265", media.CodecHEVC},
		{"av1", media.CodecAV1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			data, sizes := synth.Stream(synth.Options{Codec: tt.codec, Pictures: 24, GOP: 8})
			r := inspect(t, data)
			if r.Units != int64(len(sizes)) {
				t.Fatalf("units = %d, want %d", r.Units, len(sizes))
			}
			if r.Keyframes != 3 || r.MaxGOP != 8 || r.FirstKeyframe != 0 {
				t.Errorf("keyframes=%d maxGOP=%d first=%d, want 3, 8, 0", r.Keyframes, r.MaxGOP, r.FirstKeyframe)
			}
			if len(r.Types) == 0 {
				t.Error("no types recorded")
			}
			if r.Info.Codec != tt.codec {
				t.Errorf("codec = %v, want %v", r.Info.Codec, tt.codec)
			}
		})
	}
}

func TestRecorderHEVCTypeNames(t *testing.T) {
	t.Parallel()
	data, _ := synth.Stream(synth.Options{Codec: media.CodecHEVC, Pictures: 2, GOP: 2})
	r := inspect(t, data)
	if r.Types[h265.NALUType_SPS_NUT.String()] != 1 {
		t.Errorf("types = %v, want one SPS", r.Types)
	}
}

func TestReportIsSnapshot(t *testing.T) {
	t.Parallel()
	rec := NewRecorder(nil)
	u := &media.Unit{Data: []byte{0, 0, 0, 1, 0x65, 0x88}, Codec: media.CodecAVC, IsKeyframe: true}
	u.Parts = [][]byte{u.Data[4:]}
	if err := rec.Submit(context.Background(), u); err != nil {
		t.Fatal(err)
	}
	first := rec.Report()
	u.Index = 1
	if err := rec.Submit(context.Background(), u); err != nil {
		t.Fatal(err)
	}
	if first.Units != 1 || len(first.Types) != 1 {
		t.Errorf("earlier report changed: %+v", first)
	}
	for _, v := range first.Types {
		if v != 1 {
			t.Errorf("earlier report type count = %d, want 1", v)
		}
	}
	if got := rec.Report(); got.Units != 2 || got.MaxGOP != 1 {
		t.Errorf("report = %+v, want 2 units and GOP 1", got)
	}
}

func TestReportJSONAndString(t *testing.T) {
	t.Parallel()
	data, _ := synth.Stream(synth.Options{Codec: media.CodecAVC, Pictures: 4, GOP: 4, Size: 2000})
	r := inspect(t, data)

	out, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	var back Report
	if err := json.Unmarshal(out, &back); err != nil {
		t.Fatal(err)
	}
	if back.Units != r.Units || back.Info.Codec != media.CodecAVC {
		t.Errorf("decoded report = %+v", back)
	}

	s := r.String()
	if !strings.HasPrefix(s, "h264 1280x720: 4 units, 1 keyframes") {
		t.Errorf("String() = %q", s)
	}
	if names := r.TypeNames(); len(names) == 0 || r.Types[names[0]] < r.Types[names[len(names)-1]] {
		t.Errorf("TypeNames not ordered by count: %v", names)
	}
}

func TestObuTypeName(t *testing.T) {
	t.Parallel()
	tests := []struct {
		h    byte
		want string
	}{
		{0x12, "OBU_TEMPORAL_DELIMITER"},
		{0x0A, "OBU_SEQUENCE_HEADER"},
		{0x32, "OBU_FRAME"},
		{0x7A, "OBU_PADDING"},
		{0x4A, "OBU_RESERVED_9"},
	}
	for _, tt := range tests {
		if got := obuTypeName(tt.h); got != tt.want {
			t.Errorf("obuTypeName(%#x) = %q, want %q", tt.h, got, tt.want)
		}
	}
}
