package media

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestParseCodec(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want Codec
	}{
		{"", CodecUnknown},
		{"auto", CodecUnknown},
		{"h264", CodecAVC},
		{"avc", CodecAVC},
		{"hevc", CodecHEVC},
		{"h265", CodecHEVC},
		{"av1", CodecAV1},
	}
	for _, tt := range tests {
		got, err := ParseCodec(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseCodec(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
	if _, err := ParseCodec("vp9"); err == nil {
		t.Error("expected error for vp9")
	}
}

func TestParseContainer(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]Container{"": ContainerAuto, "raw": ContainerNone, "none": ContainerNone, "ivf": ContainerIVF} {
		got, err := ParseContainer(in)
		if err != nil || got != want {
			t.Errorf("ParseContainer(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseContainer("mp4"); err == nil {
		t.Error("expected error for mp4")
	}
}

func TestStreamInfoJSON(t *testing.T) {
	t.Parallel()
	in := StreamInfo{Codec: CodecHEVC, Container: ContainerIVF, Width: 320}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(data, []byte(`"Codec":"h265"`)) {
		t.Errorf("codec not encoded by name: %s", data)
	}
	var out StreamInfo
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if out != in {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}
}

func TestUnitClone(t *testing.T) {
	t.Parallel()
	data := []byte{0, 0, 0, 1, 0x65, 0x88}
	u := &Unit{Data: data, Parts: [][]byte{data[4:]}, Index: 3, IsKeyframe: true}
	c := u.Clone()
	data[4] = 0x41
	if c.Data[4] != 0x65 || c.Parts[0][0] != 0x65 {
		t.Error("clone aliases the original buffer")
	}
	if c.Index != 3 || !c.IsKeyframe || c.Len() != 6 {
		t.Errorf("clone metadata = %+v", c)
	}
}
