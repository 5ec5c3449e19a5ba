// Package inspect summarizes a stream instead of decoding it: unit sizes,
// keyframe spacing, the NAL unit or OBU types seen, and whether the stream
// carries closed captions.
package inspect

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/bluenviron/mediacommon/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/pkg/codecs/h265"
	"github.com/dustin/go-humanize"
	"github.com/zsiec/ccx"

	"github.com/zsiec/esfeed/internal/demux"
	"github.com/zsiec/esfeed/internal/media"
)

// Report is the JSON-serializable result of inspecting one stream.
type Report struct {
	Info media.StreamInfo `json:"info"`

	Units     int64   `json:"units"`
	Keyframes int64   `json:"keyframes"`
	Bytes     int64   `json:"bytes"`
	MinSize   int     `json:"minSize"`
	MaxSize   int     `json:"maxSize"`
	MeanSize  float64 `json:"meanSize"`

	// FirstKeyframe is the index of the first keyframe unit, or -1.
	FirstKeyframe int64 `json:"firstKeyframe"`
	// MaxGOP is the longest run of units from one keyframe to the next.
	MaxGOP int64 `json:"maxGop"`

	Types map[string]int64 `json:"types"`

	CaptionPairs  int64    `json:"captionPairs,omitempty"`
	DTVCCTriplets int64    `json:"dtvccTriplets,omitempty"`
	CaptionText   []string `json:"captionText,omitempty"`
}

// String renders a one-line human readable summary.
func (r Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %dx%d: %s units, %s keyframes, %s",
		r.Info.Codec, r.Info.Width, r.Info.Height,
		humanize.Comma(r.Units), humanize.Comma(r.Keyframes),
		humanize.IBytes(uint64(r.Bytes)))
	if r.Units > 0 {
		fmt.Fprintf(&b, " (unit %s..%s, mean %s)",
			humanize.IBytes(uint64(r.MinSize)),
			humanize.IBytes(uint64(r.MaxSize)),
			humanize.IBytes(uint64(r.MeanSize)))
	}
	if r.CaptionPairs > 0 || r.DTVCCTriplets > 0 {
		fmt.Fprintf(&b, ", captions: %d 608 pairs, %d 708 triplets", r.CaptionPairs, r.DTVCCTriplets)
	}
	return b.String()
}

// maxCaptionLines bounds Report.CaptionText.
const maxCaptionLines = 64

// Recorder is a pipeline.Submitter that builds a Report. It is safe for
// concurrent use, so Report may be called while a pipeline is running.
type Recorder struct {
	log *slog.Logger

	mu         sync.Mutex
	r          Report
	lastKey    int64
	cea608Decs map[int]*ccx.CEA608Decoder
}

// NewRecorder creates an empty Recorder. If log is nil, slog.Default() is
// used.
func NewRecorder(log *slog.Logger) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{
		log: log.With("component", "inspect"),
		r: Report{
			FirstKeyframe: -1,
			Types:         make(map[string]int64),
		},
		lastKey: -1,
		cea608Decs: map[int]*ccx.CEA608Decoder{
			1: ccx.NewCEA608Decoder(),
			2: ccx.NewCEA608Decoder(),
			3: ccx.NewCEA608Decoder(),
			4: ccx.NewCEA608Decoder(),
		},
	}
}

func (rec *Recorder) SetStreamInfo(info media.StreamInfo) {
	rec.mu.Lock()
	rec.r.Info = info
	rec.mu.Unlock()
}

func (rec *Recorder) Submit(_ context.Context, u *media.Unit) error {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	r := &rec.r
	size := len(u.Data)
	if r.Units == 0 || size < r.MinSize {
		r.MinSize = size
	}
	r.MaxSize = max(r.MaxSize, size)
	r.Units++
	r.Bytes += int64(size)

	if u.IsKeyframe {
		r.Keyframes++
		if r.FirstKeyframe < 0 {
			r.FirstKeyframe = u.Index
		}
		if rec.lastKey >= 0 {
			r.MaxGOP = max(r.MaxGOP, u.Index-rec.lastKey)
		}
		rec.lastKey = u.Index
	}

	for _, part := range u.Parts {
		if len(part) == 0 {
			continue
		}
		switch u.Codec {
		case media.CodecAVC:
			t := h264.NALUType(part[0] & 0x1F)
			r.Types[t.String()]++
			if t == h264.NALUTypeSEI {
				rec.captions(u.Index, part)
			}
		case media.CodecHEVC:
			t := h265.NALUType(demux.HEVCNALType(part[0]))
			r.Types[t.String()]++
			if t == h265.NALUType_PREFIX_SEI_NUT && len(part) > 2 {
				rec.captions(u.Index, part)
			}
		case media.CodecAV1:
			r.Types[obuTypeName(part[0])]++
		}
	}
	return nil
}

// captions counts the A/53 caption data in one SEI NAL unit and decodes its
// CEA-608 text.
func (rec *Recorder) captions(index int64, sei []byte) {
	cd := ccx.ExtractCaptions(sei)
	if cd == nil {
		return
	}
	rec.r.CaptionPairs += int64(len(cd.CC608Pairs))
	rec.r.DTVCCTriplets += int64(len(cd.DTVCC))
	for _, pair := range cd.CC608Pairs {
		dec := rec.cea608Decs[pair.Channel]
		if dec == nil {
			continue
		}
		text := dec.Decode(pair.Data[0], pair.Data[1])
		if text == "" {
			continue
		}
		rec.log.Debug("caption", "unit", index, "channel", pair.Channel, "text", text)
		if len(rec.r.CaptionText) < maxCaptionLines {
			rec.r.CaptionText = append(rec.r.CaptionText, text)
		}
	}
}

// Report returns a copy of the report so far.
func (rec *Recorder) Report() Report {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	r := rec.r
	if r.Units > 0 {
		r.MeanSize = float64(r.Bytes) / float64(r.Units)
	}
	r.Types = make(map[string]int64, len(rec.r.Types))
	for k, v := range rec.r.Types {
		r.Types[k] = v
	}
	r.CaptionText = append([]string(nil), rec.r.CaptionText...)
	return r
}

// TypeNames returns the keys of r.Types, most frequent first.
func (r Report) TypeNames() []string {
	names := make([]string, 0, len(r.Types))
	for k := range r.Types {
		names = append(names, k)
	}
	sort.Slice(names, func(i, j int) bool {
		if r.Types[names[i]] != r.Types[names[j]] {
			return r.Types[names[i]] > r.Types[names[j]]
		}
		return names[i] < names[j]
	})
	return names
}

func obuTypeName(h byte) string {
	switch (h >> 3) & 0x0F {
	case 1:
		return "OBU_SEQUENCE_HEADER"
	case 2:
		return "OBU_TEMPORAL_DELIMITER"
	case 3:
		return "OBU_FRAME_HEADER"
	case 4:
		return "OBU_TILE_GROUP"
	case 5:
		return "OBU_METADATA"
	case 6:
		return "OBU_FRAME"
	case 7:
		return "OBU_REDUNDANT_FRAME_HEADER"
	case 8:
		return "OBU_TILE_LIST"
	case 15:
		return "OBU_PADDING"
	default:
		return fmt.Sprintf("OBU_RESERVED_%d", (h>>3)&0x0F)
	}
}
