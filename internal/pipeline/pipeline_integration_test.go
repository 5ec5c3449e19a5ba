package pipeline

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/zsiec/esfeed/internal/demux"
	"github.com/zsiec/esfeed/internal/media"
	"github.com/zsiec/esfeed/internal/synth"
)

// recordingDecoder stands in for a hardware decoder binding. It copies
// every unit it is handed, since units are only valid during Submit.
type recordingDecoder struct {
	mu    sync.Mutex
	units []*media.Unit
	info  media.StreamInfo
}

func (d *recordingDecoder) Submit(_ context.Context, u *media.Unit) error {
	d.mu.Lock()
	d.units = append(d.units, u.Clone())
	d.mu.Unlock()
	return nil
}

func (d *recordingDecoder) SetStreamInfo(info media.StreamInfo) { d.info = info }

// TestIntegration_ParserToDecoder feeds synthetic streams through the full
// path (Parser -> Pipeline -> decoder) and checks every unit arrives intact.
func TestIntegration_ParserToDecoder(t *testing.T) {
	t.Parallel()
	tests := []synth.Options{
		{Codec: media.CodecAVC, Pictures: 60, GOP: 15, Slices: 2, Size: 300},
		{Codec: media.CodecHEVC, Pictures: 60, GOP: 15, Slices: 2, Size: 300, AUD: true},
		{Codec: media.CodecAV1, Pictures: 60, GOP: 15, Slices: 2, Size: 300},
		{Codec: media.CodecAV1, Pictures: 60, GOP: 15, Size: 300, IVF: true},
	}
	for _, o := range tests {
		name := o.Codec.String()
		if o.IVF {
			name += "-ivf"
		}
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			data, want := synth.Stream(o)
			parser, err := demux.New(bytes.NewReader(data), demux.Options{RingSize: 4096})
			if err != nil {
				t.Fatalf("demux.New: %v", err)
			}
			dec := &recordingDecoder{}
			p := New("integration-test", parser, dec)

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := p.Run(ctx); err != nil {
				t.Fatalf("Pipeline.Run: %v", err)
			}

			dec.mu.Lock()
			defer dec.mu.Unlock()
			if len(dec.units) != len(want) {
				t.Fatalf("decoder got %d units, want %d", len(dec.units), len(want))
			}
			var keyframes int64
			for i, u := range dec.units {
				if len(u.Data) != want[i] {
					t.Errorf("unit %d: %d bytes, want %d", i, len(u.Data), want[i])
				}
				if u.IsKeyframe {
					keyframes++
				}
			}
			if !dec.units[0].IsKeyframe {
				t.Error("first unit should be a keyframe")
			}
			if dec.info.Codec != o.Codec {
				t.Errorf("stream info codec = %v, want %v", dec.info.Codec, o.Codec)
			}

			st := p.Stats()
			if st.Units != int64(len(want)) || st.Keyframes != keyframes {
				t.Errorf("stats = %+v, want %d units and %d keyframes", st, len(want), keyframes)
			}
		})
	}
}
