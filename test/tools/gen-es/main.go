// gen-es writes synthetic elementary streams for exercising esfeed, plus a
// manifest.json recording how many units a parser should emit from each.
//
// Usage:
//
//	go run ./test/tools/gen-es [--dir test/streams] [--pictures 300]
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/zsiec/esfeed/internal/ivf"
	"github.com/zsiec/esfeed/internal/media"
	"github.com/zsiec/esfeed/internal/sink"
	"github.com/zsiec/esfeed/internal/synth"
)

type StreamConfig struct {
	Number      int    `json:"number"`
	Key         string `json:"key"`
	Description string `json:"description"`
	File        string `json:"file"`
	Codec       string `json:"codec"`
	Container   string `json:"container"`
	GOP         int    `json:"gop"`
	Slices      int    `json:"slices"`
	Size        int    `json:"size"`
	AUD         bool   `json:"aud"`
	Captions    bool   `json:"captions"`
	// Damage is "", "garbage" (bytes before the first start code) or
	// "truncated" (cut inside the last picture).
	Damage string `json:"damage,omitempty"`

	Units     int   `json:"units"`
	Keyframes int   `json:"keyframes"`
	Bytes     int64 `json:"bytes"`
}

type Manifest struct {
	Generated string         `json:"generated"`
	Pictures  int            `json:"pictures"`
	Streams   []StreamConfig `json:"streams"`
}

var streams = []StreamConfig{
	{Number: 1, Key: "avc_basic", Codec: "h264", GOP: 30, Slices: 1, Size: 4000},
	{Number: 2, Key: "avc_slices", Codec: "h264", GOP: 60, Slices: 4, Size: 1500, AUD: true},
	{Number: 3, Key: "avc_captions", Codec: "h264", GOP: 30, Slices: 1, Size: 2000, Captions: true},
	{Number: 4, Key: "hevc_basic", Codec: "h265", GOP: 30, Slices: 1, Size: 5000},
	{Number: 5, Key: "hevc_slices", Codec: "h265", GOP: 24, Slices: 3, Size: 1200, AUD: true},
	{Number: 6, Key: "av1_obu", Codec: "av1", GOP: 60, Slices: 1, Size: 3000},
	{Number: 7, Key: "av1_ivf", Codec: "av1", Container: "ivf", GOP: 30, Slices: 2, Size: 2500},
	{Number: 8, Key: "avc_garbage", Codec: "h264", GOP: 30, Slices: 1, Size: 1000, Damage: "garbage"},
	{Number: 9, Key: "hevc_truncated", Codec: "h265", GOP: 30, Slices: 2, Size: 1000, Damage: "truncated"},
}

func main() {
	var (
		dir      string
		pictures int
		force    bool
	)
	pflag.StringVar(&dir, "dir", "", "output directory (default <project>/test/streams)")
	pflag.IntVar(&pictures, "pictures", 300, "pictures per stream")
	pflag.BoolVar(&force, "force", false, "overwrite existing streams")
	pflag.Parse()

	if dir == "" {
		dir = filepath.Join(findProjectRoot(), "test", "streams")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		fatal("create streams dir: %v", err)
	}

	fmt.Println("=== esfeed Stream Generator ===")
	fmt.Printf("Generating %d test streams of %d pictures\n\n", len(streams), pictures)

	for i := range streams {
		sc := &streams[i]
		codec, err := media.ParseCodec(sc.Codec)
		if err != nil {
			fatal("stream %d: %v", sc.Number, err)
		}
		sc.File = fmt.Sprintf("stream_%d.%s", sc.Number, fileExt(codec, sc.Container))
		sc.Description = describe(*sc)

		data, sizes := build(*sc, codec, pictures)
		sc.Units = len(sizes)
		sc.Keyframes = (len(sizes) + sc.GOP - 1) / sc.GOP
		sc.Bytes = int64(len(data))

		out := filepath.Join(dir, sc.File)
		fmt.Printf("--- Stream %d: %s (%s) ---\n", sc.Number, sc.Key, sc.Description)
		if !force && fileExists(out) {
			fmt.Printf("  Already exists, skipping\n")
			continue
		}
		if err := os.WriteFile(out, data, 0o644); err != nil {
			fatal("write %s: %v", out, err)
		}
		fmt.Printf("  Output: %s (%s, %d units)\n", out, humanize.IBytes(uint64(len(data))), sc.Units)
	}

	manifestFile := filepath.Join(dir, "manifest.json")
	if err := writeManifest(manifestFile, pictures); err != nil {
		fatal("write manifest: %v", err)
	}

	fmt.Printf("\n=== Done! %d streams generated in %s ===\n", len(streams), dir)
}

// build returns the stream bytes and the expected unit sizes.
func build(sc StreamConfig, codec media.Codec, pictures int) ([]byte, []int) {
	o := synth.Options{
		Codec:  codec,
		GOP:    sc.GOP,
		Slices: sc.Slices,
		Size:   sc.Size,
		AUD:    sc.AUD,
	}

	var (
		data  []byte
		units [][]byte
	)
	for i := 0; i < pictures; i++ {
		p := synth.Picture{Key: i%sc.GOP == 0, Slices: sc.Slices, Size: sc.Size + i%7}
		u := synth.Unit(o, p)
		if sc.Captions {
			text := fmt.Sprintf("%02d", i%100)
			u = append(synth.AnnexB(synth.CaptionSEI([2]byte{text[0], text[1]})), u...)
		}
		units = append(units, u)
	}

	sizes := make([]int, 0, len(units))
	for _, u := range units {
		sizes = append(sizes, len(u))
	}
	if sc.Container == "ivf" {
		return synth.IVF(ivf.FourCCAV1, 1280, 720, units), sizes
	}
	for _, u := range units {
		data = append(data, u...)
	}

	switch sc.Damage {
	case "garbage":
		data = append(synth.Payload(187, 0x5A), data...)
	case "truncated":
		// Cut inside the payload of the last slice. Annex B has no length
		// fields, so the final unit just comes out shorter.
		cut := sc.Size / 2
		data = data[:len(data)-cut]
		sizes[len(sizes)-1] -= cut
	}
	return data, sizes
}

func describe(sc StreamConfig) string {
	d := fmt.Sprintf("%s, GOP %d, %d slice(s)", sc.Codec, sc.GOP, sc.Slices)
	if sc.Container != "" {
		d += " in " + sc.Container
	}
	if sc.AUD {
		d += ", AUD"
	}
	if sc.Captions {
		d += ", CEA-608 captions"
	}
	if sc.Damage != "" {
		d += ", " + sc.Damage
	}
	return d
}

func fileExt(c media.Codec, container string) string {
	if container == "ivf" {
		return "ivf"
	}
	return sink.Extension(c)
}

func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		fatal("getwd: %v", err)
	}
	for {
		if fileExists(filepath.Join(dir, "go.mod")) {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			fatal("could not find project root (no go.mod found)")
		}
		dir = parent
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func writeManifest(path string, pictures int) error {
	m := Manifest{
		Generated: time.Now().UTC().Format(time.RFC3339),
		Pictures:  pictures,
		Streams:   streams,
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	fmt.Printf("Manifest written to %s\n", path)
	return nil
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
