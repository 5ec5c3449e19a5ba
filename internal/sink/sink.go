// Package sink provides pipeline.Submitter implementations that write units
// back out or just count them.
package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/zsiec/esfeed/internal/media"
	"github.com/zsiec/esfeed/internal/pipeline"
)

// File writes the bytes of every unit, in order, to one file. For Annex B
// and raw OBU input the result equals the input from the first start code
// or OBU onward; IVF framing is not reproduced.
type File struct {
	f       *os.File
	w       *bufio.Writer
	written atomic.Int64
}

// Create creates or truncates the file at path.
func Create(path string) (*File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("sink: %w", err)
	}
	return &File{f: f, w: bufio.NewWriterSize(f, 1<<20)}, nil
}

func (s *File) Submit(_ context.Context, u *media.Unit) error {
	n, err := s.w.Write(u.Data)
	s.written.Add(int64(n))
	if err != nil {
		return fmt.Errorf("sink: write %s: %w", s.f.Name(), err)
	}
	return nil
}

// Written returns the number of bytes written so far.
func (s *File) Written() int64 { return s.written.Load() }

// Close flushes buffered data and closes the file.
func (s *File) Close() error {
	return errors.Join(s.w.Flush(), s.f.Close())
}

// Extension returns the file extension used for raw units of codec c.
func Extension(c media.Codec) string {
	switch c {
	case media.CodecAVC:
		return "h264"
	case media.CodecHEVC:
		return "h265"
	case media.CodecAV1:
		return "obu"
	}
	return "bin"
}

// DirEntry describes one file written by Dir.
type DirEntry struct {
	File     string `json:"file"`
	Index    int64  `json:"index"`
	Offset   int64  `json:"offset"`
	Size     int    `json:"size"`
	Keyframe bool   `json:"keyframe"`
	PTS      int64  `json:"pts,omitempty"`
}

// Dir writes each unit to its own file, unit-NNNNNN.<ext>, and an
// index.json listing them when closed.
type Dir struct {
	path    string
	info    media.StreamInfo
	entries []DirEntry
}

// NewDir creates the directory if needed.
func NewDir(path string) (*Dir, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("sink: %w", err)
	}
	return &Dir{path: path}, nil
}

func (d *Dir) SetStreamInfo(info media.StreamInfo) { d.info = info }

func (d *Dir) Submit(_ context.Context, u *media.Unit) error {
	name := fmt.Sprintf("unit-%06d.%s", u.Index, Extension(u.Codec))
	if err := os.WriteFile(filepath.Join(d.path, name), u.Data, 0o644); err != nil {
		return fmt.Errorf("sink: %w", err)
	}
	d.entries = append(d.entries, DirEntry{
		File:     name,
		Index:    u.Index,
		Offset:   u.Offset,
		Size:     len(u.Data),
		Keyframe: u.IsKeyframe,
		PTS:      u.PTS,
	})
	return nil
}

// Entries returns the files written so far.
func (d *Dir) Entries() []DirEntry { return d.entries }

// Close writes index.json.
func (d *Dir) Close() error {
	index := struct {
		Stream media.StreamInfo `json:"stream"`
		Units  []DirEntry       `json:"units"`
	}{d.info, d.entries}
	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return fmt.Errorf("sink: %w", err)
	}
	if err := os.WriteFile(filepath.Join(d.path, "index.json"), data, 0o644); err != nil {
		return fmt.Errorf("sink: %w", err)
	}
	return nil
}

// Discard counts units and drops them.
type Discard struct {
	units atomic.Int64
	bytes atomic.Int64
}

func (d *Discard) Submit(_ context.Context, u *media.Unit) error {
	d.units.Add(1)
	d.bytes.Add(int64(len(u.Data)))
	return nil
}

// Counts returns the units and bytes seen.
func (d *Discard) Counts() (units, bytes int64) { return d.units.Load(), d.bytes.Load() }

// Multi submits every unit to each submitter in order, stopping at the
// first error.
type Multi []pipeline.Submitter

func (m Multi) Submit(ctx context.Context, u *media.Unit) error {
	for _, s := range m {
		if err := s.Submit(ctx, u); err != nil {
			return err
		}
	}
	return nil
}

// SetStreamInfo forwards the stream description to members that want it.
func (m Multi) SetStreamInfo(info media.StreamInfo) {
	for _, s := range m {
		if r, ok := s.(pipeline.InfoReceiver); ok {
			r.SetStreamInfo(info)
		}
	}
}
