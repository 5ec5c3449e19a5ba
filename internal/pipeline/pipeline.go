// Package pipeline drives one stream from its parser to the decode
// submission side, forwarding one unit at a time while collecting counters.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/zsiec/esfeed/internal/media"
)

// Submitter receives decodable units. It is the boundary to a hardware
// decoder binding, a file writer or an inspector. The unit is only valid for
// the duration of the call.
type Submitter interface {
	Submit(ctx context.Context, u *media.Unit) error
}

// InfoReceiver is implemented by submitters that want the stream
// description. SetStreamInfo is called once, before the first unit.
type InfoReceiver interface {
	SetStreamInfo(info media.StreamInfo)
}

// Source is the subset of *demux.Parser the pipeline uses.
type Source interface {
	Next() (*media.Unit, error)
	Info() media.StreamInfo
	Truncation() error
}

// Stats is a point-in-time snapshot of a pipeline's counters.
type Stats struct {
	Key        string        `json:"key"`
	Units      int64         `json:"units"`
	Bytes      int64         `json:"bytes"`
	Keyframes  int64         `json:"keyframes"`
	LastOffset int64         `json:"lastOffset"`
	Elapsed    time.Duration `json:"elapsed"`
	Truncation string        `json:"truncation,omitempty"`
}

// Pipeline forwards every unit of one Source to one Submitter.
type Pipeline struct {
	log       *slog.Logger
	key       string
	src       Source
	sub       Submitter
	startTime time.Time
	infoSent  bool

	units      atomic.Int64
	bytes      atomic.Int64
	keyframes  atomic.Int64
	lastOffset atomic.Int64
	elapsed    atomic.Int64
	truncation atomic.Pointer[string]
}

// New creates a Pipeline that reads units from src and submits them to sub.
// key names the stream in logs and stats.
func New(key string, src Source, sub Submitter) *Pipeline {
	return &Pipeline{
		log: slog.With("component", "pipeline", "stream", key),
		key: key,
		src: src,
		sub: sub,
	}
}

// SetLogger replaces the logger; the component and stream attributes are
// added to it.
func (p *Pipeline) SetLogger(log *slog.Logger) {
	if log != nil {
		p.log = log.With("component", "pipeline", "stream", p.key)
	}
}

// Stats returns the current counters. It is safe to call while Run is in
// progress.
func (p *Pipeline) Stats() Stats {
	s := Stats{
		Key:        p.key,
		Units:      p.units.Load(),
		Bytes:      p.bytes.Load(),
		Keyframes:  p.keyframes.Load(),
		LastOffset: p.lastOffset.Load(),
		Elapsed:    time.Duration(p.elapsed.Load()),
	}
	if t := p.truncation.Load(); t != nil {
		s.Truncation = *t
	}
	return s
}

// Run forwards units until the source is exhausted, the context is
// cancelled, or the submitter fails. Cancellation is checked between units
// and is not an error; read and submit errors are returned.
func (p *Pipeline) Run(ctx context.Context) error {
	p.startTime = time.Now()
	defer p.finish()

	for {
		if ctx.Err() != nil {
			p.log.Info("pipeline cancelled", "units", p.units.Load())
			return nil
		}

		u, err := p.src.Next()
		if errors.Is(err, io.EOF) {
			p.log.Info("stream finished", "units", p.units.Load(), "bytes", p.bytes.Load())
			return nil
		}
		if err != nil {
			return fmt.Errorf("pipeline %s: %w", p.key, err)
		}

		if !p.infoSent {
			if r, ok := p.sub.(InfoReceiver); ok {
				r.SetStreamInfo(p.src.Info())
			}
			p.infoSent = true
		}

		if err := p.sub.Submit(ctx, u); err != nil {
			if ctx.Err() != nil {
				p.log.Info("pipeline cancelled during submit", "units", p.units.Load())
				return nil
			}
			return fmt.Errorf("pipeline %s: submit unit %d: %w", p.key, u.Index, err)
		}
		p.units.Add(1)
		p.bytes.Add(int64(len(u.Data)))
		p.lastOffset.Store(u.Offset)
		if u.IsKeyframe {
			p.keyframes.Add(1)
		}
	}
}

func (p *Pipeline) finish() {
	p.elapsed.Store(int64(time.Since(p.startTime)))
	if err := p.src.Truncation(); err != nil {
		msg := err.Error()
		p.truncation.Store(&msg)
		p.log.Warn("stream was truncated", "error", err, "units", p.units.Load())
	}
}
