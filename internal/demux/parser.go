package demux

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/zsiec/esfeed/internal/ivf"
	"github.com/zsiec/esfeed/internal/media"
	"github.com/zsiec/esfeed/internal/ring"
)

// MinRingSize is the smallest ring capacity a Parser accepts.
const MinRingSize = 64

// ErrClosed is returned by Next after Close.
var ErrClosed = errors.New("demux: parser closed")

// Options configures a Parser. The zero value probes codec and container
// and uses the default buffer sizes.
type Options struct {
	Codec     media.Codec
	Container media.Container

	// RingSize is the read-ahead capacity in bytes. The largest NAL unit,
	// OBU or IVF frame in the stream must fit.
	RingSize int
	// UnitCapacity is the initial capacity of the unit buffer.
	UnitCapacity int

	Log *slog.Logger
}

// splitter forms one unit per call into p.asm. It returns io.EOF when no
// bytes remain, or a *FormatError when the stream cannot be continued; any
// NAL units or OBUs already assembled are complete and still emitted.
type splitter interface {
	next(p *Parser) error
}

// Parser turns one elementary stream into a sequence of decodable units.
// It is not safe for concurrent use; run one Parser per stream.
type Parser struct {
	log    *slog.Logger
	path   string
	closer io.Closer

	rb    *ring.Buffer
	asm   *assembler
	split splitter
	codec media.Codec
	info  media.StreamInfo

	containerChecked bool
	ivfHeader        ivf.FileHeader
	spsSeen          bool

	index  int64
	ended  bool
	closed bool
	err    error // fatal I/O error, returned again by every Next
	trunc  *FormatError
}

// Open opens the file at path and prepares a Parser for it. The container
// header and codec are resolved before Open returns; on any failure the file
// is closed again.
func Open(path string, opts Options) (*Parser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &IOError{Op: "open", Path: path, Err: err}
	}
	p, err := newParser(f, path, opts)
	if err != nil {
		f.Close()
		return nil, err
	}
	p.closer = f
	return p, nil
}

// New prepares a Parser reading from r. The caller keeps ownership of r.
func New(r io.Reader, opts Options) (*Parser, error) {
	return newParser(r, "", opts)
}

func newParser(r io.Reader, path string, opts Options) (*Parser, error) {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "demux")
	if path != "" {
		log = log.With("path", path)
	}

	size := opts.RingSize
	if size == 0 {
		size = ring.DefaultCapacity
	}
	if size < MinRingSize {
		return nil, fmt.Errorf("demux: ring size %d below minimum %d", size, MinRingSize)
	}

	p := &Parser{
		log:   log,
		path:  path,
		rb:    ring.New(r, size),
		asm:   newAssembler(opts.UnitCapacity),
		codec: opts.Codec,
	}
	if err := p.detectContainer(opts.Container); err != nil {
		return nil, err
	}
	if p.codec == media.CodecUnknown {
		c, err := p.probeCodec()
		if err != nil {
			return nil, err
		}
		p.codec = c
		if c != media.CodecUnknown {
			p.log.Debug("probed codec", "codec", c)
		}
	}
	p.info.Codec = p.codec

	switch {
	case p.info.Container == media.ContainerIVF:
		p.split = &ivfSplitter{splitOBUs: p.codec == media.CodecAV1}
	case p.codec == media.CodecAV1:
		p.split = &obuSplitter{}
	default:
		p.split = newAnnexBSplitter(p.codec)
	}
	return p, nil
}

// Next returns the next decodable unit, or io.EOF once the stream is
// exhausted. The returned Unit and its slices are valid until the following
// call to Next or Close.
//
// A malformed stream is cut at the last complete NAL unit or OBU: Next
// returns what was assembled up to that point, then io.EOF, and Truncation
// reports the cause. Read errors are returned as *IOError and are fatal.
func (p *Parser) Next() (*media.Unit, error) {
	switch {
	case p.closed:
		return nil, ErrClosed
	case p.err != nil:
		return nil, p.err
	case p.ended:
		return nil, io.EOF
	}

	p.asm.reset()
	err := p.split.next(p)
	if err != nil {
		var fe *FormatError
		switch {
		case errors.Is(err, io.EOF):
			p.ended = true
			return nil, io.EOF
		case errors.As(err, &fe):
			p.ended = true
			p.trunc = fe
			p.log.Warn("truncating stream", "offset", fe.Offset, "reason", fe.Reason, "units", p.index)
			if p.asm.empty() {
				return nil, io.EOF
			}
		default:
			p.err = err
			return nil, err
		}
	}

	u := p.asm.finish(p.codec, p.index)
	p.index++
	p.log.Debug("unit",
		"index", u.Index,
		"offset", u.Offset,
		"size", len(u.Data),
		"parts", len(u.Parts),
		"keyframe", u.IsKeyframe,
	)
	return u, nil
}

// Info describes the stream. Width and Height fill in once the first SPS
// has been parsed when the container does not carry them.
func (p *Parser) Info() media.StreamInfo { return p.info }

// Truncation returns the *FormatError that ended the stream early, or nil.
func (p *Parser) Truncation() error {
	if p.trunc == nil {
		return nil
	}
	return p.trunc
}

// Units returns how many units Next has returned.
func (p *Parser) Units() int64 { return p.index }

// Close releases the source file and both buffers. It is safe to call more
// than once.
func (p *Parser) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	p.rb = nil
	p.asm = nil
	if p.closer == nil {
		return nil
	}
	if err := p.closer.Close(); err != nil {
		return &IOError{Op: "close", Path: p.path, Err: err}
	}
	return nil
}

// more pulls more bytes from the source into the ring. It reports false
// once the source is exhausted.
func (p *Parser) more() (bool, error) {
	n, err := p.rb.Fetch()
	switch {
	case errors.Is(err, ring.ErrFull):
		return false, p.formatError(0, fmt.Sprintf("unit exceeds ring capacity %d", p.rb.Cap()))
	case err != nil:
		return false, &IOError{Op: "read", Path: p.path, Err: err}
	}
	return n > 0, nil
}

// fill buffers at least n bytes, or as many as the ring holds, unless the
// source ends first.
func (p *Parser) fill(n int) error {
	n = min(n, p.rb.Cap())
	for p.rb.Len() < n {
		ok, err := p.more()
		if err != nil || !ok {
			return err
		}
	}
	return nil
}

// need is fill that treats a short stream as malformed.
func (p *Parser) need(n int, reason string) error {
	if err := p.fill(n); err != nil {
		return err
	}
	if p.rb.Len() < n {
		return p.formatError(0, fmt.Sprintf("%s: %d of %d bytes", reason, p.rb.Len(), n))
	}
	return nil
}

// formatError builds a FormatError at rel bytes past the read position.
func (p *Parser) formatError(rel int64, reason string) *FormatError {
	return &FormatError{Offset: p.rb.Consumed() + rel, Reason: reason}
}

// noteSPS fills the picture size and codec string from the first SPS.
func (p *Parser) noteSPS(nal []byte) {
	if p.spsSeen {
		return
	}
	p.spsSeen = true
	switch p.codec {
	case media.CodecAVC:
		sps, err := ParseSPS(nal)
		if err != nil {
			p.log.Debug("SPS parse failed", "error", err)
			return
		}
		p.info.Width, p.info.Height = sps.Width, sps.Height
		p.info.CodecString = sps.CodecString()
	case media.CodecHEVC:
		sps, err := ParseHEVCSPS(nal)
		if err != nil {
			p.log.Debug("SPS parse failed", "error", err)
			return
		}
		p.info.Width, p.info.Height = sps.Width, sps.Height
		p.info.CodecString = sps.CodecString()
	}
	p.log.Info("stream parameters",
		"codec", p.info.CodecString,
		"width", p.info.Width,
		"height", p.info.Height,
	)
}
