// Package media defines the types that flow from the elementary-stream
// parser to the decode submission side: the decodable Unit and the
// StreamInfo describing the stream it came from.
package media

import "fmt"

// Codec identifies the compression format of an elementary stream.
type Codec int

// Supported codecs. CodecUnknown asks the parser to probe the stream.
const (
	CodecUnknown Codec = iota
	CodecAVC
	CodecHEVC
	CodecAV1
)

func (c Codec) String() string {
	switch c {
	case CodecAVC:
		return "h264"
	case CodecHEVC:
		return "h265"
	case CodecAV1:
		return "av1"
	default:
		return "unknown"
	}
}

// ParseCodec maps a user-facing codec name to a Codec. The empty string and
// "auto" select CodecUnknown.
func ParseCodec(s string) (Codec, error) {
	switch s {
	case "", "auto", "unknown":
		return CodecUnknown, nil
	case "h264", "avc", "264":
		return CodecAVC, nil
	case "h265", "hevc", "265":
		return CodecHEVC, nil
	case "av1":
		return CodecAV1, nil
	}
	return CodecUnknown, fmt.Errorf("unknown codec %q", s)
}

func (c Codec) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *Codec) UnmarshalText(b []byte) error {
	v, err := ParseCodec(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Container identifies the framing around the elementary stream.
type Container int

// Supported containers. ContainerAuto detects IVF from the stream magic.
const (
	ContainerAuto Container = iota
	ContainerNone
	ContainerIVF
)

func (c Container) String() string {
	switch c {
	case ContainerNone:
		return "raw"
	case ContainerIVF:
		return "ivf"
	default:
		return "auto"
	}
}

// ParseContainer maps a user-facing container name to a Container.
func ParseContainer(s string) (Container, error) {
	switch s {
	case "", "auto":
		return ContainerAuto, nil
	case "raw", "none":
		return ContainerNone, nil
	case "ivf":
		return ContainerIVF, nil
	}
	return ContainerAuto, fmt.Errorf("unknown container %q", s)
}

func (c Container) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *Container) UnmarshalText(b []byte) error {
	v, err := ParseContainer(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Unit is one self-contained decodable unit: a coded picture for AVC/HEVC
// (Annex B bytes including start codes) or a temporal unit for AV1 (OBUs in
// low-overhead format). Data and Parts alias parser-owned storage that is
// reused by the next call; use Clone to keep a unit.
type Unit struct {
	Data  []byte
	Parts [][]byte // NAL units without start codes, or whole OBUs

	Codec      Codec
	Index      int64 // zero-based sequence number within the stream
	Offset     int64 // source byte offset of Data[0]
	IsKeyframe bool
	PTS        int64 // IVF frame timestamp; zero for raw streams
}

// Len returns the unit size in bytes.
func (u *Unit) Len() int { return len(u.Data) }

// Clone returns a deep copy whose Data and Parts do not alias the original.
func (u *Unit) Clone() *Unit {
	c := *u
	c.Data = make([]byte, len(u.Data))
	copy(c.Data, u.Data)
	c.Parts = make([][]byte, 0, len(u.Parts))
	for _, p := range u.Parts {
		cp := make([]byte, len(p))
		copy(cp, p)
		c.Parts = append(c.Parts, cp)
	}
	return &c
}

// StreamInfo describes a stream once its container header and first
// parameter sets have been seen. Fields that the stream does not carry are
// left at their zero value.
type StreamInfo struct {
	Codec       Codec
	Container   Container
	FourCC      string
	CodecString string // RFC 6381, e.g. "avc1.64001F"
	Width       int
	Height      int
	TimebaseNum uint32
	TimebaseDen uint32
	FrameCount  uint32
}
