// Package ivf reads and writes the minimal IVF container framing: a 32-byte
// file header followed by frames, each preceded by a 12-byte frame header.
// All fields are little-endian.
package ivf

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Layout constants.
const (
	Magic           = "DKIF"
	FileHeaderSize  = 32
	FrameHeaderSize = 12

	// FourCCAV1 identifies AV1 payloads.
	FourCCAV1 = "AV01"
)

var (
	// ErrBadMagic reports data that does not start with the IVF signature.
	ErrBadMagic = errors.New("ivf: bad magic")
	// ErrShortHeader reports fewer bytes than a header needs.
	ErrShortHeader = errors.New("ivf: header too short")
)

// FileHeader is the fixed 32-byte IVF stream header.
type FileHeader struct {
	Version     uint16
	HeaderSize  uint16
	FourCC      string
	Width       uint16
	Height      uint16
	TimebaseDen uint32
	TimebaseNum uint32
	FrameCount  uint32
}

// FrameHeader precedes every frame payload.
type FrameHeader struct {
	Size      uint32
	Timestamp uint64
}

// HasMagic reports whether b starts with the IVF signature.
func HasMagic(b []byte) bool {
	return len(b) >= len(Magic) && string(b[:len(Magic)]) == Magic
}

// ParseFileHeader decodes the first FileHeaderSize bytes of b. A declared
// header size below FileHeaderSize is rejected because the fixed fields would
// overlap the first frame.
func ParseFileHeader(b []byte) (FileHeader, error) {
	if len(b) < FileHeaderSize {
		return FileHeader{}, ErrShortHeader
	}
	if !HasMagic(b) {
		return FileHeader{}, ErrBadMagic
	}
	h := FileHeader{
		Version:     binary.LittleEndian.Uint16(b[4:6]),
		HeaderSize:  binary.LittleEndian.Uint16(b[6:8]),
		FourCC:      string(b[8:12]),
		Width:       binary.LittleEndian.Uint16(b[12:14]),
		Height:      binary.LittleEndian.Uint16(b[14:16]),
		TimebaseDen: binary.LittleEndian.Uint32(b[16:20]),
		TimebaseNum: binary.LittleEndian.Uint32(b[20:24]),
		FrameCount:  binary.LittleEndian.Uint32(b[24:28]),
	}
	if h.HeaderSize < FileHeaderSize {
		return h, fmt.Errorf("ivf: declared header size %d below %d", h.HeaderSize, FileHeaderSize)
	}
	return h, nil
}

// Marshal encodes the header. A zero HeaderSize is written as FileHeaderSize.
func (h FileHeader) Marshal() []byte {
	b := make([]byte, FileHeaderSize)
	copy(b, Magic)
	size := h.HeaderSize
	if size == 0 {
		size = FileHeaderSize
	}
	binary.LittleEndian.PutUint16(b[4:6], h.Version)
	binary.LittleEndian.PutUint16(b[6:8], size)
	copy(b[8:12], h.FourCC)
	binary.LittleEndian.PutUint16(b[12:14], h.Width)
	binary.LittleEndian.PutUint16(b[14:16], h.Height)
	binary.LittleEndian.PutUint32(b[16:20], h.TimebaseDen)
	binary.LittleEndian.PutUint32(b[20:24], h.TimebaseNum)
	binary.LittleEndian.PutUint32(b[24:28], h.FrameCount)
	return b
}

// ParseFrameHeader decodes a 12-byte frame header.
func ParseFrameHeader(b []byte) (FrameHeader, error) {
	if len(b) < FrameHeaderSize {
		return FrameHeader{}, ErrShortHeader
	}
	return FrameHeader{
		Size:      binary.LittleEndian.Uint32(b[0:4]),
		Timestamp: binary.LittleEndian.Uint64(b[4:12]),
	}, nil
}

// Marshal encodes the frame header.
func (h FrameHeader) Marshal() []byte {
	b := make([]byte, FrameHeaderSize)
	binary.LittleEndian.PutUint32(b[0:4], h.Size)
	binary.LittleEndian.PutUint64(b[4:12], h.Timestamp)
	return b
}
