package framegear

import (
	"bytes"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// DType is the element type of a frame's pixel buffer.
type DType uint8

// Supported element types. The zero value is invalid.
const (
	Uint8 DType = iota + 1
	Int8
	Uint16
	Int16
	Int32
	Float32
	Float64
)

// Size returns the size of one element in bytes, or 0 for an invalid type.
func (d DType) Size() int {
	switch d {
	case Uint8, Int8:
		return 1
	case Uint16, Int16:
		return 2
	case Int32, Float32:
		return 4
	case Float64:
		return 8
	default:
		return 0
	}
}

func (d DType) String() string {
	switch d {
	case Uint8:
		return "uint8"
	case Int8:
		return "int8"
	case Uint16:
		return "uint16"
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	default:
		return fmt.Sprintf("dtype(%d)", uint8(d))
	}
}

// maxDimension bounds each frame dimension so size arithmetic cannot overflow.
const maxDimension = 1 << 16

// Frame is one image buffer moved across the transport. Data holds
// Height*Width*Channels elements of DType in row-major order and must not
// be modified once the frame has been handed to a gear.
//
// Seq and Timestamp travel with the frame but are not part of its identity:
// Equal only compares shape, element type and pixels.
type Frame struct {
	Height   int
	Width    int
	Channels int
	DType    DType
	Data     []byte

	Seq       uint64
	Timestamp time.Time
}

// NewFrame returns a frame over data after checking that the buffer matches
// the shape.
func NewFrame(height, width, channels int, dtype DType, data []byte) (*Frame, error) {
	f := &Frame{
		Height:   height,
		Width:    width,
		Channels: channels,
		DType:    dtype,
		Data:     data,
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Shape returns the frame dimensions.
func (f *Frame) Shape() (height, width, channels int) {
	return f.Height, f.Width, f.Channels
}

// Size returns the number of bytes the shape requires.
func (f *Frame) Size() int {
	return f.Height * f.Width * f.Channels * f.DType.Size()
}

func (f *Frame) validate() error {
	if f.DType.Size() == 0 {
		return errors.Wrapf(ErrInvalidFrame, "unsupported dtype %s", f.DType)
	}
	if !validDimensions(f.Height, f.Width, f.Channels) {
		return errors.Wrapf(ErrInvalidFrame, "bad shape (%d, %d, %d)", f.Height, f.Width, f.Channels)
	}
	if len(f.Data) != f.Size() {
		return errors.Wrapf(ErrInvalidFrame, "buffer holds %d bytes, shape needs %d", len(f.Data), f.Size())
	}
	return nil
}

func validDimensions(dims ...int) bool {
	for _, d := range dims {
		if d <= 0 || d > maxDimension {
			return false
		}
	}
	return true
}

// Equal reports whether both frames have the same shape, element type and pixels.
func (f *Frame) Equal(other *Frame) bool {
	if f == nil || other == nil {
		return f == other
	}
	return f.Height == other.Height &&
		f.Width == other.Width &&
		f.Channels == other.Channels &&
		f.DType == other.DType &&
		bytes.Equal(f.Data, other.Data)
}

// Source produces frames for a send-side gear. Read returns nil once the
// source is exhausted or stopped.
type Source interface {
	Start() error
	Read() *Frame
	Stop() error
}
