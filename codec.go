package framegear

import (
	"crypto/subtle"
	"encoding/binary"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
	"github.com/zeebo/blake3"
)

// FrameCodec turns frames into message payloads and back.
// Decode must fail with an error matching ErrDecode for malformed input
// and never return a partially valid frame.
type FrameCodec interface {
	Encode(*Frame) ([]byte, error)
	Decode([]byte) (*Frame, error)
}

// Payload layout:
//
//	version (1) | header length (2, big-endian) | CBOR header | body
//
// The body is the pixel buffer, compressed as the header says.
const (
	codecVersion     = 1
	codecPreludeSize = 3
	maxHeaderSize    = 1<<16 - 1
	// maxFrameBytes bounds the raw pixel buffer a header may announce.
	maxFrameBytes = 1 << 30
)

// frameHeader is the self-describing metadata in front of every body.
type frameHeader struct {
	Height    int    `cbor:"1,keyasint"`
	Width     int    `cbor:"2,keyasint"`
	Channels  int    `cbor:"3,keyasint"`
	DType     uint8  `cbor:"4,keyasint"`
	Encoding  uint8  `cbor:"5,keyasint"`
	RawLength int    `cbor:"6,keyasint"`
	Seq       uint64 `cbor:"7,keyasint,omitempty"`
	Timestamp int64  `cbor:"8,keyasint,omitempty"`
	Sum       []byte `cbor:"9,keyasint"`
}

var (
	headerEncMode cbor.EncMode
	headerDecMode cbor.DecMode
)

func init() {
	var err error
	headerEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("framegear: CBOR encoder initialization failed: " + err.Error())
	}
	headerDecMode, err = cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic("framegear: CBOR decoder initialization failed: " + err.Error())
	}
}

// checksumKey separates frame checksums from any other BLAKE3 use.
var checksumKey = [32]byte{
	'f', 'r', 'a', 'm', 'e', 'g', 'e', 'a', 'r', '.', 'f', 'r', 'a', 'm', 'e',
}

func checksum(data []byte) []byte {
	hasher, err := blake3.NewKeyed(checksumKey[:])
	if err != nil {
		panic("framegear: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	_, _ = hasher.Write(data)
	return hasher.Sum(nil)
}

// Codec is the default FrameCodec.
type Codec struct {
	compression Compression
}

// NewCodec returns a codec that compresses pixel buffers with c.
func NewCodec(c Compression) *Codec {
	return &Codec{compression: c}
}

// Encode serializes f. The frame is validated first, so a buffer that does
// not match the shape fails with ErrInvalidFrame.
func (c *Codec) Encode(f *Frame) ([]byte, error) {
	if f == nil {
		return nil, errors.Wrap(ErrInvalidFrame, "nil frame")
	}
	if err := f.validate(); err != nil {
		return nil, err
	}

	body, encoding, err := compress(f.Data, c.compression)
	if err != nil {
		return nil, err
	}

	hdr := frameHeader{
		Height:    f.Height,
		Width:     f.Width,
		Channels:  f.Channels,
		DType:     uint8(f.DType),
		Encoding:  uint8(encoding),
		RawLength: len(f.Data),
		Seq:       f.Seq,
		Sum:       checksum(f.Data),
	}
	if !f.Timestamp.IsZero() {
		hdr.Timestamp = f.Timestamp.UnixNano()
	}

	hb, err := headerEncMode.Marshal(hdr)
	if err != nil {
		return nil, errors.Wrap(err, "encode frame header")
	}
	if len(hb) > maxHeaderSize {
		return nil, errors.Errorf("frame header too large: %d bytes", len(hb))
	}

	out := make([]byte, 0, codecPreludeSize+len(hb)+len(body))
	out = append(out, codecVersion)
	out = binary.BigEndian.AppendUint16(out, uint16(len(hb)))
	out = append(out, hb...)
	out = append(out, body...)
	return out, nil
}

// Decode parses a payload produced by Encode. The returned frame may share
// memory with payload.
func (c *Codec) Decode(payload []byte) (*Frame, error) {
	if len(payload) < codecPreludeSize {
		return nil, errors.Wrapf(ErrDecode, "payload too short (%d bytes)", len(payload))
	}
	if payload[0] != codecVersion {
		return nil, errors.Wrapf(ErrDecode, "unsupported codec version %d", payload[0])
	}

	n := int(binary.BigEndian.Uint16(payload[1:codecPreludeSize]))
	if codecPreludeSize+n > len(payload) {
		return nil, errors.Wrapf(ErrDecode, "header length %d exceeds payload", n)
	}

	var hdr frameHeader
	if err := headerDecMode.Unmarshal(payload[codecPreludeSize:codecPreludeSize+n], &hdr); err != nil {
		return nil, errors.Wrapf(ErrDecode, "frame header: %v", err)
	}

	f := &Frame{
		Height:   hdr.Height,
		Width:    hdr.Width,
		Channels: hdr.Channels,
		DType:    DType(hdr.DType),
		Seq:      hdr.Seq,
	}
	if hdr.Timestamp != 0 {
		f.Timestamp = time.Unix(0, hdr.Timestamp)
	}
	if f.DType.Size() == 0 || !validDimensions(f.Height, f.Width, f.Channels) {
		return nil, errors.Wrapf(ErrDecode, "bad shape (%d, %d, %d) %s", f.Height, f.Width, f.Channels, f.DType)
	}
	if hdr.RawLength != f.Size() || hdr.RawLength > maxFrameBytes {
		return nil, errors.Wrapf(ErrDecode, "raw length %d does not match shape", hdr.RawLength)
	}

	data, err := decompress(payload[codecPreludeSize+n:], Compression(hdr.Encoding), hdr.RawLength)
	if err != nil {
		return nil, errors.Wrapf(ErrDecode, "body: %v", err)
	}
	if subtle.ConstantTimeCompare(checksum(data), hdr.Sum) != 1 {
		return nil, errors.Wrap(ErrDecode, "checksum mismatch")
	}

	f.Data = data
	return f, nil
}
