package framegear

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
)

// Compression identifies how a frame's pixel buffer is encoded on the
// wire. The value is written into every frame header, so changing the
// numbering breaks compatibility with running peers.
type Compression uint8

const (
	// CompressionNone sends raw pixels.
	CompressionNone Compression = 0
	// CompressionLZ4 uses LZ4 block compression. Cheap enough for
	// high frame rates on synthetic or flat content.
	CompressionLZ4 Compression = 1
	// CompressionZstd uses zstd at the default level. Better ratio,
	// more CPU per frame.
	CompressionZstd Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompression parses the name returned by String. The empty string
// means CompressionNone.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, errors.Wrapf(ErrConfig, "unknown compression %q", name)
	}
}

var errIncompressible = errors.New("incompressible data")

// compress encodes data with c. Data that does not shrink is returned
// as is with CompressionNone.
func compress(data []byte, c Compression) ([]byte, Compression, error) {
	var (
		out []byte
		err error
	)
	switch c {
	case CompressionNone:
		return data, CompressionNone, nil
	case CompressionLZ4:
		out, err = compressLZ4(data)
	case CompressionZstd:
		out, err = compressZstd(data)
	default:
		return nil, 0, errors.Errorf("unsupported compression %s", c)
	}
	if errors.Is(err, errIncompressible) {
		return data, CompressionNone, nil
	}
	if err != nil {
		return nil, 0, err
	}
	return out, c, nil
}

// decompress reverses compress. size is the expected raw length and is
// verified.
func decompress(body []byte, c Compression, size int) ([]byte, error) {
	switch c {
	case CompressionNone:
		if len(body) != size {
			return nil, errors.Errorf("raw body holds %d bytes, header says %d", len(body), size)
		}
		return body, nil
	case CompressionLZ4:
		return decompressLZ4(body, size)
	case CompressionZstd:
		return decompressZstd(body, size)
	default:
		return nil, errors.Errorf("unsupported compression %s", c)
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, dst, nil)
	if err != nil {
		return nil, errors.Wrap(err, "lz4 compress")
	}
	// 0 means lz4 gave up on the input.
	if n == 0 || n >= len(data) {
		return nil, errIncompressible
	}
	return dst[:n], nil
}

// An LZ4 block expands at most 255 times, plus the trailing literals.
// A zstd block of 4 bytes (3 header, 1 RLE) expands to at most 128 KiB.
const (
	maxLZ4Expansion  = 255
	maxZstdExpansion = (128 << 10) / 4
)

func decompressLZ4(body []byte, size int) ([]byte, error) {
	if size > maxLZ4Expansion*len(body)+16 {
		return nil, errors.Errorf("lz4 decompress: %d bytes cannot expand to %d", len(body), size)
	}
	dst := make([]byte, size)
	n, err := lz4.UncompressBlock(body, dst)
	if err != nil {
		return nil, errors.Wrap(err, "lz4 decompress")
	}
	if n != size {
		return nil, errors.Errorf("lz4 decompress: got %d bytes, expected %d", n, size)
	}
	return dst, nil
}

// zstd encoders and decoders are safe for concurrent use and costly to build.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("framegear: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxFrameBytes))
	if err != nil {
		panic("framegear: zstd decoder initialization failed: " + err.Error())
	}
}

func compressZstd(data []byte) ([]byte, error) {
	out := zstdEncoder.EncodeAll(data, nil)
	if len(out) >= len(data) {
		return nil, errIncompressible
	}
	return out, nil
}

func decompressZstd(body []byte, size int) ([]byte, error) {
	if size > maxZstdExpansion*len(body) {
		return nil, errors.Errorf("zstd decompress: %d bytes cannot expand to %d", len(body), size)
	}
	var fh zstd.Header
	if err := fh.Decode(body); err != nil {
		return nil, errors.Wrap(err, "zstd frame header")
	}
	if fh.HasFCS && fh.FrameContentSize != uint64(size) {
		return nil, errors.Errorf("zstd frame announces %d bytes, expected %d", fh.FrameContentSize, size)
	}

	out, err := zstdDecoder.DecodeAll(body, make([]byte, 0, size))
	if err != nil {
		return nil, errors.Wrap(err, "zstd decompress")
	}
	if len(out) != size {
		return nil, errors.Errorf("zstd decompress: got %d bytes, expected %d", len(out), size)
	}
	return out, nil
}
