// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

package compress

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm identifies a chunk's compression. Values are persisted.
type Algorithm uint8

const (
	None Algorithm = 0
	LZ4  Algorithm = 1
	Zstd Algorithm = 2
)

func (a Algorithm) String() string {
	switch a {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(a))
	}
}

// ParseAlgorithm parses the String form.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch name {
	case "none":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return Zstd, nil
	default:
		return 0, fmt.Errorf("unknown compression algorithm %q", name)
	}
}

// ErrIncompressible means the compressed form was not smaller than the
// input.
var ErrIncompressible = errors.New("compress: data is incompressible")

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("compress: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		panic("compress: zstd decoder initialization failed: " + err.Error())
	}
}

// Compress compresses data with algorithm. None returns data unchanged.
func Compress(data []byte, algorithm Algorithm) ([]byte, error) {
	switch algorithm {
	case None:
		return data, nil
	case LZ4:
		destination := make([]byte, lz4.CompressBlockBound(len(data)))
		written, err := lz4.CompressBlock(data, destination, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if written == 0 || written >= len(data) {
			return nil, ErrIncompressible
		}
		return destination[:written], nil
	case Zstd:
		compressed := zstdEncoder.EncodeAll(data, nil)
		if len(compressed) >= len(data) {
			return nil, ErrIncompressible
		}
		return compressed, nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm %s", algorithm)
	}
}

// Decompress reverses Compress. rawSize must equal the original length
// exactly; a mismatch is an error.
func Decompress(compressed []byte, algorithm Algorithm, rawSize int) ([]byte, error) {
	switch algorithm {
	case None:
		if len(compressed) != rawSize {
			return nil, fmt.Errorf("uncompressed chunk is %d bytes, want %d", len(compressed), rawSize)
		}
		return compressed, nil
	case LZ4:
		destination := make([]byte, rawSize)
		read, err := lz4.UncompressBlock(compressed, destination)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if read != rawSize {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, want %d", read, rawSize)
		}
		return destination, nil
	case Zstd:
		result, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, rawSize))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(result) != rawSize {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, want %d", len(result), rawSize)
		}
		return result, nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm %s", algorithm)
	}
}

// probeSize bounds how much of a chunk Select compresses to estimate
// the ratio.
const probeSize = 256 << 10

// Select estimates the best algorithm for data by zstd-compressing a
// prefix: a ratio of at least 1.5 picks zstd, at least 1.1 picks LZ4,
// anything less picks None.
func Select(data []byte) Algorithm {
	if len(data) == 0 {
		return None
	}
	sample := data
	if len(sample) > probeSize {
		sample = sample[:probeSize]
	}
	compressed := zstdEncoder.EncodeAll(sample, nil)
	ratio := float64(len(sample)) / float64(max(len(compressed), 1))
	switch {
	case ratio >= 1.5:
		return Zstd
	case ratio >= 1.1:
		return LZ4
	default:
		return None
	}
}

// Auto compresses data with preferred, or with the algorithm Select
// picks when preferred is nil. Incompressible data is returned as-is
// with None.
func Auto(data []byte, preferred *Algorithm) ([]byte, Algorithm, error) {
	algorithm := Select(data)
	if preferred != nil {
		algorithm = *preferred
	}
	compressed, err := Compress(data, algorithm)
	if errors.Is(err, ErrIncompressible) {
		return data, None, nil
	}
	if err != nil {
		return nil, 0, err
	}
	return compressed, algorithm, nil
}
