package mq

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

const (
	headerContentEncoding = "x-content-encoding"
	encodingZstd          = "zstd"
)

var (
	codecOnce sync.Once
	codecErr  error
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
)

func initCodec() error {
	codecOnce.Do(func() {
		encoder, codecErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if codecErr != nil {
			return
		}
		decoder, codecErr = zstd.NewReader(nil)
	})
	return codecErr
}

// compressBody returns the zstd-compressed body when it is larger than threshold.
// The second result reports whether compression was applied.
func compressBody(body []byte, threshold int) ([]byte, bool, error) {
	if threshold <= 0 || len(body) <= threshold {
		return body, false, nil
	}
	if err := initCodec(); err != nil {
		return nil, false, fmt.Errorf("init zstd codec failed: %w", err)
	}
	out := encoder.EncodeAll(body, make([]byte, 0, len(body)/2))
	if len(out) >= len(body) {
		return body, false, nil
	}
	return out, true, nil
}

// decompressBody inflates a body according to its content encoding header.
func decompressBody(body []byte, encoding string) ([]byte, error) {
	switch encoding {
	case "", "identity":
		return body, nil
	case encodingZstd:
		if err := initCodec(); err != nil {
			return nil, fmt.Errorf("init zstd codec failed: %w", err)
		}
		out, err := decoder.DecodeAll(body, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decode failed: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", encoding)
	}
}
