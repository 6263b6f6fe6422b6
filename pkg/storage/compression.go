package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/vjranagit/framepivot/pkg/types"
)

// ErrCorruptBlock is returned when a stored block cannot be decoded.
var ErrCorruptBlock = errors.New("corrupt block")

// Compressor encodes sample blocks: millisecond timestamps as
// delta-of-delta varints, values as XOR-with-previous uvarints, then zstd.
type Compressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewCompressor creates a compressor for levels 1 (fastest) to 4 (best).
func NewCompressor(level int) (*Compressor, error) {
	encLevel := zstd.SpeedDefault
	switch level {
	case 1:
		encLevel = zstd.SpeedFastest
	case 2:
		encLevel = zstd.SpeedDefault
	case 3:
		encLevel = zstd.SpeedBetterCompression
	case 4:
		encLevel = zstd.SpeedBestCompression
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(encLevel))
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	return &Compressor{
		encoder: encoder,
		decoder: decoder,
	}, nil
}

// EncodeSamples encodes samples in the given order.
func (c *Compressor) EncodeSamples(samples []types.Sample) []byte {
	buf := make([]byte, 0, 4+len(samples)*4)
	buf = binary.AppendUvarint(buf, uint64(len(samples)))
	if len(samples) == 0 {
		return c.encoder.EncodeAll(buf, nil)
	}

	var prev, prevDelta int64
	for i, s := range samples {
		ts := s.Timestamp.UnixMilli()
		if i == 0 {
			buf = binary.AppendVarint(buf, ts)
		} else {
			delta := ts - prev
			buf = binary.AppendVarint(buf, delta-prevDelta)
			prevDelta = delta
		}
		prev = ts
	}

	var prevBits uint64
	for i, s := range samples {
		bits := math.Float64bits(s.Value)
		if i == 0 {
			buf = binary.LittleEndian.AppendUint64(buf, bits)
		} else {
			buf = binary.AppendUvarint(buf, bits^prevBits)
		}
		prevBits = bits
	}

	return c.encoder.EncodeAll(buf, make([]byte, 0, len(buf)))
}

// DecodeSamples reverses EncodeSamples.
func (c *Compressor) DecodeSamples(data []byte) ([]types.Sample, error) {
	raw, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptBlock, err)
	}

	count, n := binary.Uvarint(raw)
	if n <= 0 {
		return nil, fmt.Errorf("%w: bad sample count", ErrCorruptBlock)
	}
	raw = raw[n:]
	// every sample needs at least one byte per section
	if count > uint64(len(raw)) {
		return nil, fmt.Errorf("%w: %d samples in %d bytes", ErrCorruptBlock, count, len(raw))
	}

	samples := make([]types.Sample, count)
	var prev, prevDelta int64
	for i := range samples {
		v, n := binary.Varint(raw)
		if n <= 0 {
			return nil, fmt.Errorf("%w: truncated timestamps", ErrCorruptBlock)
		}
		raw = raw[n:]

		ts := v
		if i > 0 {
			delta := v + prevDelta
			ts = prev + delta
			prevDelta = delta
		}
		samples[i].Timestamp = time.UnixMilli(ts)
		prev = ts
	}

	var prevBits uint64
	for i := range samples {
		var bits uint64
		if i == 0 {
			if len(raw) < 8 {
				return nil, fmt.Errorf("%w: truncated values", ErrCorruptBlock)
			}
			bits = binary.LittleEndian.Uint64(raw)
			raw = raw[8:]
		} else {
			x, n := binary.Uvarint(raw)
			if n <= 0 {
				return nil, fmt.Errorf("%w: truncated values", ErrCorruptBlock)
			}
			raw = raw[n:]
			bits = x ^ prevBits
		}
		samples[i].Value = math.Float64frombits(bits)
		prevBits = bits
	}

	return samples, nil
}

// Close releases the encoder and decoder.
func (c *Compressor) Close() {
	if c.encoder != nil {
		c.encoder.Close()
	}
	if c.decoder != nil {
		c.decoder.Close()
	}
}
