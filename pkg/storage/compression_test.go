package storage

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/vjranagit/framepivot/pkg/types"
)

func TestCompressorRoundTrip(t *testing.T) {
	comp, err := NewCompressor(2)
	if err != nil {
		t.Fatalf("Failed to create compressor: %v", err)
	}
	defer comp.Close()

	// Regular one-minute intervals with a slowly moving value
	start := time.UnixMilli(1_700_000_000_123)
	samples := make([]types.Sample, 100)
	for i := range samples {
		samples[i] = types.Sample{
			Timestamp: start.Add(time.Duration(i) * time.Minute),
			Value:     20.0 + float64(i)*0.5,
		}
	}

	encoded := comp.EncodeSamples(samples)

	// 16 bytes per raw sample
	if len(encoded) >= len(samples)*16 {
		t.Errorf("Compression ineffective: original=%d, compressed=%d", len(samples)*16, len(encoded))
	}

	decoded, err := comp.DecodeSamples(encoded)
	if err != nil {
		t.Fatalf("Decompression failed: %v", err)
	}

	if len(decoded) != len(samples) {
		t.Fatalf("Length mismatch: expected %d, got %d", len(samples), len(decoded))
	}

	for i := range samples {
		if !samples[i].Timestamp.Equal(decoded[i].Timestamp) {
			t.Errorf("Timestamp mismatch at %d: expected %v, got %v", i, samples[i].Timestamp, decoded[i].Timestamp)
		}
		if samples[i].Value != decoded[i].Value {
			t.Errorf("Value mismatch at %d: expected %f, got %f", i, samples[i].Value, decoded[i].Value)
		}
	}
}

func TestCompressorSpecialValues(t *testing.T) {
	comp, err := NewCompressor(4)
	if err != nil {
		t.Fatalf("Failed to create compressor: %v", err)
	}
	defer comp.Close()

	values := []float64{0, -1, math.Inf(1), math.Inf(-1), math.MaxFloat64, math.SmallestNonzeroFloat64, math.NaN()}
	samples := make([]types.Sample, len(values))
	for i, v := range values {
		// irregular and descending timestamps exercise negative deltas
		samples[i] = types.Sample{Timestamp: time.UnixMilli(int64(5000 - i*i*7)), Value: v}
	}

	decoded, err := comp.DecodeSamples(comp.EncodeSamples(samples))
	if err != nil {
		t.Fatalf("Decompression failed: %v", err)
	}

	for i, v := range values {
		if math.IsNaN(v) {
			if !math.IsNaN(decoded[i].Value) {
				t.Errorf("Expected NaN at %d, got %f", i, decoded[i].Value)
			}
			continue
		}
		if decoded[i].Value != v {
			t.Errorf("Value mismatch at %d: expected %v, got %v", i, v, decoded[i].Value)
		}
		if decoded[i].Timestamp.UnixMilli() != samples[i].Timestamp.UnixMilli() {
			t.Errorf("Timestamp mismatch at %d", i)
		}
	}
}

func TestCompressorEmptyBlock(t *testing.T) {
	comp, err := NewCompressor(1)
	if err != nil {
		t.Fatalf("Failed to create compressor: %v", err)
	}
	defer comp.Close()

	decoded, err := comp.DecodeSamples(comp.EncodeSamples(nil))
	if err != nil {
		t.Fatalf("Decompression failed: %v", err)
	}
	if len(decoded) != 0 {
		t.Errorf("Expected no samples, got %d", len(decoded))
	}
}

func TestCompressorCorruptBlock(t *testing.T) {
	comp, err := NewCompressor(2)
	if err != nil {
		t.Fatalf("Failed to create compressor: %v", err)
	}
	defer comp.Close()

	if _, err := comp.DecodeSamples([]byte("not zstd")); !errors.Is(err, ErrCorruptBlock) {
		t.Errorf("Expected ErrCorruptBlock, got %v", err)
	}

	// valid zstd frame, sample count larger than the payload
	truncated := comp.encoder.EncodeAll([]byte{0x05, 0x02}, nil)
	if _, err := comp.DecodeSamples(truncated); !errors.Is(err, ErrCorruptBlock) {
		t.Errorf("Expected ErrCorruptBlock for truncated block, got %v", err)
	}
}
