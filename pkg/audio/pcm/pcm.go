package pcm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// BytesPerSample is the width of one mono PCM16 sample on the wire
const BytesPerSample = 2

var (
	ErrEmptyChunk = errors.New("empty audio chunk")
	ErrOddLength  = errors.New("audio chunk length is not a multiple of 2")
)

// Encode converts float samples in [-1, 1] to 16-bit little-endian PCM.
// Out of range samples are clamped.
func Encode(samples []float32) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*BytesPerSample:], uint16(FloatToInt16(s)))
	}
	return out
}

// Decode converts 16-bit little-endian PCM to float samples in [-1, 1).
func Decode(data []byte) ([]float32, error) {
	if err := Validate(data, 0); err != nil {
		return nil, err
	}

	samples := make([]float32, len(data)/BytesPerSample)
	for i := range samples {
		samples[i] = Int16ToFloat(int16(binary.LittleEndian.Uint16(data[i*BytesPerSample:])))
	}
	return samples, nil
}

// FloatToInt16 scales a float sample to int16. Negative values use the
// full 32768 range so that -1.0 maps to math.MinInt16.
func FloatToInt16(s float32) int16 {
	if math.IsNaN(float64(s)) {
		return 0
	}
	if s >= 1 {
		return 32767
	}
	if s <= -1 {
		return -32768
	}
	if s < 0 {
		return int16(s * 32768)
	}
	return int16(s * 32767)
}

// Int16ToFloat is the inverse of FloatToInt16.
func Int16ToFloat(v int16) float32 {
	if v < 0 {
		return float32(v) / 32768
	}
	return float32(v) / 32767
}

// Validate checks that data is a well-formed PCM16 chunk. maxBytes <= 0
// disables the size bound.
func Validate(data []byte, maxBytes int) error {
	if len(data) == 0 {
		return ErrEmptyChunk
	}
	if len(data)%BytesPerSample != 0 {
		return ErrOddLength
	}
	if maxBytes > 0 && len(data) > maxBytes {
		return fmt.Errorf("audio chunk too large: %d bytes (max %d)", len(data), maxBytes)
	}
	return nil
}

// SampleCount returns the number of mono samples in a chunk.
func SampleCount(data []byte) int {
	return len(data) / BytesPerSample
}
