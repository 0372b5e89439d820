package wav

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

var ErrInvalidFormat = errors.New("invalid wav data")

// Header is the decoded fmt/data information of a PCM WAV file.
type Header struct {
	RIFFSize      uint32
	AudioFormat   uint16
	Channels      int
	SampleRate    int
	ByteRate      int
	BlockAlign    int
	BitsPerSample int
	DataSize      uint32
}

// DurationSeconds returns the data duration truncated to whole seconds.
func (h Header) DurationSeconds() int {
	if h.ByteRate == 0 {
		return 0
	}
	return int(h.DataSize) / h.ByteRate
}

// File is a parsed WAV file.
type File struct {
	Header Header
	Data   []byte
}

// ReadFile parses the WAV file at path.
func ReadFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open wav file: %w", err)
	}
	defer f.Close()

	return Read(f)
}

// Read parses a WAV stream, walking chunks until the data chunk is found.
func Read(r io.Reader) (*File, error) {
	header, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(io.LimitReader(r, int64(header.DataSize)))
	if err != nil {
		return nil, fmt.Errorf("failed to read wav data: %w", err)
	}
	return &File{Header: header, Data: data}, nil
}

// ReadHeader parses everything up to the start of the sample data and
// leaves r positioned there.
func ReadHeader(r io.Reader) (Header, error) {
	var h Header
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return h, fmt.Errorf("%w: short RIFF header: %v", ErrInvalidFormat, err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return h, fmt.Errorf("%w: missing RIFF/WAVE tags", ErrInvalidFormat)
	}
	h.RIFFSize = binary.LittleEndian.Uint32(riff[4:8])

	haveFmt := false
	for {
		var chunk [8]byte
		if _, err := io.ReadFull(r, chunk[:]); err != nil {
			return h, fmt.Errorf("%w: missing data chunk", ErrInvalidFormat)
		}
		id := string(chunk[0:4])
		size := binary.LittleEndian.Uint32(chunk[4:8])

		switch id {
		case "fmt ":
			if size < 16 {
				return h, fmt.Errorf("%w: fmt chunk too small", ErrInvalidFormat)
			}
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return h, fmt.Errorf("%w: short fmt chunk", ErrInvalidFormat)
			}
			h.AudioFormat = binary.LittleEndian.Uint16(body[0:2])
			h.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			h.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			h.ByteRate = int(binary.LittleEndian.Uint32(body[8:12]))
			h.BlockAlign = int(binary.LittleEndian.Uint16(body[12:14]))
			h.BitsPerSample = int(binary.LittleEndian.Uint16(body[14:16]))
			haveFmt = true

		case "data":
			if !haveFmt {
				return h, fmt.Errorf("%w: data chunk before fmt chunk", ErrInvalidFormat)
			}
			h.DataSize = size
			return h, nil

		default:
			skip := int64(size) + int64(size%2)
			if _, err := io.CopyN(io.Discard, r, skip); err != nil {
				return h, fmt.Errorf("%w: truncated %q chunk", ErrInvalidFormat, id)
			}
		}
	}
}
