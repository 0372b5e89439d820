package wav

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
)

const (
	// HeaderSize is the size of the canonical PCM WAV header
	HeaderSize = 44

	BitsPerSample = 16
	formatPCM     = 1
)

// Writer incrementally writes a PCM16 WAV file. The header is written as a
// placeholder on creation and rewritten with the real sizes by Complete.
//
// Append is expected to be driven by a single goroutine; Complete may be
// called from another one.
type Writer struct {
	mu         sync.Mutex
	file       *os.File
	path       string
	sampleRate int
	channels   int
	dataLength int64
	completed  bool
}

// NewWriter creates the destination file and writes a placeholder header.
func NewWriter(path string, sampleRate, channels int) (*Writer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate: %d", sampleRate)
	}
	if channels <= 0 {
		return nil, fmt.Errorf("invalid channel count: %d", channels)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create wav file: %w", err)
	}

	w := &Writer{
		file:       f,
		path:       path,
		sampleRate: sampleRate,
		channels:   channels,
	}

	if err := w.writeHeader(f); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to write wav header: %w", err)
	}

	return w, nil
}

// Append writes PCM16 bytes verbatim to the data section.
func (w *Writer) Append(pcm []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.completed {
		return fmt.Errorf("wav writer already completed: %s", w.path)
	}

	n, err := w.file.Write(pcm)
	w.dataLength += int64(n)
	if err != nil {
		return fmt.Errorf("failed to append audio data: %w", err)
	}
	return nil
}

// Complete rewrites the header with the final sizes and closes the file.
// Only the first call does any work.
func (w *Writer) Complete() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.completed {
		return nil
	}
	w.completed = true

	var firstErr error
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		firstErr = fmt.Errorf("failed to seek for header rewrite: %w", err)
	} else if err := w.writeHeader(w.file); err != nil {
		firstErr = fmt.Errorf("failed to rewrite wav header: %w", err)
	}

	if err := w.file.Sync(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to sync wav file: %w", err)
	}
	if err := w.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to close wav file: %w", err)
	}

	return firstErr
}

// DataLength returns the number of PCM bytes appended so far.
func (w *Writer) DataLength() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dataLength
}

// ByteRate returns sampleRate * channels * 2.
func (w *Writer) ByteRate() int {
	return w.sampleRate * w.channels * BitsPerSample / 8
}

// DurationSeconds returns the recorded duration truncated to whole seconds.
func (w *Writer) DurationSeconds() int {
	return int(w.DataLength() / int64(w.ByteRate()))
}

func (w *Writer) writeHeader(out io.Writer) error {
	_, err := out.Write(EncodeHeader(w.sampleRate, w.channels, w.dataLength))
	return err
}

// EncodeHeader builds a 44-byte PCM16 WAV header for dataLength bytes of audio.
func EncodeHeader(sampleRate, channels int, dataLength int64) []byte {
	blockAlign := channels * BitsPerSample / 8
	byteRate := sampleRate * blockAlign

	// Sizes are 32-bit in the container; clamp oversized recordings.
	size := uint32(0xFFFFFFFF - (HeaderSize - 8))
	if dataLength < int64(size) {
		size = uint32(dataLength)
	}

	hdr := make([]byte, HeaderSize)
	copy(hdr[0:4], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:8], HeaderSize-8+size)
	copy(hdr[8:12], "WAVE")
	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16)
	binary.LittleEndian.PutUint16(hdr[20:22], formatPCM)
	binary.LittleEndian.PutUint16(hdr[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(hdr[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(hdr[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(hdr[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(hdr[34:36], BitsPerSample)
	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], size)
	return hdr
}
