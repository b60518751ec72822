package encoder

import (
	"encoding/binary"
	"fmt"
	"strings"
)

const (
	SampleRate    = 44100
	Channels      = 1
	BitsPerSample = 16
	BlockSize     = 4096
)

// Encoder packages mono 16-bit PCM into a container. Blocks are fed in
// capture order; Bytes is valid only after Close.
type Encoder interface {
	EncodeBlock(block []int16) error
	Close() error
	Bytes() []byte
	TotalFrames() uint64
	ContentType() string
}

// New returns an encoder for format ("wav" or "flac") at the given rate.
func New(format string, sampleRate int) (Encoder, error) {
	if sampleRate <= 0 {
		sampleRate = SampleRate
	}
	switch strings.ToLower(format) {
	case "", "wav":
		return NewWav(sampleRate), nil
	case "flac":
		return NewFlac(sampleRate)
	}
	return nil, fmt.Errorf("unsupported audio format %q", format)
}

// Encode runs samples through a fresh encoder in BlockSize chunks.
func Encode(format string, sampleRate int, samples []int16) ([]byte, string, error) {
	enc, err := New(format, sampleRate)
	if err != nil {
		return nil, "", err
	}
	for i := 0; i < len(samples); i += BlockSize {
		end := min(i+BlockSize, len(samples))
		if err := enc.EncodeBlock(samples[i:end]); err != nil {
			return nil, "", err
		}
	}
	if err := enc.Close(); err != nil {
		return nil, "", err
	}
	return enc.Bytes(), enc.ContentType(), nil
}

// Samples converts little-endian 16-bit PCM bytes to samples.
func Samples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// PCM converts samples to little-endian bytes.
func PCM(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
