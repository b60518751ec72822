package encoder

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/mewkiz/flac"
)

// Info describes an encoded audio buffer.
type Info struct {
	ContentType string
	SampleRate  int
	Channels    int
	Frames      uint64
	Duration    time.Duration
}

// Seconds is WholeSeconds of the container duration.
func (i Info) Seconds() int {
	return WholeSeconds(i.Duration)
}

// WholeSeconds rounds d to the nearest second. Anything shorter than one
// second is 0.
func WholeSeconds(d time.Duration) int {
	if d < time.Second {
		return 0
	}
	return int((d + 500*time.Millisecond) / time.Second)
}

var ErrUnknownFormat = errors.New("unrecognized audio container")

// Probe sniffs the container and reports its duration.
func Probe(data []byte) (Info, error) {
	switch {
	case len(data) >= 12 && string(data[:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return probeWav(data)
	case len(data) >= 4 && string(data[:4]) == "fLaC":
		return probeFlac(data)
	}
	return Info{}, ErrUnknownFormat
}

func probeWav(data []byte) (Info, error) {
	info := Info{ContentType: "audio/wav"}
	var bitsPerSample int
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		switch id {
		case "fmt ":
			if body+16 > len(data) {
				return Info{}, fmt.Errorf("wav: truncated fmt chunk")
			}
			info.Channels = int(binary.LittleEndian.Uint16(data[body+2:]))
			info.SampleRate = int(binary.LittleEndian.Uint32(data[body+4:]))
			bitsPerSample = int(binary.LittleEndian.Uint16(data[body+14:]))
		case "data":
			if info.SampleRate == 0 || info.Channels == 0 || bitsPerSample == 0 {
				return Info{}, fmt.Errorf("wav: data chunk before fmt")
			}
			size = min(size, len(data)-body)
			info.Frames = uint64(size / (info.Channels * bitsPerSample / 8))
			info.Duration = framesDuration(info.Frames, info.SampleRate)
			return info, nil
		}
		pos = body + size + size%2
	}
	return Info{}, fmt.Errorf("wav: no data chunk")
}

func probeFlac(data []byte) (Info, error) {
	stream, err := flac.New(bytes.NewReader(data))
	if err != nil {
		return Info{}, fmt.Errorf("flac: %w", err)
	}
	defer stream.Close()

	info := Info{
		ContentType: "audio/flac",
		SampleRate:  int(stream.Info.SampleRate),
		Channels:    int(stream.Info.NChannels),
		Frames:      stream.Info.NSamples,
	}
	if info.Frames == 0 {
		for {
			f, err := stream.ParseNext()
			if err == io.EOF {
				break
			}
			if err != nil {
				return Info{}, fmt.Errorf("flac frame: %w", err)
			}
			info.Frames += uint64(f.BlockSize)
		}
	}
	info.Duration = framesDuration(info.Frames, info.SampleRate)
	return info, nil
}

func framesDuration(frames uint64, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(frames) * time.Second / time.Duration(sampleRate)
}
