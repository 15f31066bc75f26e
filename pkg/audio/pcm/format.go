package pcm

import (
	"fmt"
	"io"
	"time"
)

// Format describes signed 16-bit little-endian PCM audio.
type Format struct {
	// Rate is the sample rate in Hz.
	Rate int
	// Channels is 1 for mono or 2 for stereo.
	Channels int
}

// Formats that show up throughout the engine. Decoded media may carry any
// rate ffmpeg can produce; these are just the common ones.
var (
	Mono16K   = Format{Rate: 16000, Channels: 1}
	Mono44K   = Format{Rate: 44100, Channels: 1}
	Mono48K   = Format{Rate: 48000, Channels: 1}
	Stereo44K = Format{Rate: 44100, Channels: 2}
	Stereo48K = Format{Rate: 48000, Channels: 2}
)

func (f Format) Valid() bool {
	return f.Rate > 0 && (f.Channels == 1 || f.Channels == 2)
}

// FrameBytes returns the size of one frame, one sample per channel.
func (f Format) FrameBytes() int {
	return f.Channels * 2
}

// BytesRate returns the stream rate in bytes per second.
func (f Format) BytesRate() int {
	return f.Rate * f.FrameBytes()
}

// BytesInDuration returns the frame-aligned byte count covering d.
func (f Format) BytesInDuration(d time.Duration) int64 {
	frames := int64(time.Duration(f.Rate) * d / time.Second)
	return frames * int64(f.FrameBytes())
}

// Duration returns the play time of n bytes in this format.
func (f Format) Duration(n int64) time.Duration {
	if f.Rate <= 0 {
		return 0
	}
	frames := n / int64(f.FrameBytes())
	return time.Duration(frames) * time.Second / time.Duration(f.Rate)
}

func (f Format) String() string {
	return fmt.Sprintf("audio/L16; rate=%d; channels=%d", f.Rate, f.Channels)
}

// Chunk is a piece of PCM data tagged with its format.
type Chunk interface {
	// Len returns the size of the data in bytes.
	Len() int64
	// Format returns the data format.
	Format() Format
	// WriteTo writes the data to w.
	WriteTo(w io.Writer) (int64, error)
}

// DataChunk returns a Chunk backed by data. The slice is not copied.
func (f Format) DataChunk(data []byte) Chunk {
	return &dataChunk{format: f, data: data}
}

type dataChunk struct {
	format Format
	data   []byte
}

func (c *dataChunk) Len() int64 {
	return int64(len(c.data))
}

func (c *dataChunk) Format() Format {
	return c.format
}

func (c *dataChunk) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(c.data)
	return int64(n), err
}
