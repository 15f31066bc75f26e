// Package resampler converts streaming 16-bit PCM between formats. It
// handles sample rate conversion through a pure Go polyphase resampler and
// mono/stereo channel conversion, exposed as an io.Reader wrapping the
// source stream.
package resampler

import (
	"fmt"
	"io"
	"sync"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Format describes a 16-bit signed little-endian PCM stream.
type Format struct {
	// SampleRate is the sample rate in Hz.
	SampleRate int

	// Stereo selects two channels instead of one.
	Stereo bool
}

func (f Format) channels() int {
	if f.Stereo {
		return 2
	}
	return 1
}

// frameBytes is the size of one frame, one sample per channel.
func (f Format) frameBytes() int {
	return 2 * f.channels()
}

// Resampler reads converted audio from a wrapped source stream.
type Resampler interface {
	io.ReadCloser
	CloseWithError(error) error
}

// conv implements Resampler. Channel conversion happens in the int16 domain
// while reading the source; rate conversion runs the samples through the
// resampling engine as float64.
type conv struct {
	src    io.Reader
	srcFmt Format
	dstFmt Format

	readBuf []byte

	mu       sync.Mutex
	closeErr error
	engine   resampling.Resampler // nil when the rates already match
	leftover []byte
}

// New wraps src, a stream in srcFmt, and returns a reader producing the same
// audio in dstFmt.
func New(src io.Reader, srcFmt, dstFmt Format) (Resampler, error) {
	c := &conv{
		src:    newSampleReader(src, srcFmt.frameBytes()),
		srcFmt: srcFmt,
		dstFmt: dstFmt,
	}
	if srcFmt.SampleRate != dstFmt.SampleRate {
		engine, err := resampling.New(&resampling.Config{
			InputRate:  float64(srcFmt.SampleRate),
			OutputRate: float64(dstFmt.SampleRate),
			Channels:   dstFmt.channels(),
			Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
		})
		if err != nil {
			return nil, fmt.Errorf("resampler: %d -> %d Hz: %w", srcFmt.SampleRate, dstFmt.SampleRate, err)
		}
		c.engine = engine
	}
	return c, nil
}

// Read copies converted audio into p. A source that momentarily has no data
// surfaces as (0, nil), not EOF, so live streams can stall and resume. Read
// is not safe for concurrent use.
func (c *conv) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if len(p) < c.dstFmt.frameBytes() {
		return 0, io.ErrShortBuffer
	}
	p = p[:len(p)/c.dstFmt.frameBytes()*c.dstFmt.frameBytes()]

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.leftover) > 0 {
		n := copy(p, c.leftover)
		c.leftover = c.leftover[n:]
		return n, nil
	}
	if c.closeErr != nil {
		return 0, c.closeErr
	}
	if c.engine == nil {
		return c.readPassthrough(p)
	}
	return c.readResampled(p)
}

// readPassthrough handles channel-only conversion.
func (c *conv) readPassthrough(p []byte) (int, error) {
	n, err := c.readSource(len(p))
	if n == 0 {
		return 0, err
	}
	copy(p, c.readBuf[:n])
	return n, err
}

func (c *conv) readResampled(p []byte) (int, error) {
	// Over-read slightly so one source read usually fills one output read.
	ratio := float64(c.srcFmt.SampleRate) / float64(c.dstFmt.SampleRate)
	srcBytes := int(float64(len(p))*ratio) + 4*c.srcFmt.frameBytes()

	n, readErr := c.readSource(srcBytes)
	if n == 0 {
		return 0, readErr
	}

	channels := c.dstFmt.channels()
	samples := n / 2
	input := make([]float64, samples-samples%channels)
	for i := range input {
		s := int16(c.readBuf[i*2]) | int16(c.readBuf[i*2+1])<<8
		input[i] = float64(s) / 32768.0
	}

	output, err := c.engine.Process(input)
	if err != nil {
		return 0, fmt.Errorf("resampler: %w", err)
	}
	if len(output) == 0 {
		// The engine buffered everything it was fed.
		return 0, readErr
	}

	out := make([]byte, len(output)*2)
	for i, v := range output {
		s := int16(v * 32767.0)
		if v > 1.0 {
			s = 32767
		} else if v < -1.0 {
			s = -32768
		}
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	out = out[:len(out)/c.dstFmt.frameBytes()*c.dstFmt.frameBytes()]

	copied := copy(p, out)
	if copied < len(out) {
		c.leftover = append(c.leftover, out[copied:]...)
	}
	return copied, readErr
}

// readSource fills readBuf with up to dstLen bytes of source audio already
// converted to the destination channel count.
func (c *conv) readSource(dstLen int) (int, error) {
	if cap(c.readBuf) < dstLen {
		c.readBuf = make([]byte, dstLen)
	}

	switch {
	case c.srcFmt.Stereo && !c.dstFmt.Stereo:
		srcLen := dstLen * 2
		if cap(c.readBuf) < srcLen {
			c.readBuf = make([]byte, srcLen)
		}
		n, err := c.src.Read(c.readBuf[:srcLen])
		if n == 0 {
			return 0, err
		}
		return stereoToMono(c.readBuf[:n]), err

	case !c.srcFmt.Stereo && c.dstFmt.Stereo:
		n, err := c.src.Read(c.readBuf[:dstLen/2])
		if n == 0 {
			return 0, err
		}
		return monoToStereo(c.readBuf[:n*2]), err

	default:
		return c.src.Read(c.readBuf[:dstLen])
	}
}

// Close marks the resampler closed. Reads fail with io.ErrClosedPipe once
// buffered output has drained.
func (c *conv) Close() error {
	return c.CloseWithError(nil)
}

// CloseWithError is Close with a caller-chosen error for subsequent reads.
func (c *conv) CloseWithError(err error) error {
	if err == nil {
		err = fmt.Errorf("resampler: %w", io.ErrClosedPipe)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closeErr == nil {
		c.closeErr = err
	}
	c.engine = nil
	return nil
}

// stereoToMono averages L and R in place and returns the mono byte count.
func stereoToMono(b []byte) int {
	frames := len(b) / 4
	for i := range frames {
		j, k := i*4, i*2
		l := int16(b[j]) | int16(b[j+1])<<8
		r := int16(b[j+2]) | int16(b[j+3])<<8
		m := int16((int32(l) + int32(r)) / 2)
		b[k] = byte(m)
		b[k+1] = byte(m >> 8)
	}
	return frames * 2
}

// monoToStereo duplicates each sample in place. b must have room for the
// stereo result; the mono samples occupy its first half.
func monoToStereo(b []byte) int {
	samples := len(b) / 4
	for i := samples - 1; i >= 0; i-- {
		s0, s1 := b[i*2], b[i*2+1]
		j := i * 4
		b[j], b[j+1] = s0, s1
		b[j+2], b[j+3] = s0, s1
	}
	return samples * 4
}
