package pcm

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cuebox/cuebox/pkg/audio/resampler"
)

// ErrTrackClosed is returned when writing to a stopped track.
var ErrTrackClosed = errors.New("pcm: track closed")

// ringCapacity is how much input audio a track buffers before Write blocks.
const ringCapacity = 10 * time.Second

// track is a single-input mixer track. The first chunk written fixes the
// input format and the stream is converted to the mixer's output format as
// it is read. Tracks have a single writer; the mixer is the single reader.
type track struct {
	mx *Mixer

	mu         sync.Mutex
	closeErr   error
	closeWrite bool
	input      *trackInput
}

type trackInput struct {
	format Format
	ring   *ringBuf
	out    io.Reader // ring, behind a resampler when formats differ
}

func (tk *track) Write(chunk Chunk) error {
	in, err := tk.inputFor(chunk.Format())
	if err != nil {
		return err
	}
	_, err = chunk.WriteTo(in.ring)
	return err
}

func (tk *track) inputFor(format Format) (*trackInput, error) {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	if tk.closeErr != nil {
		return nil, tk.closeErr
	}
	if tk.closeWrite {
		return nil, fmt.Errorf("pcm: write on finished track: %w", io.ErrClosedPipe)
	}
	if tk.input != nil {
		if tk.input.format != format {
			return nil, fmt.Errorf("pcm: track input changed from %s to %s", tk.input.format, format)
		}
		return tk.input, nil
	}
	if !format.Valid() {
		return nil, fmt.Errorf("pcm: invalid track format %s", format)
	}
	in := &trackInput{
		format: format,
		ring:   newRingBuf(int(format.BytesInDuration(ringCapacity)), format.FrameBytes()),
	}
	if format == tk.mx.output {
		in.out = in.ring
	} else {
		rs, err := resampler.New(in.ring, rsFormat(format), rsFormat(tk.mx.output))
		if err != nil {
			return nil, fmt.Errorf("pcm: %w", err)
		}
		in.out = rs
	}
	tk.input = in
	return in, nil
}

func rsFormat(f Format) resampler.Format {
	return resampler.Format{SampleRate: f.Rate, Stereo: f.Channels == 2}
}

// Read returns converted audio for the mixer. It reports (0, nil) while the
// track is open but has nothing buffered, and io.EOF once the input was
// closed with CloseWrite and fully drained.
func (tk *track) Read(p []byte) (int, error) {
	tk.mu.Lock()
	in, closeWrite, err := tk.input, tk.closeWrite, tk.closeErr
	tk.mu.Unlock()
	if err != nil {
		return 0, err
	}
	if in == nil {
		if closeWrite {
			return 0, io.EOF
		}
		return 0, nil
	}
	return in.out.Read(p)
}

// CloseWrite marks the end of the input stream. Buffered audio keeps
// playing; the mixer removes the track once it drains.
func (tk *track) CloseWrite() error {
	tk.mu.Lock()
	tk.closeWrite = true
	in := tk.input
	tk.mu.Unlock()
	if in != nil {
		in.ring.CloseWrite()
	}
	return nil
}

func (tk *track) Close() error {
	return tk.CloseWithError(nil)
}

// CloseWithError stops the track immediately, discarding buffered audio and
// unblocking a blocked writer.
func (tk *track) CloseWithError(err error) error {
	if err == nil {
		err = ErrTrackClosed
	}
	tk.mu.Lock()
	if tk.closeErr != nil {
		tk.mu.Unlock()
		return nil
	}
	tk.closeErr = err
	in := tk.input
	tk.mu.Unlock()
	if in != nil {
		in.ring.CloseWithError(err)
	}
	return nil
}

func (tk *track) err() error {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	return tk.closeErr
}

// ringBuf is a bounded byte FIFO. Write blocks while the buffer is full,
// which is the backpressure that paces decoders. Read never waits; it
// returns whole frames of what is buffered, (0, nil) when empty, and io.EOF
// once the write side is closed and the buffer has drained. Holding back a
// split frame keeps the stream aligned across an underrun.
type ringBuf struct {
	readNotify chan struct{}
	frame      int

	mu         sync.Mutex
	buf        []byte
	start      int
	length     int
	closeWrite bool
	closeErr   error
}

func newRingBuf(capacity, frame int) *ringBuf {
	return &ringBuf{
		readNotify: make(chan struct{}, 1),
		frame:      frame,
		buf:        make([]byte, capacity),
	}
}

func (rb *ringBuf) Write(p []byte) (int, error) {
	written := 0
	for {
		rb.mu.Lock()
		if rb.closeErr != nil {
			err := rb.closeErr
			rb.mu.Unlock()
			return written, err
		}
		if rb.closeWrite {
			rb.mu.Unlock()
			return written, io.ErrClosedPipe
		}
		n := rb.push(p)
		rb.mu.Unlock()
		written += n
		p = p[n:]
		if len(p) == 0 {
			return written, nil
		}
		<-rb.readNotify
	}
}

func (rb *ringBuf) push(p []byte) int {
	free := len(rb.buf) - rb.length
	if free == 0 {
		return 0
	}
	if len(p) > free {
		p = p[:free]
	}
	end := (rb.start + rb.length) % len(rb.buf)
	n := copy(rb.buf[end:], p)
	if n < len(p) {
		n += copy(rb.buf, p[n:])
	}
	rb.length += n
	return n
}

func (rb *ringBuf) Read(p []byte) (int, error) {
	rb.mu.Lock()
	if rb.closeErr != nil {
		err := rb.closeErr
		rb.mu.Unlock()
		return 0, err
	}
	avail := rb.length - rb.length%rb.frame
	if avail == 0 {
		closeWrite := rb.closeWrite
		rb.mu.Unlock()
		if closeWrite {
			// A dangling split frame is dropped.
			return 0, io.EOF
		}
		return 0, nil
	}
	want := min(len(p), avail)
	want -= want % rb.frame
	total := 0
	for total < want {
		end := rb.start + rb.length
		if end > len(rb.buf) {
			end = len(rb.buf)
		}
		n := copy(p[total:want], rb.buf[rb.start:end])
		total += n
		rb.start = (rb.start + n) % len(rb.buf)
		rb.length -= n
	}
	rb.mu.Unlock()
	rb.notifyRead()
	return total, nil
}

func (rb *ringBuf) CloseWrite() {
	rb.mu.Lock()
	rb.closeWrite = true
	rb.mu.Unlock()
	rb.notifyRead()
}

func (rb *ringBuf) Close() error {
	return rb.CloseWithError(nil)
}

func (rb *ringBuf) CloseWithError(err error) error {
	if err == nil {
		err = io.ErrClosedPipe
	}
	rb.mu.Lock()
	if rb.closeErr == nil {
		rb.closeErr = err
		rb.length = 0
	}
	rb.mu.Unlock()
	rb.notifyRead()
	return nil
}

func (rb *ringBuf) notifyRead() {
	select {
	case rb.readNotify <- struct{}{}:
	default:
	}
}
