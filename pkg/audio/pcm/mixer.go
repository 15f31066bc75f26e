package pcm

import (
	"errors"
	"io"
	"sync"
	"time"
	"unsafe"
)

// ErrMixerClosed is returned by mixer operations after Close.
var ErrMixerClosed = errors.New("pcm: mixer closed")

// readChunkDuration caps a single Read so new tracks and gain changes take
// effect within one device period.
const readChunkDuration = 60 * time.Millisecond

// Mixer mixes any number of tracks into a single 16-bit PCM stream in its
// output format. It is built to feed a live playback device: Read never
// blocks and never returns io.EOF. With no tracks, or with tracks that have
// no data buffered, it produces silence. A track whose input has drained
// after CloseWrite is removed from the mix on the fly.
//
// Methods are safe for concurrent use. Read must be called from a single
// goroutine.
type Mixer struct {
	output    Format
	readChunk int

	mu       sync.Mutex
	head     *TrackCtrl
	closeErr error

	mixBuf   []float32
	trackBuf []byte
}

// NewMixer creates a mixer producing audio in the output format.
func NewMixer(output Format) *Mixer {
	return &Mixer{
		output:    output,
		readChunk: int(output.BytesInDuration(readChunkDuration)),
	}
}

// Output returns the mixer's output format.
func (mx *Mixer) Output() Format {
	return mx.output
}

// TrackOption configures a track at creation time.
type TrackOption interface {
	apply(tc *TrackCtrl)
}

type trackOptionFunc func(tc *TrackCtrl)

func (f trackOptionFunc) apply(tc *TrackCtrl) {
	f(tc)
}

// WithTrackLabel names the track for logs and diagnostics.
func WithTrackLabel(label string) TrackOption {
	return trackOptionFunc(func(tc *TrackCtrl) {
		tc.label = label
	})
}

// WithTrackGain sets the track gain before the first sample is mixed.
// The default is 1.
func WithTrackGain(gain float32) TrackOption {
	return trackOptionFunc(func(tc *TrackCtrl) {
		tc.gain.Store(gain)
	})
}

// CreateTrack adds a track to the mix and returns its writable side along
// with a controller for gain and stopping.
func (mx *Mixer) CreateTrack(opts ...TrackOption) (Track, *TrackCtrl, error) {
	mx.mu.Lock()
	defer mx.mu.Unlock()
	if mx.closeErr != nil {
		return nil, nil, mx.closeErr
	}
	tk := &track{mx: mx}
	tc := &TrackCtrl{
		track: tk,
		next:  mx.head,
		gain:  NewAtomicFloat32(1),
	}
	for _, opt := range opts {
		opt.apply(tc)
	}
	mx.head = tc
	return tk, tc, nil
}

// Read fills p with mixed audio and always returns len(p') bytes, where p'
// is p clamped to the read chunk size and aligned to whole frames. It only
// fails after the mixer is closed.
func (mx *Mixer) Read(p []byte) (int, error) {
	if len(p) > mx.readChunk {
		p = p[:mx.readChunk]
	}
	fb := mx.output.FrameBytes()
	p = p[:len(p)/fb*fb]
	if len(p) == 0 {
		return 0, io.ErrShortBuffer
	}
	if err := mx.mix(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (mx *Mixer) mix(p []byte) error {
	mx.mu.Lock()
	defer mx.mu.Unlock()
	if mx.closeErr != nil {
		return mx.closeErr
	}

	out := unsafe.Slice((*int16)(unsafe.Pointer(&p[0])), len(p)/2)
	if cap(mx.mixBuf) < len(out) {
		mx.mixBuf = make([]float32, len(out))
		mx.trackBuf = make([]byte, len(p))
	}
	mixBuf := mx.mixBuf[:len(out)]
	clear(mixBuf)
	trackBuf := mx.trackBuf[:len(p)]

	mixed := false
	var prev *TrackCtrl
	for it := mx.head; it != nil; it = it.next {
		ok, err := it.readFull(trackBuf)
		if err != nil {
			// Drained or failed. Unlink the track; Done turns true.
			it.track.CloseWithError(err)
			if prev == nil {
				mx.head = it.next
			} else {
				prev.next = it.next
			}
			continue
		}
		prev = it
		if !ok {
			// Nothing buffered right now. The track contributes
			// silence and stays in the mix.
			continue
		}
		mixed = true
		gain := it.gain.Load()
		in := unsafe.Slice((*int16)(unsafe.Pointer(&trackBuf[0])), len(trackBuf)/2)
		for i, s := range in {
			mixBuf[i] += float32(s) * gain
		}
	}

	if !mixed {
		clear(out)
		return nil
	}
	for i, v := range mixBuf {
		switch {
		case v > 32767:
			v = 32767
		case v < -32768:
			v = -32768
		case v >= 0:
			v += 0.5
		default:
			v -= 0.5
		}
		out[i] = int16(v)
	}
	return nil
}

// Close stops the mixer and closes every track. Subsequent reads and track
// writes fail with ErrMixerClosed.
func (mx *Mixer) Close() error {
	mx.mu.Lock()
	defer mx.mu.Unlock()
	if mx.closeErr != nil {
		return nil
	}
	mx.closeErr = ErrMixerClosed
	for it := mx.head; it != nil; it = it.next {
		it.track.CloseWithError(ErrMixerClosed)
	}
	mx.head = nil
	return nil
}
