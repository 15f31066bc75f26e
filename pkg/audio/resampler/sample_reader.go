package resampler

import "io"

// sampleReader aligns reads from a byte stream to whole frames. A source
// read that splits a frame has its remainder carried into the next call, so
// downstream conversion never sees a torn sample.
type sampleReader struct {
	r         io.Reader
	frameSize int

	// carry holds up to frameSize-1 bytes of a split frame.
	carry   []byte
	carried int
}

func newSampleReader(r io.Reader, frameSize int) *sampleReader {
	return &sampleReader{
		r:         r,
		frameSize: frameSize,
		carry:     make([]byte, frameSize-1),
	}
}

// Read returns zero or a multiple of frameSize bytes, except on EOF where a
// dangling tail surfaces as io.ErrUnexpectedEOF.
func (sr *sampleReader) Read(p []byte) (n int, err error) {
	if len(p) < sr.frameSize {
		return 0, io.ErrShortBuffer
	}
	p = p[:len(p)/sr.frameSize*sr.frameSize]

	if sr.carried > 0 {
		n = copy(p, sr.carry[:sr.carried])
		sr.carried = 0
	}
	rn, err := sr.r.Read(p[n:])
	n += rn
	if err != nil {
		if n%sr.frameSize != 0 && err == io.EOF {
			return n, io.ErrUnexpectedEOF
		}
		return n, err
	}
	if mod := n % sr.frameSize; mod != 0 {
		n -= mod
		copy(sr.carry[:mod], p[n:n+mod])
		sr.carried = mod
	}
	return n, nil
}
