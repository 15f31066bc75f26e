package resampler

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"
)

func pcmBytes(samples ...int16) []byte {
	buf := make([]byte, 0, 2*len(samples))
	for _, s := range samples {
		buf = binary.LittleEndian.AppendUint16(buf, uint16(s))
	}
	return buf
}

func pcmSamples(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}
	return out
}

// drain reads until EOF and returns everything read.
func drain(t *testing.T, r io.Reader) []byte {
	t.Helper()
	var all []byte
	buf := make([]byte, 8192)
	for range 100000 {
		n, err := r.Read(buf)
		all = append(all, buf[:n]...)
		if err == io.EOF {
			return all
		}
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
	}
	t.Fatal("reader never reached EOF")
	return nil
}

func TestMonoToStereoPassthrough(t *testing.T) {
	src := bytes.NewReader(pcmBytes(100, 200, 300))
	rs, err := New(src, Format{SampleRate: 44100}, Format{SampleRate: 44100, Stereo: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got := pcmSamples(drain(t, rs))
	want := []int16{100, 100, 200, 200, 300, 300}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestStereoToMonoPassthrough(t *testing.T) {
	src := bytes.NewReader(pcmBytes(1000, 3000, -500, -1500))
	rs, err := New(src, Format{SampleRate: 48000, Stereo: true}, Format{SampleRate: 48000})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got := pcmSamples(drain(t, rs))
	want := []int16{2000, -1000}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

// stallReader returns its scripted reads in order, then EOF. An empty step
// models a live source with nothing buffered yet.
type stallReader struct {
	steps [][]byte
}

func (s *stallReader) Read(p []byte) (int, error) {
	if len(s.steps) == 0 {
		return 0, io.EOF
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	return copy(p, step), nil
}

func TestStallIsNotEOF(t *testing.T) {
	src := &stallReader{steps: [][]byte{
		pcmBytes(7),
		nil,
		pcmBytes(8),
	}}
	rs, err := New(src, Format{SampleRate: 16000}, Format{SampleRate: 16000, Stereo: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	buf := make([]byte, 64)
	n, err := rs.Read(buf)
	if n != 4 || err != nil {
		t.Fatalf("first read = %d, %v, want 4 bytes", n, err)
	}
	n, err = rs.Read(buf)
	if n != 0 || err != nil {
		t.Fatalf("stalled read = %d, %v, want 0, nil", n, err)
	}
	n, err = rs.Read(buf)
	if n != 4 || err != nil {
		t.Fatalf("resumed read = %d, %v, want 4 bytes", n, err)
	}
}

func TestSampleReaderCarriesSplitFrames(t *testing.T) {
	src := &stallReader{steps: [][]byte{
		{1, 2, 3},
		{4, 5, 6, 7, 8},
	}}
	sr := newSampleReader(src, 4)

	buf := make([]byte, 8)
	n, err := sr.Read(buf)
	if n != 0 || err != nil {
		t.Fatalf("split read = %d, %v, want 0, nil", n, err)
	}
	n, err = sr.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != 8 || !bytes.Equal(buf[:n], []byte{1, 2, 3, 4, 5, 6, 7, 8}) {
		t.Fatalf("Read = %v (%d bytes)", buf[:n], n)
	}
}

func TestSampleReaderShortBuffer(t *testing.T) {
	sr := newSampleReader(bytes.NewReader([]byte{1, 2, 3, 4}), 4)
	if _, err := sr.Read(make([]byte, 3)); err != io.ErrShortBuffer {
		t.Fatalf("err = %v, want io.ErrShortBuffer", err)
	}
}

func TestSampleReaderDanglingTail(t *testing.T) {
	sr := newSampleReader(bytes.NewReader([]byte{1, 2, 3, 4, 5, 6}), 4)

	buf := make([]byte, 4)
	if n, err := sr.Read(buf); n != 4 || err != nil {
		t.Fatalf("first read = %d, %v", n, err)
	}
	if n, err := sr.Read(buf); n != 2 || err != io.ErrUnexpectedEOF {
		t.Fatalf("tail read = %d, %v, want 2, io.ErrUnexpectedEOF", n, err)
	}
}

func TestRateConversion(t *testing.T) {
	const seconds = 1
	in := make([]int16, 44100*seconds)
	for i := range in {
		in[i] = 1000
	}
	rs, err := New(bytes.NewReader(pcmBytes(in...)), Format{SampleRate: 44100}, Format{SampleRate: 48000})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	out := pcmSamples(drain(t, rs))
	// The filter startup and tail make the exact length implementation
	// defined; it must land near the rate ratio.
	want := 48000 * seconds
	if len(out) < want*8/10 || len(out) > want*11/10 {
		t.Fatalf("resampled %d samples, want about %d", len(out), want)
	}
	mid := out[len(out)/2]
	if mid < 900 || mid > 1100 {
		t.Fatalf("mid-stream sample = %d, want about 1000", mid)
	}
}

func TestClosedReadsFail(t *testing.T) {
	rs, err := New(bytes.NewReader(pcmBytes(1, 2, 3)), Format{SampleRate: 16000}, Format{SampleRate: 16000, Stereo: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := rs.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := rs.Read(make([]byte, 16)); err == nil {
		t.Fatal("read after Close succeeded")
	}
}
