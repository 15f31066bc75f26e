package pcm

// TrackCtrl is the mixer-side controller of one track. It adjusts gain,
// stops playback and reports when the track has left the mix.
type TrackCtrl struct {
	label string
	track *track
	next  *TrackCtrl
	gain  AtomicFloat32
}

// Label returns the label the track was created with.
func (tc *TrackCtrl) Label() string {
	return tc.label
}

// Gain returns the current gain.
func (tc *TrackCtrl) Gain() float32 {
	return tc.gain.Load()
}

// SetGain scales the track's samples. 1 is unity, 0 silences the track.
func (tc *TrackCtrl) SetGain(gain float32) {
	tc.gain.Store(gain)
}

// Done reports whether the track has left the mix, either because its input
// drained after CloseWrite or because it was stopped with Close.
func (tc *TrackCtrl) Done() bool {
	return tc.track.err() != nil
}

// CloseWrite marks the end of the track's input. Buffered audio keeps
// playing until it drains.
func (tc *TrackCtrl) CloseWrite() error {
	return tc.track.CloseWrite()
}

// Close stops the track immediately, discarding buffered audio.
func (tc *TrackCtrl) Close() error {
	return tc.track.Close()
}

// readFull fills p from the track, zero-padding a short tail. It reports
// ok=false when no data was available at all. An error is surfaced only
// when no data was read, so a final partial chunk still plays.
func (tc *TrackCtrl) readFull(p []byte) (ok bool, err error) {
	read := 0
	for read < len(p) {
		n, err := tc.track.Read(p[read:])
		if err != nil {
			if read > 0 {
				break
			}
			return false, err
		}
		if n == 0 {
			break
		}
		read += n
	}
	if read == 0 {
		return false, nil
	}
	clear(p[read:])
	return true, nil
}
