// Package pcm mixes signed 16-bit little-endian PCM streams for a live
// playback device.
//
// A Mixer produces audio in a fixed output format and never blocks: with
// nothing to play it emits silence, so the device callback that drains it
// can run at a steady rate. Producers create tracks, write chunks in
// whatever format their decoder emits and the mixer converts each track to
// the output format on the fly:
//
//	mx := pcm.NewMixer(pcm.Stereo44K)
//	tk, ctrl, _ := mx.CreateTrack(pcm.WithTrackLabel("chime.mp3"))
//	go func() {
//		pcm.Copy(tk, decoder, pcm.Mono48K)
//		ctrl.CloseWrite()
//	}()
//
// CloseWrite lets buffered audio drain; Close drops it immediately. Either
// way ctrl.Done turns true once the track has left the mix, which is how
// callers observe the end of playback.
package pcm
