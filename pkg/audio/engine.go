// Package audio plays scene audio on the local output device.
//
// Files are split into two tiers by basename prefix: "sfx_" files are
// preloaded into RAM per scene and play polyphonically with low latency,
// while everything else streams from disk through ffmpeg into the single
// background music slot. The mixer in pkg/audio/pcm merges both tiers into
// one stream for the miniaudio playback device.
package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cuebox/cuebox/pkg/audio/pcm"
)

// sfxPrefix marks files preloaded into RAM by the scene preload pass.
const sfxPrefix = "sfx_"

const (
	defaultInitAttempts   = 3
	defaultInitRetryDelay = 2 * time.Second
)

// clip is one decoded effect held in the scene cache.
type clip struct {
	format pcm.Format
	data   []byte
}

// musicSlot tracks the one streaming music file.
type musicSlot struct {
	file   string
	ctrl   *pcm.TrackCtrl
	cancel context.CancelFunc
}

func (s *musicSlot) stop() {
	s.ctrl.Close()
	s.cancel()
}

// Engine is the room's audio player. The zero value with a Dir set is
// usable after Start; a failed or skipped Start leaves the engine in a
// state where every command logs a warning and no-ops, so scenes keep
// running in rooms without a sound device.
type Engine struct {
	// Dir is the room audio directory for relative file requests.
	Dir string
	// Output is the device format. Zero means 48 kHz stereo.
	Output pcm.Format
	Log    *slog.Logger
	// MaxInitAttempts and InitRetryDelay bound device bring-up.
	MaxInitAttempts int
	InitRetryDelay  time.Duration

	// Nil fields fall back to the miniaudio and ffmpeg implementations.
	newDevice func(mx *pcm.Mixer, log *slog.Logger) (outputDevice, error)
	probe     func(ctx context.Context, path string) (pcm.Format, error)
	decode    func(ctx context.Context, path string, format pcm.Format) ([]byte, error)
	stream    func(ctx context.Context, path string, format pcm.Format) (io.ReadCloser, waitFunc, error)

	mu     sync.Mutex
	ready  bool
	paused bool
	mixer  *pcm.Mixer
	device outputDevice
	cache  map[string]clip
	music  *musicSlot
	active map[string][]*pcm.TrackCtrl
}

// Start brings up the output device, retrying a few times for sound cards
// that enumerate late at boot. It does not fail when no device can be
// opened: the engine logs the outcome and stays in no-op mode.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.ready {
		e.mu.Unlock()
		return nil
	}
	mx := pcm.NewMixer(e.outputFormat())
	newDev := e.newDevice
	if newDev == nil {
		newDev = newMalgoDevice
	}
	e.mu.Unlock()

	attempts := e.MaxInitAttempts
	if attempts <= 0 {
		attempts = defaultInitAttempts
	}
	delay := e.InitRetryDelay
	if delay <= 0 {
		delay = defaultInitRetryDelay
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		dev, err := newDev(mx, e.log())
		if err == nil {
			if err = dev.Start(); err != nil {
				dev.Close()
			}
		}
		if err != nil {
			lastErr = err
			e.log().Warn("audio device init failed", "attempt", attempt, "attempts", attempts, "error", err)
			continue
		}
		e.mu.Lock()
		e.ready = true
		e.mixer = mx
		e.device = dev
		e.cache = map[string]clip{}
		e.active = map[string][]*pcm.TrackCtrl{}
		e.mu.Unlock()
		e.log().Info("audio engine ready", "format", mx.Output().String())
		return nil
	}
	e.log().Warn("audio unavailable, audio commands will no-op", "error", lastErr)
	return nil
}

// Close stops playback and releases the device.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.ready {
		return
	}
	e.stopMusicLocked(true)
	e.stopEffectsLocked()
	e.device.Close()
	e.mixer.Close()
	e.ready = false
}

// Preload is the scene preload pass: stop everything, drop the previous
// scene's cache and decode the requested sfx files into RAM. Non-effect
// files in the list are ignored; they stream on demand. A file that fails
// to decode is logged and skipped, the scene still runs.
func (e *Engine) Preload(files []string) {
	e.StopAll()

	e.mu.Lock()
	ready := e.ready
	e.mu.Unlock()
	if !ready {
		if len(files) > 0 {
			e.log().Warn("audio unavailable, skipping preload", "files", len(files))
		}
		return
	}

	ctx := context.Background()
	cache := map[string]clip{}
	for _, file := range files {
		if !strings.HasPrefix(filepath.Base(file), sfxPrefix) {
			continue
		}
		path, err := resolveFile(e.Dir, file)
		if err != nil {
			e.log().Warn("audio preload failed", "file", file, "error", err)
			continue
		}
		format, err := e.probeFile(ctx, path)
		if err != nil {
			e.log().Warn("audio preload failed", "file", file, "error", err)
			continue
		}
		data, err := e.decodeFile(ctx, path, format)
		if err != nil {
			e.log().Warn("audio preload failed", "file", file, "error", err)
			continue
		}
		cache[file] = clip{format: format, data: data}
		e.log().Debug("audio preloaded", "file", file, "duration", format.Duration(int64(len(data))))
	}

	e.mu.Lock()
	e.cache = cache
	e.mu.Unlock()
}

// Command runs one audio action:
//
//	PLAY:<file>[:<volume>]   play an effect or replace the music
//	<file>                   same as PLAY:<file>:1.0
//	STOP                     stop both tiers
//	STOP:<file>              stop one file
//	PAUSE / RESUME           suspend and resume the output device
//	VOLUME:<v>               set the music gain, clamped to 0..1
func (e *Engine) Command(msg string) error {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return errors.New("audio: empty command")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.ready {
		e.log().Warn("audio unavailable, dropping command", "command", msg)
		return nil
	}

	op, rest, hasArg := strings.Cut(msg, ":")
	switch strings.ToUpper(op) {
	case "PLAY":
		if !hasArg || rest == "" {
			return fmt.Errorf("audio: PLAY without a file: %q", msg)
		}
		return e.playLocked(rest)
	case "STOP":
		if !hasArg || rest == "" {
			e.stopMusicLocked(false)
			e.stopEffectsLocked()
			e.log().Debug("audio stopped")
			return nil
		}
		return e.stopFileLocked(rest)
	case "PAUSE":
		return e.setPausedLocked(true)
	case "RESUME":
		return e.setPausedLocked(false)
	case "VOLUME":
		return e.setMusicVolumeLocked(rest)
	default:
		// A bare filename plays at full volume.
		return e.playLocked(msg)
	}
}

func (e *Engine) playLocked(req string) error {
	name, gain := parsePlayRequest(req)
	if c, ok := e.cache[name]; ok {
		return e.playEffectLocked(name, c, gain)
	}
	return e.playMusicLocked(name, gain)
}

// parsePlayRequest splits "<file>[:<volume>]". A trailing segment that does
// not parse as a number is part of the filename.
func parsePlayRequest(req string) (name string, gain float32) {
	name, gain = req, 1
	if i := strings.LastIndex(req, ":"); i >= 0 {
		if v, err := strconv.ParseFloat(req[i+1:], 32); err == nil {
			name = req[:i]
			gain = clamp01(float32(v))
		}
	}
	return name, gain
}

func (e *Engine) playEffectLocked(name string, c clip, gain float32) error {
	tk, ctrl, err := e.mixer.CreateTrack(pcm.WithTrackLabel(name), pcm.WithTrackGain(gain))
	if err != nil {
		return fmt.Errorf("audio: play %s: %w", name, err)
	}
	go func() {
		// Long effects can outsize the track buffer, so the write runs off
		// the command path.
		if werr := tk.Write(c.format.DataChunk(c.data)); werr != nil && !stopErr(werr) {
			e.log().Warn("audio effect write failed", "file", name, "error", werr)
		}
		ctrl.CloseWrite()
	}()
	e.active[name] = append(e.active[name], ctrl)
	e.log().Debug("audio effect playing", "file", name, "gain", gain, "voices", len(e.active[name]))
	return nil
}

func (e *Engine) playMusicLocked(name string, gain float32) error {
	path, err := resolveFile(e.Dir, name)
	if err != nil {
		return err
	}
	format, err := e.probeFile(context.Background(), path)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	rc, wait, err := e.streamFile(ctx, path, format)
	if err != nil {
		cancel()
		return err
	}
	tk, ctrl, err := e.mixer.CreateTrack(pcm.WithTrackLabel(name), pcm.WithTrackGain(gain))
	if err != nil {
		cancel()
		rc.Close()
		if wait != nil {
			wait()
		}
		return fmt.Errorf("audio: play %s: %w", name, err)
	}

	// Replacing the slot silences the previous music; a replaced file does
	// not surface as an end event.
	e.stopMusicLocked(true)
	e.music = &musicSlot{file: name, ctrl: ctrl, cancel: cancel}

	go func() {
		_, cerr := pcm.Copy(tk, rc, format)
		ctrl.CloseWrite()
		rc.Close()
		cancel()
		if cerr != nil && !stopErr(cerr) {
			e.log().Warn("music stream interrupted", "file", name, "error", cerr)
		}
		if wait != nil {
			if werr := wait(); werr != nil {
				e.log().Warn("music decoder failed", "file", name, "error", werr)
			}
		}
	}()
	e.log().Debug("music playing", "file", name, "gain", gain)
	return nil
}

// stopErr reports whether err is the expected result of stopping playback.
func stopErr(err error) bool {
	return errors.Is(err, pcm.ErrTrackClosed) || errors.Is(err, pcm.ErrMixerClosed)
}

// stopMusicLocked silences the music slot. With clearSlot the file will not
// surface from Poll; otherwise the stop is observed as the track's end.
func (e *Engine) stopMusicLocked(clearSlot bool) {
	if e.music == nil {
		return
	}
	e.music.stop()
	if clearSlot {
		e.music = nil
	}
}

func (e *Engine) stopEffectsLocked() {
	for _, handles := range e.active {
		for _, h := range handles {
			h.Close()
		}
	}
	clear(e.active)
}

func (e *Engine) stopFileLocked(name string) error {
	if e.music != nil && e.music.file == name {
		// The slot stays so the stop surfaces as this file's end.
		e.music.stop()
		e.log().Debug("music stopped", "file", name)
		return nil
	}
	if handles, ok := e.active[name]; ok {
		for _, h := range handles {
			h.Close()
		}
		delete(e.active, name)
		e.log().Debug("audio effect stopped", "file", name, "voices", len(handles))
		return nil
	}
	e.log().Debug("stop for idle file", "file", name)
	return nil
}

func (e *Engine) setPausedLocked(paused bool) error {
	if paused == e.paused || e.device == nil {
		return nil
	}
	var err error
	if paused {
		err = e.device.Stop()
	} else {
		err = e.device.Start()
	}
	if err != nil {
		return err
	}
	e.paused = paused
	e.log().Debug("audio pause", "paused", paused)
	return nil
}

func (e *Engine) setMusicVolumeLocked(arg string) error {
	v, err := strconv.ParseFloat(strings.TrimSpace(arg), 32)
	if err != nil {
		return fmt.Errorf("audio: VOLUME %q: %w", arg, err)
	}
	gain := clamp01(float32(v))
	if e.music == nil {
		e.log().Debug("volume with no music playing", "volume", gain)
		return nil
	}
	e.music.ctrl.SetGain(gain)
	e.log().Debug("music volume", "file", e.music.file, "volume", gain)
	return nil
}

// Poll reports the files that finished playing since the last call, each at
// most once. The music slot ends when its track leaves the mix; an effect
// ends when its last overlapping voice does.
func (e *Engine) Poll() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.ready {
		return nil
	}
	var ended []string
	if e.music != nil && e.music.ctrl.Done() {
		ended = append(ended, e.music.file)
		e.music = nil
	}
	for file, handles := range e.active {
		live := handles[:0]
		for _, h := range handles {
			if !h.Done() {
				live = append(live, h)
			}
		}
		if len(live) == 0 {
			delete(e.active, file)
			ended = append(ended, file)
			continue
		}
		e.active[file] = live
	}
	return ended
}

// StopAll silences both tiers without emitting end events. The runner calls
// it on scene preload and on the stop path.
func (e *Engine) StopAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.ready {
		return
	}
	e.stopMusicLocked(true)
	e.stopEffectsLocked()
}

func (e *Engine) probeFile(ctx context.Context, path string) (pcm.Format, error) {
	if e.probe != nil {
		return e.probe(ctx, path)
	}
	return ffprobeFormat(ctx, path)
}

func (e *Engine) decodeFile(ctx context.Context, path string, format pcm.Format) ([]byte, error) {
	if e.decode != nil {
		return e.decode(ctx, path, format)
	}
	return ffmpegDecodeAll(ctx, path, format)
}

func (e *Engine) streamFile(ctx context.Context, path string, format pcm.Format) (io.ReadCloser, waitFunc, error) {
	if e.stream != nil {
		return e.stream(ctx, path, format)
	}
	return ffmpegStream(ctx, path, format)
}

func (e *Engine) outputFormat() pcm.Format {
	if e.Output.Valid() {
		return e.Output
	}
	return pcm.Stereo48K
}

func (e *Engine) log() *slog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return slog.Default()
}

func clamp01(v float32) float32 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
