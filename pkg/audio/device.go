package audio

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/gen2brain/malgo"

	"github.com/cuebox/cuebox/pkg/audio/pcm"
)

// outputDevice is the playback sink draining the mixer. Stop suspends
// consumption without tearing the device down, which is how PAUSE works.
type outputDevice interface {
	Start() error
	Stop() error
	Close()
}

// devicePeriodMs is the miniaudio period size. Short periods keep command
// latency low; the mixer absorbs the extra callback rate.
const devicePeriodMs = 20

// newMalgoDevice opens the default playback device and wires its data
// callback to the mixer.
func newMalgoDevice(mx *pcm.Mixer, log *slog.Logger) (outputDevice, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		log.Debug("miniaudio", "message", strings.TrimSpace(message))
	})
	if err != nil {
		return nil, fmt.Errorf("audio: init context: %w", err)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = uint32(mx.Output().Channels)
	cfg.SampleRate = uint32(mx.Output().Rate)
	cfg.PeriodSizeInMilliseconds = devicePeriodMs

	dev, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{
		// The callback runs on the realtime audio thread. The mixer never
		// blocks, so filling the whole period here is safe.
		Data: func(pOutput, _ []byte, _ uint32) {
			fillFromMixer(mx, pOutput)
		},
	})
	if err != nil {
		mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("audio: init device: %w", err)
	}
	return &malgoDevice{mctx: mctx, dev: dev}, nil
}

type malgoDevice struct {
	mctx *malgo.AllocatedContext
	dev  *malgo.Device
}

func (d *malgoDevice) Start() error {
	if err := d.dev.Start(); err != nil {
		return fmt.Errorf("audio: start device: %w", err)
	}
	return nil
}

func (d *malgoDevice) Stop() error {
	if err := d.dev.Stop(); err != nil {
		return fmt.Errorf("audio: stop device: %w", err)
	}
	return nil
}

func (d *malgoDevice) Close() {
	d.dev.Uninit()
	d.mctx.Uninit()
	d.mctx.Free()
}

// fillFromMixer fills out completely, falling back to silence if the mixer
// has been closed underneath the device.
func fillFromMixer(mx *pcm.Mixer, out []byte) {
	n := 0
	for n < len(out) {
		r, err := mx.Read(out[n:])
		if err != nil {
			clear(out[n:])
			return
		}
		n += r
	}
}
