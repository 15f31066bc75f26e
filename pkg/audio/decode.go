package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/cuebox/cuebox/pkg/audio/pcm"
)

// probeTimeout bounds one ffprobe invocation.
const probeTimeout = 10 * time.Second

// ffprobeFormat asks ffprobe for the native format of the first audio
// stream. Streams with more than two channels are decoded downmixed to
// stereo.
func ffprobeFormat(ctx context.Context, path string) (pcm.Format, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "quiet",
		"-print_format", "json",
		"-show_entries", "stream=sample_rate,channels",
		"-select_streams", "a:0",
		path,
	)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return pcm.Format{}, fmt.Errorf("audio: probe %s: %w", path, err)
	}

	var probe struct {
		Streams []struct {
			SampleRate string `json:"sample_rate"`
			Channels   int    `json:"channels"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(out.Bytes(), &probe); err != nil {
		return pcm.Format{}, fmt.Errorf("audio: probe %s: %w", path, err)
	}
	if len(probe.Streams) == 0 {
		return pcm.Format{}, fmt.Errorf("audio: probe %s: no audio stream", path)
	}
	rate, err := strconv.Atoi(probe.Streams[0].SampleRate)
	if err != nil {
		return pcm.Format{}, fmt.Errorf("audio: probe %s: sample rate %q", path, probe.Streams[0].SampleRate)
	}
	f := pcm.Format{Rate: rate, Channels: probe.Streams[0].Channels}
	if f.Channels > 2 {
		f.Channels = 2
	}
	if !f.Valid() {
		return pcm.Format{}, fmt.Errorf("audio: probe %s: unusable format %s", path, f)
	}
	return f, nil
}

func ffmpegArgs(path string, format pcm.Format) []string {
	return []string{
		"-v", "error",
		"-i", path,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(format.Rate),
		"-ac", strconv.Itoa(format.Channels),
		"-",
	}
}

// ffmpegDecodeAll decodes the whole file to raw PCM in the given format.
func ffmpegDecodeAll(ctx context.Context, path string, format pcm.Format) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg", ffmpegArgs(path, format)...)
	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("audio: decode %s: %w: %s", path, err, strings.TrimSpace(errBuf.String()))
	}
	return out.Bytes(), nil
}

// waitFunc reaps a finished decoder and reports how it exited.
type waitFunc func() error

// ffmpegStream starts a decode of path and returns the raw PCM stream.
// Canceling ctx kills the decoder; wait must be called after the stream is
// drained or abandoned.
func ffmpegStream(ctx context.Context, path string, format pcm.Format) (io.ReadCloser, waitFunc, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg", ffmpegArgs(path, format)...)
	var errBuf bytes.Buffer
	cmd.Stderr = &errBuf
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("audio: stream %s: %w", path, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("audio: stream %s: %w", path, err)
	}
	wait := func() error {
		err := cmd.Wait()
		if err == nil || ctx.Err() != nil {
			// A canceled stream is a stop, not a failure.
			return nil
		}
		return fmt.Errorf("audio: stream %s: %w: %s", path, err, strings.TrimSpace(errBuf.String()))
	}
	return stdout, wait, nil
}
