// Package video drives the room's fullscreen display through an external
// mpv process controlled over its unix-socket JSON IPC.
//
// The player is started once with a looping idle image and stays up for the
// life of the controller; scenes swap files in and out of it. A video's end
// is detected by polling the player's idle-active property: the falling edge
// from playing to idle surfaces the file once and puts the idle image back
// up. The controller's health loop probes the player and restarts it when it
// dies, up to a bounded number of attempts.
package video

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cuebox/cuebox/pkg/logring"
)

const (
	defaultPlayer          = "mpv"
	defaultSocket          = "/tmp/cuebox-mpv.sock"
	defaultHealthInterval  = 60 * time.Second
	defaultRestartCooldown = 10 * time.Second
	defaultMaxRestarts     = 5

	ipcTimeout      = 2 * time.Second
	socketWait      = 5 * time.Second
	socketPollEvery = 250 * time.Millisecond
	stopGrace       = 2 * time.Second

	idleImageWidth  = 1920
	idleImageHeight = 1080
)

// Engine owns the player subprocess and its IPC connection. Exported fields
// are read at Start and must not change afterwards.
type Engine struct {
	Dir       string // room video directory
	Player    string // player binary, defaults to mpv
	Socket    string // IPC socket path
	IdleImage string // shown between videos; a black frame is generated if absent
	Log       *slog.Logger

	HealthInterval     time.Duration // min spacing between health probes
	RestartCooldown    time.Duration // min spacing between restarts
	MaxRestartAttempts int           // consecutive restarts before giving up

	// Nil fields fall back to the real player subprocess and unix socket.
	spawn func(ctx context.Context, socket, idle string) (player, error)
	dial  func(socket string, timeout time.Duration) (ipcConn, error)

	mu       sync.Mutex
	ready    bool
	proc     player
	ipc      ipcConn
	idle     string // resolved idle image path
	playing  bool
	lastFile string
	// pendingEnds carries files whose playback was lost to a player death,
	// so the next poll still reports them as ended.
	pendingEnds []string

	lastHealth  time.Time
	lastRestart time.Time
	restarts    int
	exhausted   bool

	runCtx    context.Context
	runCancel context.CancelFunc
}

// Start brings the player up: the idle image is generated if missing, a
// stale player holding the socket is cleared, and the process is spawned and
// dialed. A player that cannot be started leaves the engine degraded rather
// than failing the controller; the health loop keeps trying to bring it up.
func (e *Engine) Start(ctx context.Context) error {
	idle, err := e.ensureIdleImage()
	if err != nil {
		return err
	}

	e.killStale()

	runCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.idle = idle
	e.runCtx = runCtx
	e.runCancel = cancel
	e.mu.Unlock()

	p, c, err := e.launch(runCtx)
	if err != nil {
		e.log().Warn("video unavailable, video commands will no-op", "error", err)
		return nil
	}

	e.mu.Lock()
	e.ready = true
	e.proc = p
	e.ipc = c
	e.playing = false
	e.mu.Unlock()

	e.log().Info("video player ready", "player", e.playerBin(), "socket", e.socketPath())
	return nil
}

// launch spawns the player on the idle image and waits for its socket.
func (e *Engine) launch(ctx context.Context) (player, ipcConn, error) {
	sock := e.socketPath()
	p, err := e.spawnPlayer(ctx, sock, e.idle)
	if err != nil {
		return nil, nil, err
	}
	c, err := e.awaitSocket(ctx, sock, p)
	if err != nil {
		p.Stop(stopGrace)
		return nil, nil, err
	}
	return p, c, nil
}

func (e *Engine) spawnPlayer(ctx context.Context, socket, idle string) (player, error) {
	if e.spawn != nil {
		return e.spawn(ctx, socket, idle)
	}
	args := []string{
		"--idle=yes",
		"--fullscreen",
		"--loop-file=inf",
		"--input-ipc-server=" + socket,
		idle,
	}
	return startProc(ctx, e.log(), e.playerBin(), args...)
}

func (e *Engine) awaitSocket(ctx context.Context, socket string, p player) (ipcConn, error) {
	deadline := time.Now().Add(socketWait)
	for {
		c, err := e.dialSocket(socket)
		if err == nil {
			return c, nil
		}
		if !p.Alive() {
			return nil, fmt.Errorf("video: player exited during startup, stderr: %v", p.LastStderr(4))
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("video: ipc socket not ready after %s: %w", socketWait, err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(socketPollEvery):
		}
	}
}

// killStale clears a previous player still holding the socket. A reachable
// player is asked to quit; an orphaned socket file is removed.
func (e *Engine) killStale() {
	sock := e.socketPath()
	if _, err := os.Stat(sock); err != nil {
		return
	}
	if c, err := e.dialSocket(sock); err == nil {
		_, _ = c.Command("quit")
		_ = c.Close()
		e.log().Info("asked stale video player to quit", "socket", sock)
		time.Sleep(500 * time.Millisecond)
	}
	_ = os.Remove(sock)
}

// ensureIdleImage resolves the idle image path, generating a black frame
// when no image exists yet.
func (e *Engine) ensureIdleImage() (string, error) {
	path := e.IdleImage
	if path == "" {
		path = filepath.Join(e.Dir, "idle.png")
	}
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("video: idle image dir: %w", err)
	}
	img := image.NewRGBA(image.Rect(0, 0, idleImageWidth, idleImageHeight))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("video: idle image: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return "", fmt.Errorf("video: idle image: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("video: idle image: %w", err)
	}
	e.log().Info("generated idle image", "path", path)
	return path, nil
}

// Command executes one video directive from a scene action. Messages:
//
//	PLAY_VIDEO:<file>  or bare <file>
//	STOP_VIDEO
//	PAUSE / RESUME
//	SEEK:<seconds>
func (e *Engine) Command(msg string) error {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return errors.New("video: empty command")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.ready {
		e.log().Warn("video unavailable, dropping command", "command", msg)
		return nil
	}

	op, rest, _ := strings.Cut(msg, ":")
	switch strings.ToUpper(op) {
	case "PLAY_VIDEO":
		return e.playLocked(rest)
	case "STOP_VIDEO":
		return e.stopLocked()
	case "PAUSE":
		return e.ipc.SetPause(true)
	case "RESUME":
		return e.ipc.SetPause(false)
	case "SEEK":
		seconds, err := strconv.ParseFloat(strings.TrimSpace(rest), 64)
		if err != nil {
			return fmt.Errorf("video: SEEK %q: %w", rest, err)
		}
		return e.ipc.Seek(seconds)
	default:
		return e.playLocked(msg)
	}
}

func (e *Engine) playLocked(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("video: play with no file")
	}
	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(e.Dir, path)
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("video: %w", err)
	}
	if err := e.ipc.SetProperty("loop-file", "no"); err != nil {
		return err
	}
	if err := e.ipc.LoadFile(path, "replace"); err != nil {
		return err
	}
	if err := e.ipc.SetPause(false); err != nil {
		return err
	}
	e.playing = true
	e.lastFile = name
	e.log().Debug("video playing", "file", name)
	return nil
}

// stopLocked drops the current video without surfacing an end event. The
// idle image going back up keeps the player busy, so no falling edge is
// observed for a stopped file.
func (e *Engine) stopLocked() error {
	e.playing = false
	e.lastFile = ""
	if err := e.rearmIdleLocked(); err != nil {
		return err
	}
	e.log().Debug("video stopped")
	return nil
}

// rearmIdleLocked puts the player back on the looping idle image.
func (e *Engine) rearmIdleLocked() error {
	if err := e.ipc.SetProperty("loop-file", "inf"); err != nil {
		return err
	}
	if err := e.ipc.LoadFile(e.idle, "replace"); err != nil {
		return err
	}
	return e.ipc.SetPause(false)
}

// Poll reports files that finished since the last call. A video's end is the
// player going idle while a file was up; the idle image is re-armed before
// the end is reported.
func (e *Engine) Poll() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	ended := e.pendingEnds
	e.pendingEnds = nil

	if !e.ready || !e.playing {
		return ended
	}
	var idle bool
	if err := e.ipc.GetProperty("idle-active", &idle); err != nil || !idle {
		return ended
	}
	file := e.lastFile
	e.playing = false
	e.lastFile = ""
	if err := e.rearmIdleLocked(); err != nil {
		e.log().Warn("idle image re-arm failed", "error", err)
	}
	e.log().Debug("video ended", "file", file)
	return append(ended, file)
}

// StopAll ends playback without surfacing an end event. Scene teardown uses
// it so a stopped video cannot trigger transitions in the next scene.
func (e *Engine) StopAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pendingEnds = nil
	if !e.ready || !e.playing {
		return
	}
	if err := e.stopLocked(); err != nil {
		e.log().Warn("video stop failed", "error", err)
	}
}

// Health probes the player and restarts it when it has died, subject to the
// restart cooldown and attempt budget. Probes are throttled to
// HealthInterval; the controller calls this from its health loop.
func (e *Engine) Health(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.runCtx == nil || e.exhausted {
		return
	}
	if !e.lastHealth.IsZero() && now.Sub(e.lastHealth) < e.healthInterval() {
		return
	}
	e.lastHealth = now

	if e.healthyLocked() {
		e.restarts = 0
		return
	}
	if !e.lastRestart.IsZero() && now.Sub(e.lastRestart) < e.restartCooldown() {
		return
	}
	if e.restarts >= e.maxRestarts() {
		e.exhausted = true
		e.log().Log(context.Background(), logring.LevelCritical,
			"video player keeps dying, giving up", "restarts", e.restarts)
		return
	}
	e.restarts++
	e.lastRestart = now
	e.log().Warn("video player unhealthy, restarting", "attempt", e.restarts)
	e.restartLocked()
}

func (e *Engine) healthyLocked() bool {
	if !e.ready || e.proc == nil || !e.proc.Alive() {
		return false
	}
	if _, err := os.Stat(e.socketPath()); err != nil {
		return false
	}
	var idle bool
	return e.ipc.GetProperty("idle-active", &idle) == nil
}

func (e *Engine) restartLocked() {
	if e.ipc != nil {
		_ = e.ipc.Close()
		e.ipc = nil
	}
	if e.proc != nil {
		e.proc.Stop(stopGrace)
		e.proc = nil
	}
	e.ready = false
	_ = os.Remove(e.socketPath())

	// Playback died with the process. Queue the end so the scene can move on.
	if e.playing {
		e.pendingEnds = append(e.pendingEnds, e.lastFile)
		e.playing = false
		e.lastFile = ""
	}

	p, c, err := e.launch(e.runCtx)
	if err != nil {
		e.log().Error("video player restart failed", "error", err)
		return
	}
	e.proc = p
	e.ipc = c
	e.ready = true
	e.log().Info("video player restarted")
}

// Close shuts the player down. Safe when the engine never started.
func (e *Engine) Close() {
	e.mu.Lock()
	p, c := e.proc, e.ipc
	cancel := e.runCancel
	e.proc, e.ipc = nil, nil
	e.ready = false
	e.runCtx, e.runCancel = nil, nil
	e.mu.Unlock()

	if c != nil {
		_, _ = c.Command("quit")
		_ = c.Close()
	}
	if p != nil {
		p.Stop(stopGrace)
	}
	if cancel != nil {
		cancel()
	}
	_ = os.Remove(e.socketPath())
}

func (e *Engine) dialSocket(socket string) (ipcConn, error) {
	if e.dial != nil {
		return e.dial(socket, ipcTimeout)
	}
	return dialIPC(socket, ipcTimeout)
}

func (e *Engine) playerBin() string {
	if e.Player != "" {
		return e.Player
	}
	return defaultPlayer
}

func (e *Engine) socketPath() string {
	if e.Socket != "" {
		return e.Socket
	}
	return defaultSocket
}

func (e *Engine) healthInterval() time.Duration {
	if e.HealthInterval > 0 {
		return e.HealthInterval
	}
	return defaultHealthInterval
}

func (e *Engine) restartCooldown() time.Duration {
	if e.RestartCooldown > 0 {
		return e.RestartCooldown
	}
	return defaultRestartCooldown
}

func (e *Engine) maxRestarts() int {
	if e.MaxRestartAttempts > 0 {
		return e.MaxRestartAttempts
	}
	return defaultMaxRestarts
}

func (e *Engine) log() *slog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return slog.Default()
}
