package video

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"syscall"
	"time"

	"github.com/cuebox/cuebox/pkg/buffer"
)

const stderrRingCapacity = 64

// player is the supervised subprocess surface, split out so engine tests can
// stand in a fake for a real mpv.
type player interface {
	Alive() bool
	Stop(grace time.Duration)
	LastStderr(n int) []string
}

// proc supervises a single player process. Stderr is captured into a bounded
// ring so exit reports can include the player's last words.
type proc struct {
	cmd    *exec.Cmd
	ctx    context.Context
	log    *slog.Logger
	stderr *buffer.Ring[string]

	done    chan struct{}
	waitErr error // valid once done is closed
}

// startProc launches name with args. Canceling ctx kills the process; exit
// is observable through Alive.
func startProc(ctx context.Context, log *slog.Logger, name string, args ...string) (*proc, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("video: stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("video: start %s: %w", name, err)
	}
	p := &proc{
		cmd:    cmd,
		ctx:    ctx,
		log:    log,
		stderr: buffer.NewRing[string](stderrRingCapacity),
		done:   make(chan struct{}),
	}
	go p.run(stderr)
	return p, nil
}

// run drains stderr until the process closes it, then reaps the exit status.
func (p *proc) run(stderr io.Reader) {
	sc := bufio.NewScanner(stderr)
	for sc.Scan() {
		p.stderr.Add(sc.Text())
	}

	p.waitErr = p.cmd.Wait()
	close(p.done)

	switch {
	case p.waitErr == nil:
		p.log.Debug("player exited", "reason", "clean")
	case p.ctx.Err() != nil:
		p.log.Debug("player exited", "reason", "canceled")
	default:
		p.log.Warn("player exited", "reason", "error",
			"error", p.waitErr, "stderr", p.stderr.Last(6))
	}
}

func (p *proc) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Stop asks the player to exit and kills it once the grace period runs out.
func (p *proc) Stop(grace time.Duration) {
	if !p.Alive() {
		return
	}
	_ = p.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-p.done:
	case <-time.After(grace):
		_ = p.cmd.Process.Kill()
		<-p.done
	}
}

func (p *proc) LastStderr(n int) []string {
	return p.stderr.Last(n)
}
