package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/veltis/measure/model/task"
	"github.com/veltis/measure/service/ipc"
)

// Process is the supervision handle of a worker.
type Process interface {
	Alive() bool
	Kill() error
	// Wait blocks until the worker exited or timeout elapsed; a negative
	// timeout blocks indefinitely.
	Wait(timeout time.Duration) error
}

// Launcher abstracts how a worker comes to life, so tests and embedded
// deployments can run the loop in-process while production spawns a
// subprocess.
type Launcher interface {
	Launch(ctx context.Context) (ipc.Channel, Process, error)
}

// ExecLauncher spawns the worker binary and talks to it over its standard
// streams.
type ExecLauncher struct {
	// Path is the worker binary; Args its extra arguments.
	Path string
	Args []string
}

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

func (p *execProcess) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *execProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}

func (p *execProcess) Wait(timeout time.Duration) error {
	if timeout < 0 {
		<-p.done
		return p.err
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-p.done:
		return p.err
	case <-timer.C:
		return errors.New("engine: worker did not exit in time")
	}
}

// Launch starts the worker binary with a JSON-line channel on its stdin and
// stdout. The worker's stderr is passed through for crash diagnostics.
func (l *ExecLauncher) Launch(ctx context.Context) (ipc.Channel, Process, error) {
	cmd := exec.CommandContext(ctx, l.Path, l.Args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("engine: worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("engine: worker stdout: %w", err)
	}
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("engine: start worker %q: %w", l.Path, err)
	}
	proc := &execProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		proc.err = cmd.Wait()
		close(proc.done)
	}()
	channel := ipc.NewPipeChannel(stdout, stdin, stdin.Close)
	return channel, proc, nil
}

// InProcessLauncher runs the worker loop in a goroutine of the current
// process, connected through an in-memory channel. It keeps the whole engine
// protocol intact without spawning anything.
type InProcessLauncher struct {
	Registry *task.Registry
	Logger   *zap.Logger
}

type inProcess struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (p *inProcess) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *inProcess) Kill() error {
	p.cancel()
	return nil
}

func (p *inProcess) Wait(timeout time.Duration) error {
	if timeout < 0 {
		<-p.done
		return nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-p.done:
		return nil
	case <-timer.C:
		return errors.New("engine: worker did not exit in time")
	}
}

func (l *InProcessLauncher) Launch(ctx context.Context) (ipc.Channel, Process, error) {
	registry := l.Registry
	if registry == nil {
		registry = task.NewRegistry()
	}
	parentEnd, workerEnd := ipc.NewMemoryPair()
	ctx, cancel := context.WithCancel(context.Background())
	proc := &inProcess{cancel: cancel, done: make(chan struct{})}
	worker := &Worker{Channel: workerEnd, Registry: registry, Logger: l.Logger}
	go func() {
		defer close(proc.done)
		defer workerEnd.Close()
		_ = worker.Run(ctx)
	}()
	return parentEnd, proc, nil
}
