package harness

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"sync"
	"syscall"
	"time"

	"github.com/extension-ci/chromium-test-harness/framework"
	"github.com/extension-ci/chromium-test-harness/framework/helpers"
)

// DefaultServiceCommand runs the mock HTTP server that the extension's tests talk to.
var DefaultServiceCommand = []string{"node", "./tests/test-server.js"} //nolint:gochecknoglobals

// How long to keep relaying output after the service exits, if something it started is still
// holding its output open.
const serviceOutputWaitDelay = 2 * time.Second

// Service is a process the harness starts for the duration of a run.
type Service interface {
	Start() error

	// Kill asks the process to exit without waiting for it. It is not an error if the process
	// was never started or has already exited.
	Kill() error
}

// ServiceProcess runs a command as a child process, relaying its output to the harness's own
// diagnostic output.
type ServiceProcess struct {
	command string
	args    []string
	dir     string
	output  io.Writer
	exclude []*regexp.Regexp
	logger  framework.Logger
	cmd     *exec.Cmd
	exited  chan struct{}
	started bool
	killed  bool
	lock    sync.Mutex
}

// ServiceOption is a configuration option for NewServiceProcess.
type ServiceOption helpers.ConfigOption[ServiceProcess]

type serviceOutputOption struct {
	output  io.Writer
	exclude []*regexp.Regexp
}

func (o serviceOutputOption) Configure(p *ServiceProcess) error {
	p.output = o.output
	p.exclude = o.exclude
	return nil
}

// ServiceOutput relays the process's stdout and stderr to w, leaving out lines that match any
// of the exclude patterns. By default the output is discarded.
func ServiceOutput(w io.Writer, exclude ...*regexp.Regexp) ServiceOption {
	return serviceOutputOption{output: w, exclude: exclude}
}

type serviceDirOption string

func (o serviceDirOption) Configure(p *ServiceProcess) error {
	p.dir = string(o)
	return nil
}

// ServiceDir sets the working directory of the process.
func ServiceDir(dir string) ServiceOption {
	return serviceDirOption(dir)
}

type serviceLoggerOption struct{ logger framework.Logger }

func (o serviceLoggerOption) Configure(p *ServiceProcess) error {
	p.logger = o.logger
	return nil
}

// ServiceLogger sets a debug logger for process lifecycle events.
func ServiceLogger(logger framework.Logger) ServiceOption {
	return serviceLoggerOption{logger}
}

// NewServiceProcess creates a ServiceProcess; the process is not started until Start is called.
func NewServiceProcess(command string, args []string, options ...ServiceOption) (*ServiceProcess, error) {
	if command == "" {
		return nil, errors.New("service command is empty")
	}
	p := &ServiceProcess{
		command: command,
		args:    args,
		output:  io.Discard,
		logger:  framework.NullLogger(),
		exited:  make(chan struct{}),
	}
	if err := helpers.ApplyOptions(p, options...); err != nil {
		return nil, err
	}
	return p, nil
}

// Start launches the process. It returns once the process has been started; it does not wait
// for it to be ready to serve requests (see AwaitServiceReady).
func (p *ServiceProcess) Start() error {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.started {
		return errors.New("service was already started")
	}

	// stdout and stderr are copied on separate goroutines
	output := &syncWriter{writer: p.output}
	stdout := newFilteredWriter(output, "[service] ", p.exclude)
	stderr := newFilteredWriter(output, "[service] ", p.exclude)
	cmd := exec.Command(p.command, p.args...) //nolint:gosec
	cmd.Dir = p.dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = serviceOutputWaitDelay
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", p.command, err)
	}
	p.cmd = cmd
	p.started = true
	p.logger.Printf("Started %s (pid %d)", p.command, cmd.Process.Pid)

	go func() {
		err := cmd.Wait()
		_ = stdout.Flush()
		_ = stderr.Flush()
		if err != nil {
			p.logger.Printf("%s exited: %s", p.command, err)
		} else {
			p.logger.Printf("%s exited", p.command)
		}
		close(p.exited)
	}()
	return nil
}

// Kill sends the process a termination signal. Only the first call has any effect.
func (p *ServiceProcess) Kill() error {
	p.lock.Lock()
	if !p.started || p.killed {
		p.lock.Unlock()
		return nil
	}
	p.killed = true
	cmd := p.cmd
	p.lock.Unlock()

	select {
	case <-p.exited:
		return nil
	default:
	}
	p.logger.Printf("Stopping %s", p.command)
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to stop %s: %w", p.command, err)
	}
	return nil
}

// Exited is closed once the process has exited and its output has been relayed.
func (p *ServiceProcess) Exited() <-chan struct{} {
	return p.exited
}

type syncWriter struct {
	writer io.Writer
	lock   sync.Mutex
}

func (w *syncWriter) Write(data []byte) (int, error) {
	w.lock.Lock()
	defer w.lock.Unlock()
	return w.writer.Write(data)
}
