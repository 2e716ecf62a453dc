package core

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"syscall"

	"cracknum-backend/internal/config"

	"github.com/google/shlex"
)

const (
	binPlaceholder = "{HASHCAT_BIN}"

	hashModeSaltedMD5 = "10" // md5($pass.$salt)
	attackModeMask    = "3"
	maskPrefix        = "79"
	maskDigits        = 9
	workloadProfile   = "3"
	deviceTypeCPU     = "1"
	outfileFormat     = "2"
	statusTimerSecs   = "5"

	maxLineBytes = 1024 * 1024
)

var crackMask = maskPrefix + strings.Repeat("?d", maskDigits)

var ErrExecutionDisabled = errors.New("execution disabled")

// ExecutionDisabledError is returned instead of starting a process when
// ALLOW_EXECUTION is off.
type ExecutionDisabledError struct{}

func (e *ExecutionDisabledError) Error() string {
	return "execution disabled (ALLOW_EXECUTION=false)"
}

func (e *ExecutionDisabledError) Is(target error) bool {
	return target == ErrExecutionDisabled
}

// CrackArgs are the arguments of the primary mask attack: every candidate of
// the form 79XXXXXXXXX against md5($pass.$salt).
func CrackArgs(hashFile, outputFile, potFile string) []string {
	return []string{
		"-m", hashModeSaltedMD5,
		"-a", attackModeMask,
		hashFile,
		crackMask,
		"-O",
		"-w", workloadProfile,
		"-D", deviceTypeCPU,
		"--outfile", outputFile,
		"--outfile-format", outfileFormat,
		"--outfile-autohex-disable",
		"--status",
		"--status-timer", statusTimerSecs,
		"--potfile-path", potFile,
		"--force",
	}
}

// ShowArgs lists everything the potfile already holds for the hash list.
func ShowArgs(hashFile, potFile string) []string {
	return []string{"--show", "-m", hashModeSaltedMD5, hashFile, "--potfile-path", potFile}
}

type Launcher struct {
	prefix  []string
	enabled bool
}

func NewLauncher(cfg config.Hashcat) (*Launcher, error) {
	tokens, err := shlex.Split(cfg.CmdTemplate)
	if err != nil {
		return nil, fmt.Errorf("error parsing command template %q: %w", cfg.CmdTemplate, err)
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("command template %q is empty", cfg.CmdTemplate)
	}

	// The binary is substituted after tokenizing so a path with spaces stays one argument.
	for i, tok := range tokens {
		tokens[i] = strings.ReplaceAll(tok, binPlaceholder, cfg.Bin)
	}

	return &Launcher{prefix: tokens, enabled: cfg.AllowExecution}, nil
}

func (l *Launcher) Enabled() bool {
	return l.enabled
}

// Argv is the full command line that would be executed for args.
func (l *Launcher) Argv(args ...string) []string {
	return append(slices.Clone(l.prefix), args...)
}

// Command prepares a streaming process. Nothing is executed until Start.
func (l *Launcher) Command(ctx context.Context, args []string) (*Process, error) {
	if !l.enabled {
		slog.Warn("refusing to prepare command, execution is disabled", "command", l.prefix[0])
		return nil, &ExecutionDisabledError{}
	}

	argv := l.Argv(args...)
	return &Process{
		argv:       argv,
		cmd:        exec.CommandContext(ctx, argv[0], argv[1:]...),
		exited:     make(chan struct{}),
		outputDone: make(chan struct{}),
	}, nil
}

// Output runs the tool to completion and returns its stdout. A non-zero exit
// code is not an error, the tool uses it to report "nothing found".
func (l *Launcher) Output(ctx context.Context, args []string) ([]byte, error) {
	if !l.enabled {
		slog.Warn("refusing to run command, execution is disabled", "command", l.prefix[0])
		return nil, &ExecutionDisabledError{}
	}

	argv := l.Argv(args...)
	out, err := exec.CommandContext(ctx, argv[0], argv[1:]...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			slog.Debug("command exited with non-zero status", "command", argv[0], "exit_code", exitErr.ExitCode())
			return out, nil
		}
		return nil, fmt.Errorf("error running %s: %w", argv[0], err)
	}
	return out, nil
}

// Process is a running tool whose stdout and stderr share one pipe, so lines
// are observed in the order the tool wrote them.
type Process struct {
	argv []string
	cmd  *exec.Cmd

	output     *os.File
	outputDone chan struct{}

	exited  chan struct{}
	waitErr error

	terminateOnce sync.Once
	terminateErr  error
	killOnce      sync.Once
	killErr       error
}

func (p *Process) Argv() []string {
	return p.argv
}

// Start launches the process. onLine is called from a single reader goroutine
// for every non-empty output line, as soon as the tool flushes it.
func (p *Process) Start(onLine func(line string)) error {
	reader, writer, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("error creating output pipe: %w", err)
	}

	p.cmd.Stdout = writer
	p.cmd.Stderr = writer

	if err := p.cmd.Start(); err != nil {
		reader.Close()
		writer.Close()
		return fmt.Errorf("error starting %s: %w", p.argv[0], err)
	}
	// The child holds its own copy of the write end.
	writer.Close()

	p.output = reader
	slog.Info("process started", "command", p.argv[0], "pid", p.cmd.Process.Pid)

	go p.readLines(onLine)
	go p.wait()

	return nil
}

func (p *Process) readLines(onLine func(line string)) {
	defer close(p.outputDone)

	scanner := bufio.NewScanner(p.output)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t\r\n")
		if line == "" {
			continue
		}
		onLine(line)
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		slog.Error("error reading process output", "command", p.argv[0], "error", err)
	}
}

func (p *Process) wait() {
	p.waitErr = p.cmd.Wait()
	close(p.exited)
}

// Exited is closed once the process has been reaped.
func (p *Process) Exited() <-chan struct{} {
	return p.exited
}

// ExitErr is the result of waiting on the process, valid after Exited.
func (p *Process) ExitErr() error {
	<-p.exited
	return p.waitErr
}

// OutputDone is closed once the reader has drained the output pipe.
func (p *Process) OutputDone() <-chan struct{} {
	return p.outputDone
}

// CloseOutput unblocks a reader stuck on a pipe that is still held open, for
// example by an orphaned grandchild.
func (p *Process) CloseOutput() {
	if p.output != nil {
		if err := p.output.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			slog.Warn("error closing process output", "error", err)
		}
	}
}

// Terminate asks the process to stop. Repeated calls are no-ops.
func (p *Process) Terminate() error {
	p.terminateOnce.Do(func() {
		p.terminateErr = ignoreProcessDone(p.cmd.Process.Signal(syscall.SIGTERM))
	})
	return p.terminateErr
}

// Kill force-stops the process. Repeated calls are no-ops.
func (p *Process) Kill() error {
	p.killOnce.Do(func() {
		p.killErr = ignoreProcessDone(p.cmd.Process.Kill())
	})
	return p.killErr
}

func ignoreProcessDone(err error) error {
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
