package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/isdmx/gradebox/metrics"
	"github.com/isdmx/gradebox/quota"
)

// ExitProgramFailed is the isolation tool exit code reporting that the
// sandboxed program itself failed. Any other non-zero code is a tool fault.
const ExitProgramFailed = 1

// passwdUIDBase is added to the numeric box id for the mocked /etc/passwd.
const passwdUIDBase = 60000

// ErrIsolate classifies every failure of the isolation tool.
var ErrIsolate = errors.New("isolation tool failure")

// IsolateError carries the details of a failed isolation tool invocation
type IsolateError struct {
	Op       string
	BoxID    string
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

func (e *IsolateError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("isolate %s for box '%s' failed: %v", e.Op, e.BoxID, e.Err)
	}
	return fmt.Sprintf("isolate %s for box '%s' returned code (%d)\n---- STDOUT ----\n%s\n---- STDERR ----\n%s",
		e.Op, e.BoxID, e.ExitCode, e.Stdout, e.Stderr)
}

func (e *IsolateError) Unwrap() error {
	return e.Err
}

// Is makes every IsolateError match ErrIsolate
func (e *IsolateError) Is(target error) bool {
	return target == ErrIsolate
}

// IsolateConfig holds configuration for the isolation tool
type IsolateConfig struct {
	// Command is the argv prefix invoking the tool, e.g. ["isolate"].
	Command     []string
	InitTimeout time.Duration
	// DirBinds are passed as --dir=<bind> on every run.
	DirBinds []string
	// Env entries are passed as --env=<entry> on every run.
	Env []string
}

// RunSpec describes one sandboxed program invocation
type RunSpec struct {
	// Executable is the program path as seen inside the sandbox.
	Executable string
	StdinPath  string
	StdoutPath string
	StderrPath string
	Limits     quota.Limits
}

// Isolate drives the external isolation tool for one box at a time
type Isolate struct {
	logger    *zap.Logger
	config    IsolateConfig
	cmdRunner CommandRunner
	fs        FileSystem
}

// IsolateOption defines a functional option for Isolate
type IsolateOption func(*Isolate)

// WithIsolateCommandRunner sets the CommandRunner for Isolate
func WithIsolateCommandRunner(cmdRunner CommandRunner) IsolateOption {
	return func(i *Isolate) {
		i.cmdRunner = cmdRunner
	}
}

// WithIsolateFileSystem sets the FileSystem for Isolate
func WithIsolateFileSystem(fs FileSystem) IsolateOption {
	return func(i *Isolate) {
		i.fs = fs
	}
}

// NewIsolate creates a new Isolate with default implementations and optional interfaces
func NewIsolate(logger *zap.Logger, config IsolateConfig, opts ...IsolateOption) *Isolate {
	if len(config.Command) == 0 {
		config.Command = []string{"isolate"}
	}

	isolate := &Isolate{
		logger:    logger,
		config:    config,
		cmdRunner: &RealCommandRunner{},
		fs:        &RealFileSystem{},
	}

	for _, opt := range opts {
		opt(isolate)
	}

	return isolate
}

// Init materializes an empty sandbox rooted at the box path
func (i *Isolate) Init(ctx context.Context, box *Box) error {
	start := time.Now()
	defer func() { metrics.StageDuration.WithLabelValues("init").Observe(time.Since(start).Seconds()) }()

	if i.config.InitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.config.InitTimeout)
		defer cancel()
	}

	stdout, stderr, exitCode, err := i.cmdRunner.RunCommand(ctx, i.command(box, "--init"))
	if err != nil {
		return &IsolateError{Op: "--init", BoxID: box.ID, Err: err}
	}
	if exitCode != 0 {
		return &IsolateError{Op: "--init", BoxID: box.ID, ExitCode: exitCode, Stdout: stdout, Stderr: stderr}
	}

	i.logger.Debug("sandbox initialized", zap.String("box_id", box.ID), zap.String("root", box.Root))
	return nil
}

// Cleanup tears the sandbox down. Only the first call per box does any
// work. Failures are logged and never returned, and the box directory is
// removed even when the tool refuses to clean up.
func (i *Isolate) Cleanup(ctx context.Context, box *Box) {
	if !box.cleaned.CompareAndSwap(false, true) {
		i.logger.Warn("cleanup requested twice", zap.String("box_id", box.ID))
		return
	}
	box.state.Store(int32(StateCleaningUp))

	start := time.Now()
	defer func() { metrics.StageDuration.WithLabelValues("cleanup").Observe(time.Since(start).Seconds()) }()

	// A cancelled request must not leave the box behind.
	ctx = context.WithoutCancel(ctx)

	exists, err := i.fs.FileExists(box.Root)
	if err != nil {
		i.logger.Warn("failed to stat box directory", zap.String("box_id", box.ID), zap.Error(err))
	}
	if !exists {
		return
	}

	stdout, stderr, exitCode, err := i.cmdRunner.RunCommand(ctx, i.command(box, "--cleanup"))
	if err != nil || exitCode != 0 {
		i.logger.Warn("error cleaning box directory",
			zap.String("box_id", box.ID),
			zap.Int("exit_code", exitCode),
			zap.String("stdout", stdout),
			zap.String("stderr", stderr),
			zap.Error(err))
	}

	if exists, _ := i.fs.FileExists(box.Root); exists {
		if rmErr := i.fs.RemoveAll(box.Root); rmErr != nil {
			i.logger.Debug("failed to remove box directory", zap.String("box_id", box.ID), zap.Error(rmErr))
		}
	}
}

// Run executes spec.Executable inside the box. The returned exit code is 0
// or ExitProgramFailed; every other outcome is an *IsolateError.
func (i *Isolate) Run(ctx context.Context, box *Box, spec RunSpec) (int, error) {
	start := time.Now()
	defer func() { metrics.StageDuration.WithLabelValues("run").Observe(time.Since(start).Seconds()) }()

	if err := i.prepareEtc(box); err != nil {
		return 0, &IsolateError{Op: "--run", BoxID: box.ID, Err: err}
	}

	args := i.runArgs(box, spec)
	i.logger.Debug("running sandbox", zap.String("box_id", box.ID), zap.Strings("args", args))

	exitCode, err := i.cmdRunner.RunRedirected(ctx, Command{
		Args:       args,
		Dir:        box.Root,
		StdinPath:  spec.StdinPath,
		StdoutPath: spec.StdoutPath,
		StderrPath: spec.StderrPath,
	})
	if err != nil {
		return 0, &IsolateError{Op: "--run", BoxID: box.ID, Err: err}
	}
	if exitCode != 0 && exitCode != ExitProgramFailed {
		return exitCode, &IsolateError{Op: "--run", BoxID: box.ID, ExitCode: exitCode}
	}
	return exitCode, nil
}

// RunCommandLine renders the sandbox invocation for diagnostics
func (i *Isolate) RunCommandLine(box *Box, spec RunSpec) string {
	return strings.Join(i.runArgs(box, spec), " ")
}

func (i *Isolate) command(box *Box, action ...string) []string {
	args := make([]string, 0, len(i.config.Command)+2+len(action))
	args = append(args, i.config.Command...)
	args = append(args, "-b", box.ID)
	return append(args, action...)
}

func (i *Isolate) runArgs(box *Box, spec RunSpec) []string {
	l := spec.Limits

	args := i.command(box)
	args = append(args, "--dir=/etc="+box.Path("etc"))
	for _, bind := range i.config.DirBinds {
		args = append(args, "--dir="+bind)
	}
	for _, env := range i.config.Env {
		args = append(args, "--env="+env)
	}
	args = append(args,
		"-M"+box.Path("meta"),
		"-m"+strconv.FormatUint(kilobytes(l.Memory), 10),
		"-w"+seconds(l.WallTime),
		"--fsize="+strconv.FormatUint(kilobytes(l.FileSize), 10),
		"-q"+strconv.Itoa(l.Blocks)+","+strconv.Itoa(l.Inodes),
	)

	if l.CPUTime > 0 {
		args = append(args, "-t"+seconds(l.CPUTime))
	}
	if l.Stack > 0 {
		args = append(args, "-k"+strconv.FormatUint(kilobytes(l.Stack), 10))
	}
	if l.Processes != nil {
		args = append(args, "-p"+strconv.Itoa(*l.Processes))
	}
	if l.ShareNet {
		args = append(args, "--share-net")
	}

	return append(args, "-c/box", "--run", spec.Executable)
}

// prepareEtc mocks /etc/passwd and creates the /etc/alternatives mount point
func (i *Isolate) prepareEtc(box *Box) error {
	if err := i.fs.MkdirAll(box.Path("etc", "alternatives"), DirPermission); err != nil {
		return fmt.Errorf("failed to create etc directory: %w", err)
	}

	n, _ := strconv.Atoi(box.ID)
	passwd := fmt.Sprintf("tester:x:%d:0:Tester:/:\n", passwdUIDBase+n)
	if err := i.fs.WriteFile(box.Path("etc", "passwd"), []byte(passwd), FilePermission); err != nil {
		return fmt.Errorf("failed to write passwd: %w", err)
	}
	return nil
}

func kilobytes(b uint64) uint64 {
	return b / 1000
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}
