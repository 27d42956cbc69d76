package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// File permission constants
const (
	DirPermission  = 0o755
	FilePermission = 0o644
)

// Command describes a process whose standard streams are bound to files
type Command struct {
	Args []string
	Dir  string

	// StdinPath is optional; an empty value leaves stdin closed.
	StdinPath  string
	StdoutPath string
	StderrPath string
}

// CommandRunner defines an interface for executing system commands
type CommandRunner interface {
	// RunCommand executes args and captures both output streams in memory.
	RunCommand(ctx context.Context, args []string) (stdout, stderr string, exitCode int, err error)
	// RunRedirected executes cmd with its streams bound to files.
	RunRedirected(ctx context.Context, cmd Command) (exitCode int, err error)
}

// RealCommandRunner implements CommandRunner using actual exec commands
type RealCommandRunner struct{}

// RunCommand executes the given command with arguments
func (RealCommandRunner) RunCommand(ctx context.Context, args []string) (stdout, stderr string, exitCode int, err error) {
	if len(args) < 1 {
		return "", "", 0, fmt.Errorf("no command provided")
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...) //nolint:gosec // Safe as this is controlled input

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	exitCode, err = exitStatus(cmd.Run())
	if err != nil {
		return "", "", 0, err
	}

	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

// RunRedirected executes the command with stdin, stdout and stderr bound to files
func (RealCommandRunner) RunRedirected(ctx context.Context, c Command) (int, error) {
	if len(c.Args) < 1 {
		return 0, fmt.Errorf("no command provided")
	}

	cmd := exec.CommandContext(ctx, c.Args[0], c.Args[1:]...) //nolint:gosec // Scripts and the isolation tool come from trusted configuration
	cmd.Dir = c.Dir

	if c.StdinPath != "" {
		stdin, err := os.Open(c.StdinPath)
		if err != nil {
			return 0, fmt.Errorf("failed to open stdin: %w", err)
		}
		defer stdin.Close()
		cmd.Stdin = stdin
	}

	stdout, err := os.Create(c.StdoutPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create stdout file: %w", err)
	}
	defer stdout.Close()
	cmd.Stdout = stdout

	stderr, err := os.Create(c.StderrPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create stderr file: %w", err)
	}
	defer stderr.Close()
	cmd.Stderr = stderr

	return exitStatus(cmd.Run())
}

// exitStatus turns the error of exec.Cmd.Run into an exit code. Only
// failures to start the process are returned as errors.
func exitStatus(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitError *exec.ExitError
	if errors.As(err, &exitError) {
		return exitError.ExitCode(), nil
	}
	return 0, err
}

// FileSystem defines an interface for file system operations
type FileSystem interface {
	MkdirAll(path string, perm os.FileMode) error
	WriteFile(filename string, data []byte, perm os.FileMode) error
	RemoveAll(path string) error
	FileExists(path string) (bool, error)
	ReadDirNames(path string) ([]string, error)
}

// RealFileSystem implements FileSystem using actual file system operations
type RealFileSystem struct{}

func (RealFileSystem) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (RealFileSystem) WriteFile(filename string, data []byte, perm os.FileMode) error {
	return os.WriteFile(filename, data, perm)
}

func (RealFileSystem) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

func (RealFileSystem) FileExists(path string) (bool, error) {
	_, err := os.Lstat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

func (RealFileSystem) ReadDirNames(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}
