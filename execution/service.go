package execution

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/isdmx/gradebox/archive"
	"github.com/isdmx/gradebox/logger"
	"github.com/isdmx/gradebox/metrics"
	"github.com/isdmx/gradebox/quota"
	"github.com/isdmx/gradebox/reporter"
	"github.com/isdmx/gradebox/sandbox"
)

// Executable is the merged program path as seen inside the sandbox
const Executable = "/box/run"

// BoxPool hands out sandbox boxes
type BoxPool interface {
	Acquire() (*sandbox.Box, bool, error)
	Release(box *sandbox.Box) error
}

// Sandbox drives the isolation tool for one box
type Sandbox interface {
	Init(ctx context.Context, box *sandbox.Box) error
	Cleanup(ctx context.Context, box *sandbox.Box)
	Run(ctx context.Context, box *sandbox.Box, spec sandbox.RunSpec) (int, error)
	RunCommandLine(box *sandbox.Box, spec sandbox.RunSpec) string
}

// Archiver stores finished sandboxes permanently
type Archiver interface {
	Archive(ctx context.Context, src string, userID, moduleID int64, manifest archive.Manifest) error
}

// Config holds configuration for the execution service
type Config struct {
	// ModuleLibPath is passed to merge and check scripts.
	ModuleLibPath string
	// OutputMaxLen caps the stdout returned to participants, in bytes.
	OutputMaxLen int
	// Quota is the default limit set of every sandboxed run.
	Quota quota.Limits
}

// Service evaluates and runs participant code. It is safe for concurrent use.
type Service struct {
	logger    *zap.Logger
	config    Config
	pool      BoxPool
	sandbox   Sandbox
	archiver  Archiver
	cmdRunner sandbox.CommandRunner
}

// Option defines a functional option for Service
type Option func(*Service)

// WithCommandRunner sets the CommandRunner used for merge and check scripts
func WithCommandRunner(cmdRunner sandbox.CommandRunner) Option {
	return func(s *Service) {
		s.cmdRunner = cmdRunner
	}
}

// NewService creates a new execution service
func NewService(logger *zap.Logger, config Config, pool BoxPool, sb Sandbox, archiver Archiver, opts ...Option) *Service {
	if config.OutputMaxLen <= 0 {
		config.OutputMaxLen = 5000
	}

	service := &Service{
		logger:    logger,
		config:    config,
		pool:      pool,
		sandbox:   sb,
		archiver:  archiver,
		cmdRunner: &sandbox.RealCommandRunner{},
	}

	for _, opt := range opts {
		opt(service)
	}

	return service
}

// Evaluate merges, runs and checks code as a graded submission. A non-nil
// error is always an infrastructure fault; the Result then carries only a
// generic message and rep holds the details.
func (s *Service) Evaluate(ctx context.Context, module Module, userID int64, code, evalID string, rep *reporter.Reporter) (Result, error) {
	return s.execute(ctx, Evaluation, module, userID, code, evalID, rep)
}

// Run merges and runs code without checking it
func (s *Service) Run(ctx context.Context, module Module, userID int64, code, execID string, rep *reporter.Reporter) (Result, error) {
	return s.execute(ctx, AdHocRun, module, userID, code, execID, rep)
}

func (s *Service) execute(ctx context.Context, rt RunType, module Module, userID int64, code, id string, rep *reporter.Reporter) (res Result, err error) {
	log := logger.ForExecution(s.logger, rt.String(), module.ID, userID, id)
	defer func() {
		metrics.ExecutionsTotal.WithLabelValues(rt.String(), string(res.Outcome)).Inc()
	}()

	info, err := ParseProgramInfo(module.Data)
	if err != nil {
		return s.fault(log, err, rep)
	}
	if !info.Supported() {
		rep.Printf("Unsupported programming version %s\n", info.Version)
		return Result{Outcome: OutcomeError, Message: MessageUnsupported}, nil
	}
	limits, err := info.ResolveLimits(s.config.Quota)
	if err != nil {
		return s.fault(log, err, rep)
	}

	box, ok, err := s.pool.Acquire()
	if err != nil {
		return s.fault(log, err, rep)
	}
	if !ok {
		metrics.BusyRejections.Inc()
		rep.Printf("Reached limit of concurrent tasks!\n")
		return Result{Outcome: OutcomeError, Message: busyMessage(rt)}, nil
	}
	log = log.With(zap.String("box_id", box.ID))

	defer func() {
		if err := s.pool.Release(box); err != nil {
			log.Error("failed to release box", zap.Error(err))
		}
	}()
	defer s.sandbox.Cleanup(ctx, box)

	if err := s.sandbox.Init(ctx, box); err != nil {
		return s.fault(log, err, rep)
	}

	res, err = s.pipeline(ctx, rt, box, info, limits, module, userID, code, rep)

	// A failing isolation tool leaves the box in an unknown state.
	if !errors.Is(err, sandbox.ErrIsolate) {
		manifest := archive.Manifest{Kind: rt.manifestKind(), ID: id}
		if archiveErr := s.archiver.Archive(ctx, box.Root, userID, module.ID, manifest); archiveErr != nil {
			log.Warn("failed to archive execution", zap.Error(archiveErr))
			rep.Printf("Archiving failed: %v\n", archiveErr)
		}
	}

	if err != nil {
		return s.fault(log, err, rep)
	}

	log.Info("execution finished", zap.String("outcome", string(res.Outcome)))
	return res, nil
}

func (s *Service) pipeline(ctx context.Context, rt RunType, box *sandbox.Box, info ProgramInfo, limits quota.Limits, module Module, userID int64, code string, rep *reporter.Reporter) (Result, error) {
	rawPath := box.Path("raw")
	mergedPath := filepath.Join(box.BoxDir(), "run")

	rep.Printf("Saving raw code into %s...\n", rawPath)
	if err := os.WriteFile(rawPath, []byte(code), sandbox.FilePermission); err != nil {
		return Result{}, err
	}

	if err := s.merge(ctx, box, info, rawPath, mergedPath, userID, rt, rep); err != nil {
		return Result{}, err
	}

	exitCode, err := s.run(ctx, box, info, limits, rep)
	if err != nil {
		return Result{}, err
	}

	stdout, err := participantStdout(box.Path("output"), box.Path("stderr"), exitCode != 0, s.config.OutputMaxLen)
	if err != nil {
		return Result{}, err
	}

	if exitCode != 0 {
		return Result{Outcome: OutcomeNok, Message: MessageRunFailed, Stdout: stdout}, nil
	}
	if rt == AdHocRun {
		return Result{Outcome: OutcomeOk, Stdout: stdout}, nil
	}

	checked, err := s.check(ctx, box, info, userID, rep)
	if err != nil {
		return Result{}, err
	}

	outcome := OutcomeNok
	if checked.Success {
		outcome = OutcomeOk
	}
	score := reconcileScore(checked.Success, checked.Score, module.MaxPoints)

	return Result{
		Outcome: outcome,
		Stdout:  stdout,
		Actions: checked.Actions,
		Message: checked.Message,
		Score:   &score,
	}, nil
}

// run executes the merged program in the sandbox and splits its stdout
func (s *Service) run(ctx context.Context, box *sandbox.Box, info ProgramInfo, limits quota.Limits, rep *reporter.Reporter) (int, error) {
	spec := sandbox.RunSpec{
		Executable: Executable,
		StdoutPath: box.Path("stdout"),
		StderrPath: box.Path("stderr"),
		Limits:     limits,
	}
	if info.Stdin != "" {
		stdin, err := filepath.Abs(info.Stdin)
		if err != nil {
			return 0, err
		}
		spec.StdinPath = stdin
	}

	rep.Printf("Running sandbox: %s\n", s.sandbox.RunCommandLine(box, spec))
	rep.Printf(" * stdout: %s\n", spec.StdoutPath)
	rep.Printf(" * stderr: %s\n", spec.StderrPath)

	exitCode, runErr := s.sandbox.Run(ctx, box, spec)
	rep.Printf("Return code: %d\n", exitCode)

	if exitCode != 0 {
		rep.Printf("Stdout: ")
		_ = appendFile(rep, spec.StdoutPath)
		rep.Printf("\nStderr: ")
		_ = appendFile(rep, spec.StderrPath)
		rep.Printf("\n")
	}
	if runErr != nil {
		return exitCode, runErr
	}

	if err := splitOutput(spec.StdoutPath, box.Path("output"), box.Path("secret")); err != nil {
		return exitCode, err
	}
	return exitCode, nil
}

// fault logs an infrastructure fault and hides its details from the participant
func (s *Service) fault(log *zap.Logger, err error, rep *reporter.Reporter) (Result, error) {
	stage := faultStage(err)
	metrics.InfrastructureFaults.WithLabelValues(stage).Inc()
	log.Error("execution failed", zap.String("stage", stage), zap.Error(err))
	rep.Printf("Error: %v\n", err)
	return Result{Outcome: OutcomeError, Message: MessageSystemFailure}, err
}
