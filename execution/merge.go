package execution

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/isdmx/gradebox/metrics"
	"github.com/isdmx/gradebox/reporter"
	"github.com/isdmx/gradebox/sandbox"
)

// merge turns the participant's raw code into the executable mergedPath by
// running the module's merge script on the host.
func (s *Service) merge(ctx context.Context, box *sandbox.Box, info ProgramInfo, rawPath, mergedPath string, userID int64, rt RunType, rep *reporter.Reporter) error {
	start := time.Now()
	defer func() { metrics.StageDuration.WithLabelValues("merge").Observe(time.Since(start).Seconds()) }()

	if info.MergeScript == "" {
		return fmt.Errorf("%w: merge_script is not set", ErrModuleConfig)
	}

	args, err := absPaths(info.MergeScript, rawPath, mergedPath, s.config.ModuleLibPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMerge, err)
	}
	args = append(args, strconv.FormatInt(userID, 10), rt.String())

	stdoutPath := box.Path("merge.stdout")
	stderrPath := box.Path("merge.stderr")

	rep.Printf("Merging code to %s (cmd: %s)\n", mergedPath, strings.Join(args, " "))
	rep.Printf(" * stdout: %s\n", stdoutPath)
	rep.Printf(" * stderr: %s\n", stderrPath)

	exitCode, err := s.cmdRunner.RunRedirected(ctx, sandbox.Command{
		Args:       args,
		Dir:        box.Root,
		StdoutPath: stdoutPath,
		StderrPath: stderrPath,
	})
	if err != nil {
		return fmt.Errorf("%w: failed to start merge script: %v", ErrMerge, err)
	}

	if exitCode != 0 {
		rep.Printf("\nError: Merge script exited with nonzero return code!\nStderr:\n")
		if err := appendFile(rep, stderrPath); err != nil {
			s.logger.Debug("failed to read merge stderr", zap.Error(err))
		}
		return fmt.Errorf("%w: merge script exited with code %d", ErrMerge, exitCode)
	}

	st, err := os.Stat(mergedPath)
	if err != nil {
		rep.Printf("\nError: merge script did not create merged file!\n")
		return fmt.Errorf("%w: merged file missing: %v", ErrMerge, err)
	}
	if err := os.Chmod(mergedPath, st.Mode()|0o111); err != nil {
		return fmt.Errorf("%w: failed to mark merged file executable: %v", ErrMerge, err)
	}

	return nil
}

func absPaths(paths ...string) ([]string, error) {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, err
		}
		out = append(out, abs)
	}
	return out, nil
}
