package execution

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/isdmx/gradebox/metrics"
	"github.com/isdmx/gradebox/reporter"
	"github.com/isdmx/gradebox/sandbox"
)

const (
	// ResultFile is the optional machine readable result of a check script,
	// relative to the box root.
	ResultFile = "eval.out"

	actionPrefix = "action "
)

type checkResult struct {
	Success bool
	Actions []string
	Message string
	Score   *float64
}

type evalOut struct {
	Message *string  `json:"message"`
	Score   *float64 `json:"score"`
}

// check runs the module's check script against the visible output
func (s *Service) check(ctx context.Context, box *sandbox.Box, info ProgramInfo, userID int64, rep *reporter.Reporter) (checkResult, error) {
	start := time.Now()
	defer func() { metrics.StageDuration.WithLabelValues("check").Observe(time.Since(start).Seconds()) }()

	if info.CheckScript == "" {
		return checkResult{}, fmt.Errorf("%w: check_script is not set", ErrModuleConfig)
	}

	args, err := absPaths(info.CheckScript, box.Root, box.Path("output"), s.config.ModuleLibPath)
	if err != nil {
		return checkResult{}, fmt.Errorf("%w: %v", ErrCheck, err)
	}
	args = append(args, strconv.FormatInt(userID, 10))

	stdoutPath := box.Path("check.stdout")
	stderrPath := box.Path("check.stderr")

	rep.Printf("Checking output (cmd: %s)\n", strings.Join(args, " "))
	rep.Printf(" * stdout: %s\n", stdoutPath)
	rep.Printf(" * stderr: %s\n", stderrPath)

	exitCode, err := s.cmdRunner.RunRedirected(ctx, sandbox.Command{
		Args:       args,
		Dir:        box.Root,
		StdoutPath: stdoutPath,
		StderrPath: stderrPath,
	})
	if err != nil {
		return checkResult{}, fmt.Errorf("%w: failed to start check script: %v", ErrCheck, err)
	}

	res := checkResult{Success: exitCode == 0}
	if res.Actions, err = readActions(stdoutPath); err != nil {
		return checkResult{}, fmt.Errorf("%w: %v", ErrCheck, err)
	}

	st, err := os.Stat(stderrPath)
	if err != nil {
		return checkResult{}, fmt.Errorf("%w: %v", ErrCheck, err)
	}
	if st.Size() > 0 {
		rep.Printf("Check script returned nonempty stderr:\n")
		_ = appendFile(rep, stderrPath)
		return checkResult{}, fmt.Errorf("%w: check script returned non-empty stderr", ErrCheck)
	}

	data, err := os.ReadFile(box.Path(ResultFile))
	if errors.Is(err, fs.ErrNotExist) {
		return res, nil
	}
	if err != nil {
		return checkResult{}, fmt.Errorf("%w: %v", ErrCheck, err)
	}

	var out evalOut
	if err := json.Unmarshal(data, &out); err != nil {
		rep.Printf("Malformed %s: %v\n", ResultFile, err)
		return checkResult{}, fmt.Errorf("%w: malformed %s: %v", ErrCheck, ResultFile, err)
	}
	if out.Message != nil {
		res.Message = *out.Message
	}
	if out.Score != nil {
		score := roundScore(*out.Score)
		res.Score = &score
	}

	return res, nil
}

// roundScore rounds to one decimal place, ties to even
func roundScore(score float64) float64 {
	return math.RoundToEven(score*10) / 10
}

func readActions(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var actions []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, lineChunk), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, actionPrefix) {
			actions = append(actions, strings.TrimSpace(line))
		}
	}
	return actions, scanner.Err()
}

// reconcileScore accepts a reported score only inside [0, maxPoints].
// Otherwise an accepted run earns maxPoints and a rejected one nothing.
func reconcileScore(ok bool, reported *float64, maxPoints float64) float64 {
	if reported != nil && *reported >= 0 && *reported <= maxPoints {
		return *reported
	}
	if ok {
		return maxPoints
	}
	return 0
}
