package execution

import (
	"errors"

	"github.com/isdmx/gradebox/sandbox"
)

var (
	// ErrMerge is returned when the merge script fails or produces nothing.
	ErrMerge = errors.New("merge failed")
	// ErrCheck is returned when the check script reports on stderr or
	// leaves an unreadable result file.
	ErrCheck = errors.New("check failed")
	// ErrModuleConfig is returned for module data that cannot be executed.
	ErrModuleConfig = errors.New("invalid module configuration")
)

// IsInfrastructure reports whether err is a fault of the evaluation system
// rather than of the participant's code.
func IsInfrastructure(err error) bool {
	return errors.Is(err, sandbox.ErrIsolate) ||
		errors.Is(err, ErrMerge) ||
		errors.Is(err, ErrCheck) ||
		errors.Is(err, ErrModuleConfig)
}

func faultStage(err error) string {
	switch {
	case errors.Is(err, sandbox.ErrIsolate):
		return "sandbox"
	case errors.Is(err, ErrMerge):
		return "merge"
	case errors.Is(err, ErrCheck):
		return "check"
	case errors.Is(err, ErrModuleConfig):
		return "module"
	default:
		return "internal"
	}
}
