// Package sandbox provides the box pool and the isolation tool lifecycle.
//
// A Pool hands out at most Capacity box identifiers at a time. An Isolate
// drives the external isolation tool for a box: Init materializes the
// sandbox, Run executes a program inside it under a resolved quota set and
// Cleanup tears it down. Exit code ExitProgramFailed from a run means the
// sandboxed program failed; every other tool failure is an *IsolateError
// matching ErrIsolate.
//
// Usage:
//
//	box, ok, err := pool.Acquire()
//	if err != nil || !ok {
//	    return
//	}
//	defer pool.Release(box)
//	defer isolate.Cleanup(ctx, box)
//	if err := isolate.Init(ctx, box); err != nil {
//	    return err
//	}
package sandbox
