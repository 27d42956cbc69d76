// Package execution implements the merge, run and check pipeline behind
// evaluations and ad-hoc runs of participant code.
//
// Service.Evaluate and Service.Run take a module, the participant's code and
// a Reporter. Expected outcomes such as an unsupported module version, a
// busy box pool or a failing program are returned as a Result. Faults of the
// evaluation system itself (isolation tool, merge and check scripts, broken
// module data) are returned as errors for which IsInfrastructure is true.
//
// Every acquired box is cleaned up and released exactly once. The sandbox is
// archived after each run unless the isolation tool failed.
package execution
