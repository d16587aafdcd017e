//go:build !windows && !linux

package liveness

type killChecker struct{}

func (killChecker) Probe(pid int) Status { return killStatus(pid) }

// NewChecker returns a signal-0 checker; these platforms have no stable
// process handle the supervisor can hold.
func NewChecker(pid int) Checker {
	return killChecker{}
}
