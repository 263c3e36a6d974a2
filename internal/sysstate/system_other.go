//go:build !linux

package sysstate

import "context"

// System is the platform provider. Resource sampling is only implemented
// on Linux; elsewhere every sample fails with ErrUnsupported and callers
// fall back to neutral values.
type System struct{}

// NewSystem returns the platform provider.
func NewSystem() *System {
	return &System{}
}

// Sample implements Provider.
func (s *System) Sample(context.Context) (State, error) {
	return State{}, ErrUnsupported
}
