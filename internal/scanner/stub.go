package scanner

import (
	"context"
	"time"
)

// Stub is a canned-result adapter used in tests and local development
// where the real probe binaries are unavailable.
type Stub struct {
	ScannerName string
	// Results maps a target to the result Run returns for it. When the
	// target is missing, Fallback is used.
	Results  map[string]*Result
	Fallback *Result
	// Err, when set, is returned from every Run call.
	Err error

	// Calls records the targets Run was invoked with, in order.
	Calls []string
}

// Name implements Scanner.
func (s *Stub) Name() string {
	return s.ScannerName
}

// Run implements Scanner with canned data.
func (s *Stub) Run(_ context.Context, target string, _ Config, stream StreamFunc) (*Result, error) {
	s.Calls = append(s.Calls, target)
	if s.Err != nil {
		return nil, s.Err
	}

	res := s.Fallback
	if r, ok := s.Results[target]; ok {
		res = r
	}
	if res == nil {
		res = &Result{Scanner: s.ScannerName, Target: target, Status: StatusCompleted}
	}

	out := *res
	out.Scanner = s.ScannerName
	out.Target = target
	if out.Status == "" {
		out.Status = StatusCompleted
	}
	now := time.Now().UTC()
	out.StartedAt = now
	out.CompletedAt = now

	if stream != nil && out.RawOutput != "" {
		stream(out.RawOutput)
	}
	return &out, nil
}

var _ Scanner = (*Stub)(nil)
