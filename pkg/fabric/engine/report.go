package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/maruel/natural"

	"github.com/glennswest/leafroute/pkg/fabric"
)

// Overall run messages.
const (
	MessageSuccess        = "success"
	MessageConfigFailed   = "protocol-configuration-failed"
	MessageUnreachable    = "unreachable"
	MessageException      = "unexpected-exception"
	MessageAuthentication = "authentication-failure"
)

// SwitchResult is the outcome on one switch.
type SwitchResult struct {
	Switch      string   `json:"switch" yaml:"switch"`
	Changed     bool     `json:"changed" yaml:"changed"`
	Unreachable bool     `json:"unreachable" yaml:"unreachable"`
	Failed      bool     `json:"failed" yaml:"failed"`
	Summary     []string `json:"summary,omitempty" yaml:"summary,omitempty"`
	Exception   string   `json:"exception,omitempty" yaml:"exception,omitempty"`
}

// RunResult is the report of one run. It implements fabric.Recorder while
// the run is in progress and is read-only after Finish.
type RunResult struct {
	RunID    string          `json:"runID" yaml:"runID"`
	Protocol fabric.Protocol `json:"protocol" yaml:"protocol"`
	Started  time.Time       `json:"started" yaml:"started"`
	Finished time.Time       `json:"finished" yaml:"finished"`
	Message  string          `json:"message" yaml:"message"`
	Detail   string          `json:"detail,omitempty" yaml:"detail,omitempty"` // host or verbatim error for run-level failures
	Switches []*SwitchResult `json:"switches" yaml:"switches"`

	mu    sync.Mutex
	index map[string]*SwitchResult
}

var _ fabric.Recorder = (*RunResult)(nil)

// NewRunResult returns an empty report with an entry for every leaf.
func NewRunResult(protocol fabric.Protocol, leaves []string) *RunResult {
	r := &RunResult{
		RunID:    uuid.NewString(),
		Protocol: protocol,
		Started:  time.Now(),
		index:    make(map[string]*SwitchResult, len(leaves)),
	}
	for _, l := range leaves {
		r.entry(l)
	}
	return r
}

// entry returns the result for sw, creating it. Must be called with r.mu
// held or before the result is shared.
func (r *RunResult) entry(sw string) *SwitchResult {
	if r.index == nil {
		r.index = make(map[string]*SwitchResult)
	}
	e, ok := r.index[sw]
	if !ok {
		e = &SwitchResult{Switch: sw}
		r.index[sw] = e
		r.Switches = append(r.Switches, e)
	}
	return e
}

func (r *RunResult) Changed(sw, summary string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entry(sw)
	e.Changed = true
	e.Summary = append(e.Summary, summary)
}

func (r *RunResult) Unchanged(sw, summary string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entry(sw)
	e.Summary = append(e.Summary, summary)
}

func (r *RunResult) Failed(sw, step string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entry(sw)

	var ce *fabric.CommandError
	switch {
	case errors.Is(err, fabric.ErrSkipped):
		e.Failed = true
		e.Summary = append(e.Summary, fmt.Sprintf("%s %v", step, err))
	case fabric.IsUnreachable(err):
		e.Unreachable = true
		e.Summary = append(e.Summary, fmt.Sprintf("%s: switch unreachable", step))
	case errors.Is(err, context.Canceled):
		e.Failed = true
		e.Summary = append(e.Summary, fmt.Sprintf("%s aborted", step))
	case errors.As(err, &ce) && ce.Attempts > 0:
		e.Failed = true
		e.Summary = append(e.Summary, fmt.Sprintf("%s failed after %d attempt(s): %v", step, ce.Attempts, ce.Err))
	default:
		e.Failed = true
		e.Summary = append(e.Summary, fmt.Sprintf("%s failed: %v", step, err))
	}
}

func (r *RunResult) Unreachable(sw string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entry(sw)
	e.Unreachable = true
	if err != nil {
		e.Summary = append(e.Summary, fmt.Sprintf("unreachable: %v", err))
	}
}

// Exception records a panic raised while configuring sw.
func (r *RunResult) Exception(sw string, v any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entry(sw)
	e.Failed = true
	e.Exception = fmt.Sprint(v)
	r.Message = MessageException
	if r.Detail == "" {
		r.Detail = fmt.Sprintf("%s: %v", sw, v)
	}
}

// Abort records a run-level failure as the overall message.
func (r *RunResult) Abort(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		ae *fabric.AuthenticationError
		ue *fabric.UnreachableError
	)
	switch {
	case errors.As(err, &ae):
		r.Message = MessageAuthentication
		r.Detail = ae.Error()
	case errors.As(err, &ue):
		r.Message = MessageUnreachable
		r.Detail = ue.Host
	default:
		r.Message = MessageException
		r.Detail = err.Error()
	}
}

// Finish orders the switches and settles the overall message.
func (r *RunResult) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()

	sort.SliceStable(r.Switches, func(i, j int) bool {
		return natural.Less(r.Switches[i].Switch, r.Switches[j].Switch)
	})
	r.Finished = time.Now()

	if r.Message != "" {
		return
	}
	r.Message = MessageSuccess
	for _, e := range r.Switches {
		if e.Failed || e.Unreachable {
			r.Message = MessageConfigFailed
			return
		}
	}
}

// Switch returns a copy of the result for sw.
func (r *RunResult) Switch(sw string) (SwitchResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.Switches {
		if e.Switch == sw {
			out := *e
			out.Summary = append([]string(nil), e.Summary...)
			return out, true
		}
	}
	return SwitchResult{}, false
}

// AnyChanged reports whether any switch was modified.
func (r *RunResult) AnyChanged() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.Switches {
		if e.Changed {
			return true
		}
	}
	return false
}

// Succeeded reports whether the run finished with MessageSuccess.
func (r *RunResult) Succeeded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Message == MessageSuccess
}
