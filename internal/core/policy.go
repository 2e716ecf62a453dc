package core

import (
	"log/slog"
	"sync"
	"time"
)

type Timings struct {
	// How often the supervisor checks whether the process has exited.
	PollInterval time.Duration
	// How long a saturated process may stay quiet before it is killed.
	GraceWindow time.Duration
	// Upper bound on waiting for the reader after the process has exited.
	JoinTimeout time.Duration
	// Pause between the attack and the --show pass so the potfile is flushed.
	ShowDelay time.Duration
}

func DefaultTimings() Timings {
	return Timings{
		PollInterval: 500 * time.Millisecond,
		GraceWindow:  5 * time.Second,
		JoinTimeout:  2 * time.Second,
		ShowDelay:    200 * time.Millisecond,
	}
}

type policyState int

const (
	stateRunning policyState = iota
	stateSaturated
	stateTerminated
)

func (s policyState) String() string {
	switch s {
	case stateRunning:
		return "running"
	case stateSaturated:
		return "saturated"
	default:
		return "terminated"
	}
}

// completionPolicy decides when a process that reported 100% but keeps
// running should be stopped. It is shared by the reader goroutine, which
// observes lines, and the supervisor, which polls for expiry.
type completionPolicy struct {
	mu         sync.Mutex
	state      policyState
	lastOutput time.Time
	grace      time.Duration
}

func newCompletionPolicy(grace time.Duration, started time.Time) *completionPolicy {
	return &completionPolicy{state: stateRunning, lastOutput: started, grace: grace}
}

// observe records an output line. It returns true exactly once, for the first
// sample at or above 100%, and the caller must then request termination.
func (p *completionPolicy) observe(at time.Time, sample ProgressSample, isSample bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastOutput = at
	if p.state == stateRunning && isSample && sample.Complete() {
		p.state = stateSaturated
		return true
	}
	return false
}

// expired returns true once, when a saturated process has been silent for
// longer than the grace window and must be killed.
func (p *completionPolicy) expired(now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == stateSaturated && now.Sub(p.lastOutput) > p.grace {
		p.state = stateTerminated
		return true
	}
	return false
}

func (p *completionPolicy) exited() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = stateTerminated
}

func (p *completionPolicy) current() policyState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

type processHandle interface {
	Terminate() error
	Kill() error
	Exited() <-chan struct{}
	OutputDone() <-chan struct{}
	CloseOutput()
}

// supervisedRun ties one process to its completion policy. handleLine runs on
// the reader goroutine, wait runs on the caller's goroutine.
type supervisedRun struct {
	proc     processHandle
	policy   *completionPolicy
	timings  Timings
	onLine   func(line string)
	onSample func(sample ProgressSample)
	now      func() time.Time
}

func newSupervisedRun(proc processHandle, timings Timings, onLine func(string), onSample func(ProgressSample)) *supervisedRun {
	return &supervisedRun{
		proc:     proc,
		policy:   newCompletionPolicy(timings.GraceWindow, time.Now()),
		timings:  timings,
		onLine:   onLine,
		onSample: onSample,
		now:      time.Now,
	}
}

func (r *supervisedRun) handleLine(line string) {
	r.onLine(line)

	sample, ok := ExtractProgress(line)
	if ok {
		r.onSample(sample)
	}

	if r.policy.observe(r.now(), sample, ok) {
		slog.Info("process reported completion, requesting termination", "percent", sample.Percent)
		if err := r.proc.Terminate(); err != nil {
			slog.Warn("error terminating process", "error", err)
		}
	}
}

// wait blocks until the process has exited and its output has been drained,
// killing it if it outstays the grace window after saturating.
func (r *supervisedRun) wait() {
	ticker := time.NewTicker(r.timings.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.proc.Exited():
			r.policy.exited()
			r.joinReader()
			return
		case <-ticker.C:
			if r.policy.expired(r.now()) {
				slog.Warn("process still running after completion with no output, killing it", "grace_window", r.timings.GraceWindow)
				if err := r.proc.Kill(); err != nil {
					slog.Error("error killing process", "error", err)
				}
			}
		}
	}
}

func (r *supervisedRun) joinReader() {
	timer := time.NewTimer(r.timings.JoinTimeout)
	defer timer.Stop()

	select {
	case <-r.proc.OutputDone():
	case <-timer.C:
		slog.Warn("output reader did not finish in time, closing pipe", "join_timeout", r.timings.JoinTimeout)
		r.proc.CloseOutput()
		<-r.proc.OutputDone()
	}
}
