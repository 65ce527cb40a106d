// Package process supervises the game child process: spawn, startup
// detection, heartbeat liveness, and graceful-then-forceful shutdown.
package process

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/blocksmiths/launchcore/internal/core"
	"github.com/blocksmiths/launchcore/internal/events"
	"github.com/blocksmiths/launchcore/internal/launcher"
)

// State is the supervisor's launch state
type State string

const (
	StateIdle      State = "idle"
	StateLaunching State = "launching"
	StateRunning   State = "running"
	StateStopping  State = "stopping"
	StateCrashed   State = "crashed"
)

const (
	heartbeatInterval = 5 * time.Second
	heartbeatMisses   = 3

	// runningFallback promotes a heartbeat-alive child to RUNNING when no
	// output pattern matched, flagging fullyStarted=false.
	runningFallback = 90 * time.Second

	crashedResetDelay = 5 * time.Second

	// earlyCrashWindow classifies an exit shortly after spawn as SpawnFailed.
	earlyCrashWindow = 10 * time.Second

	// Crash-loop detection: this many crashes inside crashWindow emits
	// FrequentCrashes.
	crashThreshold = 3
	crashWindow    = 5 * time.Minute

	gracefulWait   = 1 * time.Second
	stopPollPeriod = 500 * time.Millisecond
	stopPollBudget = 3 * time.Second
	postKillWait   = 1 * time.Second

	reaperInterval = 60 * time.Second

	stderrTailLines = 40
)

// LaunchSpec describes one launch attempt.
type LaunchSpec struct {
	JavaPath   string
	Args       []string
	Dir        string
	InstanceID string // empty for bare vanilla launches
	Metadata   map[string]string
}

// Status is the externally visible supervisor state.
type Status struct {
	State       State             `json:"state"`
	IsRunning   bool              `json:"isRunning"`
	PID         int               `json:"pid"`
	Uptime      float64           `json:"uptime"` // seconds since spawn
	Metadata    map[string]string `json:"metadata"`
	LaunchSteps LaunchSteps       `json:"launchSteps"`
}

// Supervisor owns the process handle. The heartbeat reads the PID, never
// writes it; all state transitions go through one mutex.
type Supervisor struct {
	bus    *events.Bus
	store  *core.InstanceStore
	logger *slog.Logger

	mu           sync.Mutex
	state        State
	cmd          *exec.Cmd
	pid          int
	instanceID   string
	metadata     map[string]string
	steps        LaunchSteps
	spawnedAt    time.Time
	runningAt    time.Time
	missedProbes int
	stderrTail   []string
	generation   int // invalidates stale monitor goroutines

	crashMu sync.Mutex
	crashes map[string][]time.Time

	trackMu sync.Mutex
	tracked map[int]bool

	stopReaper chan struct{}
	reaperOnce sync.Once
}

// NewSupervisor creates a supervisor. store may be nil when no instance
// bookkeeping is wanted.
func NewSupervisor(bus *events.Bus, store *core.InstanceStore, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Supervisor{
		bus:        bus,
		store:      store,
		logger:     logger,
		state:      StateIdle,
		crashes:    make(map[string][]time.Time),
		tracked:    make(map[int]bool),
		stopReaper: make(chan struct{}),
	}
	go s.reaper()
	return s
}

// Close stops background goroutines. A running game keeps running.
func (s *Supervisor) Close() {
	s.reaperOnce.Do(func() { close(s.stopReaper) })
}

// Start spawns the game. Exactly one launch may be in flight; any state
// other than IDLE rejects with LaunchInProgress.
func (s *Supervisor) Start(ctx context.Context, spec LaunchSpec) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	if s.state != StateIdle {
		state := s.state
		s.mu.Unlock()
		return 0, launcher.New(launcher.KindLaunchInProgress,
			"launch rejected: supervisor is %s", state)
	}
	s.state = StateLaunching
	s.instanceID = spec.InstanceID
	s.metadata = spec.Metadata
	s.steps = LaunchSteps{}
	s.stderrTail = nil
	s.missedProbes = 0
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	s.publishState(StateLaunching)

	cmd := exec.Command(spec.JavaPath, spec.Args...)
	cmd.Dir = spec.Dir
	configureSysProcAttr(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.failSpawn(gen, err)
		return 0, launcher.Wrap(launcher.KindSpawnFailed, err, "opening stdout pipe")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		s.failSpawn(gen, err)
		return 0, launcher.Wrap(launcher.KindSpawnFailed, err, "opening stderr pipe")
	}

	if err := cmd.Start(); err != nil {
		s.failSpawn(gen, err)
		return 0, launcher.Wrap(launcher.KindSpawnFailed, err, "spawning %s", spec.JavaPath)
	}

	now := time.Now()
	s.mu.Lock()
	s.cmd = cmd
	s.pid = cmd.Process.Pid
	s.spawnedAt = now
	pid := s.pid
	s.mu.Unlock()

	s.track(pid)
	s.logger.Info("game spawned", "pid", pid, "instance", spec.InstanceID)

	go s.consumeOutput(gen, stdout, "stdout")
	go s.consumeOutput(gen, stderr, "stderr")
	go s.heartbeat(gen, pid)
	go s.fallbackTimer(gen, pid)
	go s.waitLoop(gen, cmd)

	return pid, nil
}

// Stop runs the graceful-then-forceful shutdown of the process tree.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	if s.state != StateLaunching && s.state != StateRunning {
		state := s.state
		s.mu.Unlock()
		return launcher.New(launcher.KindInvalidOptions, "no game to stop (state %s)", state)
	}
	s.state = StateStopping
	pid := s.pid
	s.mu.Unlock()

	s.publishState(StateStopping)
	s.logger.Info("stopping game", "pid", pid)

	// Snapshot descendants before signalling; children may detach.
	descendants := descendantPIDs(pid)

	if err := terminateTree(pid); err != nil {
		s.logger.Warn("graceful terminate failed", "error", err)
	}
	time.Sleep(gracefulWait)

	// Verification polling, then escalate.
	deadline := time.Now().Add(stopPollBudget)
	for time.Now().Before(deadline) {
		if !anyAlive(pid, descendants) {
			break
		}
		time.Sleep(stopPollPeriod)
	}

	if anyAlive(pid, descendants) {
		s.logger.Warn("escalating to force kill", "pid", pid)
		if err := killTree(pid); err != nil {
			s.logger.Warn("force kill failed", "error", err)
		}
		time.Sleep(postKillWait)
	}

	if pidAlive(pid) {
		return launcher.New(launcher.KindStopFailed, "pid %d survived force kill", pid)
	}

	// waitLoop observes the exit and finalizes to IDLE.
	s.untrack(pid)
	return nil
}

// Status returns the externally visible state snapshot.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		State:       s.state,
		IsRunning:   s.state == StateRunning,
		PID:         s.pid,
		Metadata:    s.metadata,
		LaunchSteps: s.steps,
	}
	if s.state == StateLaunching || s.state == StateRunning {
		st.Uptime = time.Since(s.spawnedAt).Seconds()
	} else {
		st.PID = 0
	}
	return st
}

// consumeOutput scans one output stream, driving step and fatal detection.
func (s *Supervisor) consumeOutput(gen int, r io.Reader, stream string) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		s.bus.Publish(events.LaunchDataEvent{Line: line, Stream: stream})

		s.mu.Lock()
		if s.generation != gen {
			s.mu.Unlock()
			return
		}

		if stream == "stderr" {
			s.stderrTail = append(s.stderrTail, line)
			if len(s.stderrTail) > stderrTailLines {
				s.stderrTail = s.stderrTail[1:]
			}
		}

		matched := s.steps.apply(line)
		promote := matched == "fullyStarted" && s.state == StateLaunching
		if promote {
			s.state = StateRunning
			s.runningAt = time.Now()
		}
		launchDuration := time.Since(s.spawnedAt).Seconds()
		pid := s.pid
		meta := s.metadata
		fatal := isFatalLine(line)
		crashing := fatal && s.state == StateLaunching
		s.mu.Unlock()

		if matched != "" {
			s.bus.Publish(events.LaunchProgressEvent{Task: matched, Message: line})
		}
		if promote {
			s.logger.Info("game fully started", "pid", pid, "duration", launchDuration)
			s.publishState(StateRunning)
			s.bus.Publish(events.GameStartedEvent{
				PID:            pid,
				LaunchDuration: launchDuration,
				Metadata:       meta,
			})
		}
		if fatal {
			s.bus.Publish(events.GameErrorEvent{Type: "fatal", Line: line})
			if crashing {
				s.logger.Error("fatal output during launch", "line", line)
			}
		}
	}
}

// heartbeat probes the PID every interval while LAUNCHING or RUNNING.
// Three consecutive misses classify a crash.
func (s *Supervisor) heartbeat(gen int, pid int) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for range ticker.C {
		s.mu.Lock()
		if s.generation != gen || (s.state != StateLaunching && s.state != StateRunning) {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		alive := pidAlive(pid)

		s.mu.Lock()
		if s.generation != gen {
			s.mu.Unlock()
			return
		}
		if alive {
			s.missedProbes = 0
			s.mu.Unlock()
			continue
		}
		s.missedProbes++
		missed := s.missedProbes
		s.mu.Unlock()

		if missed >= heartbeatMisses {
			s.logger.Warn("heartbeat lost", "pid", pid, "missed", missed)
			s.classifyCrash(gen, nil, "heartbeat lost: process disappeared")
			return
		}
	}
}

// fallbackTimer promotes a still-LAUNCHING but alive process to RUNNING
// after the fallback window, flagging fullyStarted=false.
func (s *Supervisor) fallbackTimer(gen int, pid int) {
	time.Sleep(runningFallback)

	s.mu.Lock()
	if s.generation != gen || s.state != StateLaunching || !pidAlive(pid) {
		s.mu.Unlock()
		return
	}
	s.state = StateRunning
	s.runningAt = time.Now()
	duration := time.Since(s.spawnedAt).Seconds()
	meta := s.metadata
	s.mu.Unlock()

	s.logger.Warn("no startup pattern matched, assuming running", "pid", pid)
	s.publishState(StateRunning)
	s.bus.Publish(events.GameStartedEvent{PID: pid, LaunchDuration: duration, Metadata: meta})
}

// waitLoop reaps the child and finalizes the launch attempt.
func (s *Supervisor) waitLoop(gen int, cmd *exec.Cmd) {
	err := cmd.Wait()

	var exitCode *int
	if cmd.ProcessState != nil {
		code := cmd.ProcessState.ExitCode()
		if code >= 0 {
			exitCode = &code
		}
		// code == -1 means signal-terminated: exitCode stays nil
	}
	_ = err

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return
	}
	state := s.state
	pid := s.pid
	spawnedAt := s.spawnedAt
	runningAt := s.runningAt
	instanceID := s.instanceID
	tail := strings.Join(s.stderrTail, "\n")
	s.mu.Unlock()

	s.untrack(pid)
	s.bus.Publish(events.LaunchCloseEvent{Code: exitCode})
	s.bus.Publish(events.GameClosedEvent{Code: exitCode})

	// Playtime accounting for the started->stopped interval.
	if instanceID != "" && s.store != nil && !runningAt.IsZero() {
		minutes := int64(time.Since(runningAt).Minutes())
		if minutes > 0 {
			if err := s.store.AddPlaytime(instanceID, minutes); err != nil {
				s.logger.Warn("playtime update failed", "instance", instanceID, "error", err)
			}
		} else {
			_ = s.store.MarkLastPlayed(instanceID)
		}
	}

	cleanExit := exitCode != nil && *exitCode == 0

	switch {
	case state == StateStopping, cleanExit && state == StateRunning:
		s.toIdle(gen)
	default:
		reason := "abnormal exit"
		if exitCode == nil {
			reason = "terminated by signal"
		}
		if state == StateLaunching && time.Since(spawnedAt) < earlyCrashWindow {
			reason = "crashed during startup"
			s.bus.Publish(events.LaunchErrorEvent{
				Err: launcher.New(launcher.KindSpawnFailed, "game crashed within %s of spawn:\n%s",
					earlyCrashWindow, tail),
			})
		}
		s.classifyCrash(gen, exitCode, reason)
	}
}

// classifyCrash transitions to CRASHED, emits crash events, tracks the
// crash-loop window, and schedules the auto-reset to IDLE.
func (s *Supervisor) classifyCrash(gen int, exitCode *int, reason string) {
	s.mu.Lock()
	if s.generation != gen || s.state == StateIdle || s.state == StateCrashed {
		s.mu.Unlock()
		return
	}
	s.state = StateCrashed
	instanceID := s.instanceID
	s.mu.Unlock()

	s.logger.Error("game crashed", "reason", reason, "instance", instanceID)
	s.publishState(StateCrashed)
	s.bus.Publish(events.GameCrashedEvent{ExitCode: exitCode, Reason: reason})

	if instanceID != "" {
		s.recordCrash(instanceID)
	}

	go func() {
		time.Sleep(crashedResetDelay)
		s.toIdle(gen)
	}()
}

// recordCrash maintains the per-instance crash window and emits
// FrequentCrashes at the threshold.
func (s *Supervisor) recordCrash(instanceID string) {
	now := time.Now()

	s.crashMu.Lock()
	times := append(s.crashes[instanceID], now)
	cutoff := now.Add(-crashWindow)
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.crashes[instanceID] = kept
	count := len(kept)
	s.crashMu.Unlock()

	if count >= crashThreshold {
		s.logger.Warn("frequent crashes detected", "instance", instanceID, "count", count)
		s.bus.Publish(events.FrequentCrashesEvent{InstanceID: instanceID, Count: count})
	}
}

func (s *Supervisor) toIdle(gen int) {
	s.mu.Lock()
	if s.generation != gen || s.state == StateIdle {
		s.mu.Unlock()
		return
	}
	s.state = StateIdle
	s.cmd = nil
	s.pid = 0
	s.runningAt = time.Time{}
	s.mu.Unlock()

	s.publishState(StateIdle)
}

func (s *Supervisor) failSpawn(gen int, err error) {
	s.bus.Publish(events.LaunchErrorEvent{Err: err})
	s.classifyCrash(gen, nil, "spawn failed: "+err.Error())
}

func (s *Supervisor) publishState(state State) {
	s.mu.Lock()
	pid := s.pid
	meta := s.metadata
	s.mu.Unlock()

	s.bus.Publish(events.GameStateChangedEvent{
		State:    string(state),
		PID:      pid,
		Metadata: meta,
	})
}

// track registers a PID with the orphan reaper.
func (s *Supervisor) track(pid int) {
	s.trackMu.Lock()
	s.tracked[pid] = true
	s.trackMu.Unlock()
}

func (s *Supervisor) untrack(pid int) {
	s.trackMu.Lock()
	delete(s.tracked, pid)
	s.trackMu.Unlock()
}

// reaper periodically drops tracked PIDs that no longer exist in the OS.
// It does nothing while the tracked set is empty.
func (s *Supervisor) reaper() {
	ticker := time.NewTicker(reaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopReaper:
			return
		case <-ticker.C:
		}

		s.trackMu.Lock()
		if len(s.tracked) == 0 {
			s.trackMu.Unlock()
			continue
		}
		pids := make([]int, 0, len(s.tracked))
		for pid := range s.tracked {
			pids = append(pids, pid)
		}
		s.trackMu.Unlock()

		for _, pid := range pids {
			if !pidAlive(pid) {
				s.logger.Info("reaping orphan pid", "pid", pid)
				s.untrack(pid)
			}
		}
	}
}

func anyAlive(root int, descendants []int) bool {
	if pidAlive(root) {
		return true
	}
	for _, pid := range descendants {
		if pidAlive(pid) {
			return true
		}
	}
	return false
}
