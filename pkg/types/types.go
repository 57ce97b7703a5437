package types

import (
	"fmt"
	"strconv"
	"strings"
)

// StartKind distinguishes the two ways an application can be scheduled to start.
type StartKind int

const (
	// StartAbsolute fires at a fixed offset from the run's start.
	StartAbsolute StartKind = iota
	// StartAfter fires once another application (TargetID) reaches a finished state.
	StartAfter
)

// StartSpec is the parsed form of an AppSpec's Start field.
type StartSpec struct {
	Kind     StartKind
	Seconds  float64
	TargetID int
}

// EndKind distinguishes the four termination policies an application can carry.
type EndKind int

const (
	// EndAwait blocks on natural completion at run end.
	EndAwait EndKind = iota
	// EndForced kills the app once every awaited app has finished.
	EndForced
	// EndDeadline kills the app at a fixed offset from the run's start.
	EndDeadline
	// EndDuration kills the app a fixed number of seconds after it was spawned
	// (only valid for dependency-started apps).
	EndDuration
)

// EndSpec is the parsed form of an AppSpec's End field.
type EndSpec struct {
	Kind    EndKind
	Seconds float64
}

// AppSpec is the immutable, per-experiment application configuration as read
// from Config JSON. Start and End carry the original wire encoding; call
// ParseAppSpec to resolve them into the tagged-sum StartSpec/EndSpec.
type AppSpec struct {
	Path      string `json:"path"`
	Args      string `json:"args"`
	Collect   bool   `json:"collect"`
	Start     string `json:"start"`
	End       string `json:"end"`
	Partition *int   `json:"partition,omitempty"`
}

// ParsedApp is an AppSpec with Start/End resolved and the default partition
// id applied (0 for collecting apps, 1 otherwise).
type ParsedApp struct {
	ID          int
	Spec        AppSpec
	Start       StartSpec
	End         EndSpec
	PartitionID int
}

// ParseAppSpec resolves the raw string Start/End encoding of spec into a
// ParsedApp, enforcing the fatal-at-setup invariants: a dependency start may
// not be combined with a forced end, and a duration end requires a
// dependency start.
func ParseAppSpec(id int, spec AppSpec) (*ParsedApp, error) {
	start, err := parseStart(spec.Start)
	if err != nil {
		return nil, fmt.Errorf("app %d: invalid start %q: %w", id, spec.Start, err)
	}

	end, err := parseEnd(spec.End)
	if err != nil {
		return nil, fmt.Errorf("app %d: invalid end %q: %w", id, spec.End, err)
	}

	if start.Kind == StartAfter && end.Kind == EndForced {
		return nil, fmt.Errorf("app %d: dependency start combined with end=\"f\" is a fatal configuration error", id)
	}
	// A numeric End is a Deadline for an absolute-started app but a Duration
	// (relative to spawn time) for a dependency-started one.
	if end.Kind == EndDeadline && start.Kind == StartAfter {
		end.Kind = EndDuration
	}

	partitionID := 1
	if spec.Collect {
		partitionID = 0
	}
	if spec.Partition != nil {
		partitionID = *spec.Partition
	}

	return &ParsedApp{ID: id, Spec: spec, Start: start, End: end, PartitionID: partitionID}, nil
}

func parseStart(s string) (StartSpec, error) {
	if strings.HasPrefix(s, "s") {
		targetID, err := strconv.Atoi(s[1:])
		if err != nil {
			return StartSpec{}, fmt.Errorf("dependency start %q: %w", s, err)
		}
		return StartSpec{Kind: StartAfter, TargetID: targetID}, nil
	}
	seconds, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return StartSpec{}, fmt.Errorf("absolute start %q: %w", s, err)
	}
	return StartSpec{Kind: StartAbsolute, Seconds: seconds}, nil
}

func parseEnd(s string) (EndSpec, error) {
	switch s {
	case "":
		return EndSpec{Kind: EndAwait}, nil
	case "f":
		return EndSpec{Kind: EndForced}, nil
	}
	seconds, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return EndSpec{}, fmt.Errorf("end %q: %w", s, err)
	}
	// Whether this is a Deadline (absolute-started app) or a Duration
	// (dependency-started app) is only knowable once Start has been parsed;
	// the caller (ParseAppSpec) downgrades EndDeadline to EndDuration.
	return EndSpec{Kind: EndDeadline, Seconds: seconds}, nil
}

// MetricDescriptor is declared by a wrapper at construction time.
type MetricDescriptor struct {
	Name            string
	Unit            string
	ConvergenceGoal bool
}

// ProcessHandle is the supervisor-owned view of a spawned OS process that the
// rest of the engine needs to observe, without depending on pkg/supervisor.
type ProcessHandle interface {
	PID() int
	Running() bool
}

// AppInstance is the runtime counterpart of a ParsedApp: owns its node list,
// process handle, captured output, and wrapper-declared metrics. Created at
// experiment setup, destroyed at teardown. Only the allocator mutates Nodes;
// only the supervisor mutates Process/Stdout/Stderr.
type AppInstance struct {
	Parsed  *ParsedApp
	Nodes   []string
	Process ProcessHandle
	Stdout  string
	Stderr  string
	Metrics []MetricDescriptor
	MsgSize int
}

func (a *AppInstance) ID() int { return a.Parsed.ID }

// DataContainer accumulates samples for one (app, metric) pair across runs.
// Data never shrinks and len(Data) == sum(NumSamples) holds at all times.
type DataContainer struct {
	AppID           int
	Metric          MetricDescriptor
	MsgSize         int
	Converged       bool
	ConvergenceRun  int
	NumSamples      []int
	Data            []float64
}

// Title mirrors the original "{app_id}_{label}_{unit}" naming used for CSV
// column headers and per-app output filenames.
func (d *DataContainer) Title() string {
	return fmt.Sprintf("%d_%s_%s", d.AppID, d.Metric.Name, d.Metric.Unit)
}

// Append records one run's series for this metric. Convergence, once set, is
// never cleared by Append.
func (d *DataContainer) Append(series []float64) {
	d.Data = append(d.Data, series...)
	d.NumSamples = append(d.NumSamples, len(series))
}

// ScheduleAction distinguishes the two event kinds in a schedule.
type ScheduleAction int

const (
	ActionStart ScheduleAction = iota
	ActionKill
)

func (a ScheduleAction) String() string {
	if a == ActionKill {
		return "kill"
	}
	return "start"
}

// ScheduleEntry is one (app, action, timestamp) event. Seq preserves
// insertion order so entries sharing a timestamp resolve deterministically.
type ScheduleEntry struct {
	AppID     int
	Action    ScheduleAction
	Timestamp float64
	Seq       int
}

// DependencyMap maps a waiter app id to the target app id it is waiting on.
// An entry is removed once the target reaches a finished state in the run.
type DependencyMap map[int]int

// RelativeDurations maps a dependency-started app id to the number of
// seconds it should run for once spawned.
type RelativeDurations map[int]float64

// RunState is one app's lifecycle state within a single run.
type RunState int

const (
	StateIdle RunState = iota
	StateRunning
	StateFinishedNatural
	StateFinishedKilled
	StateFinishedTimeout
)

// RunContext holds the ephemeral state of one schedule-executor run.
type RunContext struct {
	RunningIDs            map[int]bool
	FinishedIDs           map[int]bool
	RemainingDependencies DependencyMap
}

// NewRunContext builds an empty RunContext with a private copy of deps so
// that resolving dependencies during a run never mutates the experiment's
// canonical DependencyMap.
func NewRunContext(deps DependencyMap) *RunContext {
	cp := make(DependencyMap, len(deps))
	for waiter, target := range deps {
		cp[waiter] = target
	}
	return &RunContext{
		RunningIDs:            make(map[int]bool),
		FinishedIDs:           make(map[int]bool),
		RemainingDependencies: cp,
	}
}
