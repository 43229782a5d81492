package tcms

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/CaliLuke/go-nitrate/nitrate"
)

// --- Test plan type ---

// PlanType is a test plan type as numbered by the server.
type PlanType int

var planTypeNames = []string{
	"Null", "Unit", "Integration", "Function", "System", "Acceptance",
	"Installation", "Performance", "Product", "Interoperability", "Smoke",
	"Regression", "NotExist", "i18n/l10n", "Load", "Sanity",
	"Functionality", "Stress", "Stability", "Density", "Benchmark",
	"testtest", "test11", "Place Holder", "Recovery", "Component",
	"General", "Release",
}

// planTypeAbsent is the id the server leaves unused.
const planTypeAbsent = 12

// PlanTypeByID validates a plan type id.
func PlanTypeByID(id int) (PlanType, error) {
	if id < 1 || id >= len(planTypeNames) || id == planTypeAbsent {
		return 0, &nitrate.InvalidArgumentError{What: "test plan type id", Value: id}
	}
	return PlanType(id), nil
}

// ParsePlanType looks up a plan type by name.
func ParsePlanType(name string) (PlanType, error) {
	i := slices.Index(planTypeNames, name)
	if i < 1 || i == planTypeAbsent {
		return 0, &nitrate.InvalidArgumentError{What: "test plan type", Value: name}
	}
	return PlanType(i), nil
}

// ID returns the numeric id.
func (t PlanType) ID() int { return int(t) }

func (t PlanType) String() string {
	if t >= 0 && int(t) < len(planTypeNames) {
		return planTypeNames[t]
	}
	return fmt.Sprintf("PlanType(%d)", int(t))
}

// --- Priority ---

// Priority is a test case priority, P1 (highest) to P5.
type Priority int

var priorityNames = []string{"P0", "P1", "P2", "P3", "P4", "P5"}

// DefaultPriority is used for new test cases.
const DefaultPriority Priority = 3

// PriorityByID validates a priority id.
func PriorityByID(id int) (Priority, error) {
	if id < 1 || id >= len(priorityNames) {
		return 0, &nitrate.InvalidArgumentError{What: "priority id", Value: id}
	}
	return Priority(id), nil
}

// ParsePriority looks up a priority by name, e.g. "P2".
func ParsePriority(name string) (Priority, error) {
	i := slices.Index(priorityNames, strings.ToUpper(name))
	if i < 1 {
		return 0, &nitrate.InvalidArgumentError{What: "priority", Value: name}
	}
	return Priority(i), nil
}

// ID returns the numeric id.
func (p Priority) ID() int { return int(p) }

func (p Priority) String() string {
	if p >= 0 && int(p) < len(priorityNames) {
		return priorityNames[p]
	}
	return fmt.Sprintf("Priority(%d)", int(p))
}

// --- Test plan status ---

// PlanStatus tells whether a test plan is active.
type PlanStatus bool

const (
	PlanDisabled PlanStatus = false
	PlanEnabled  PlanStatus = true
)

// ParsePlanStatus accepts DISABLED, ENABLED, 0 and 1.
func ParsePlanStatus(s string) (PlanStatus, error) {
	switch strings.ToUpper(s) {
	case "DISABLED", "0":
		return PlanDisabled, nil
	case "ENABLED", "1":
		return PlanEnabled, nil
	}
	return false, &nitrate.InvalidArgumentError{What: "test plan status", Value: s}
}

// ID returns 1 for enabled and 0 for disabled.
func (s PlanStatus) ID() int {
	if s {
		return 1
	}
	return 0
}

func (s PlanStatus) String() string {
	if s {
		return "ENABLED"
	}
	return "DISABLED"
}

// Color returns the display colour.
func (s PlanStatus) Color() Color {
	if s {
		return Green
	}
	return Red
}

// --- Test run status ---

// RunStatus tells whether a test run is finished. The server derives it
// from the run's stop date.
type RunStatus int

const (
	RunRunning  RunStatus = 0
	RunFinished RunStatus = 1
)

var stopDate = regexp.MustCompile(`^[-0-9: ]+$`)

// RunStatusFromStopDate interprets the stop_date field of a run record
// (nil or a date).
func RunStatusFromStopDate(v any) (RunStatus, error) {
	switch d := v.(type) {
	case nil:
		return RunRunning, nil
	case string:
		return ParseRunStatus(d)
	default:
		// Date types decoded by the transport.
		if _, ok := v.(fmt.Stringer); ok {
			return RunFinished, nil
		}
		return 0, &nitrate.InvalidArgumentError{What: "test run stop date", Value: v}
	}
}

// ParseRunStatus accepts RUNNING, FINISHED, "None" or a stop date.
func ParseRunStatus(s string) (RunStatus, error) {
	switch {
	case s == "" || s == "None" || strings.EqualFold(s, "RUNNING") || s == "0":
		return RunRunning, nil
	case strings.EqualFold(s, "FINISHED") || s == "1" || stopDate.MatchString(s):
		return RunFinished, nil
	}
	return 0, &nitrate.InvalidArgumentError{What: "test run status", Value: s}
}

// ID returns the numeric id.
func (s RunStatus) ID() int { return int(s) }

func (s RunStatus) String() string {
	if s == RunFinished {
		return "FINISHED"
	}
	return "RUNNING"
}

// --- Test case status ---

// CaseStatus is the review state of a test case.
type CaseStatus int

var caseStatusNames = []string{"PAD", "PROPOSED", "CONFIRMED", "DISABLED", "NEED_UPDATE"}

const (
	CaseProposed   CaseStatus = 1
	CaseConfirmed  CaseStatus = 2
	CaseDisabled   CaseStatus = 3
	CaseNeedUpdate CaseStatus = 4
)

// CaseStatusByID validates a case status id.
func CaseStatusByID(id int) (CaseStatus, error) {
	if id < 1 || id >= len(caseStatusNames) {
		return 0, &nitrate.InvalidArgumentError{What: "test case status id", Value: id}
	}
	return CaseStatus(id), nil
}

// ParseCaseStatus looks up a case status by name.
func ParseCaseStatus(name string) (CaseStatus, error) {
	i := slices.Index(caseStatusNames, strings.ToUpper(name))
	if i < 1 {
		return 0, &nitrate.InvalidArgumentError{What: "test case status", Value: name}
	}
	return CaseStatus(i), nil
}

// ID returns the numeric id.
func (s CaseStatus) ID() int { return int(s) }

func (s CaseStatus) String() string {
	if s >= 0 && int(s) < len(caseStatusNames) {
		return caseStatusNames[s]
	}
	return fmt.Sprintf("CaseStatus(%d)", int(s))
}

// --- Case run status ---

// Status is the result of one case run.
type Status int

var statusNames = []string{"PAD", "IDLE", "PASSED", "FAILED", "RUNNING", "PAUSED", "BLOCKED", "ERROR", "WAIVED"}

var statusColors = []Color{None, Blue, LightGreen, LightRed, Green, Yellow, Red, Magenta, LightCyan}

const (
	StatusIdle    Status = 1
	StatusPassed  Status = 2
	StatusFailed  Status = 3
	StatusRunning Status = 4
	StatusPaused  Status = 5
	StatusBlocked Status = 6
	StatusError   Status = 7
	StatusWaived  Status = 8
)

// StatusByID validates a case run status id.
func StatusByID(id int) (Status, error) {
	if id < 1 || id >= len(statusNames) {
		return 0, &nitrate.InvalidArgumentError{What: "case run status id", Value: id}
	}
	return Status(id), nil
}

// ParseStatus looks up a case run status by name.
func ParseStatus(name string) (Status, error) {
	i := slices.Index(statusNames, strings.ToUpper(name))
	if i < 1 {
		return 0, &nitrate.InvalidArgumentError{What: "case run status", Value: name}
	}
	return Status(i), nil
}

// ID returns the numeric id.
func (s Status) ID() int { return int(s) }

func (s Status) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Short returns the four letter name used in listings.
func (s Status) Short() string {
	name := s.String()
	if len(name) > 4 {
		return name[:4]
	}
	return name
}

// Color returns the display colour.
func (s Status) Color() Color {
	if s >= 0 && int(s) < len(statusColors) {
		return statusColors[s]
	}
	return None
}
