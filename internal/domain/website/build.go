package website

// BuildStatus is the finite-state lifecycle value of a website's
// build/runtime process.
type BuildStatus string

const (
	BuildPending  BuildStatus = "pending"
	BuildBuilding BuildStatus = "building"
	BuildRunning  BuildStatus = "running"
	BuildFailed   BuildStatus = "failed"
	BuildStopped  BuildStatus = "stopped"
)

// transitions is the set of legal build-status edges. stopped and failed
// are only left through an explicit restart (→ building), and static sites
// additionally take pending → running directly since no process is launched.
var transitions = map[BuildStatus][]BuildStatus{
	BuildPending:  {BuildBuilding, BuildRunning},
	BuildBuilding: {BuildRunning, BuildFailed, BuildStopped},
	BuildRunning:  {BuildStopped, BuildFailed},
	BuildStopped:  {BuildBuilding, BuildRunning},
	BuildFailed:   {BuildBuilding, BuildRunning},
}

// CanTransition reports whether moving from one build status to another is legal.
// Self-transitions are rejected.
func CanTransition(from, to BuildStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the status requires an explicit restart to leave.
func (s BuildStatus) Terminal() bool {
	return s == BuildStopped || s == BuildFailed
}
