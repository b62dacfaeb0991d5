package app

// Stage is a step of a single run.
type Stage int

const (
	StageConfiguring Stage = iota
	StageWindowComputed
	StageFetching
	StageRendering
	StageNotifying
	StageCleanup
	StageDone
	StageFailed
)

var stageNames = [...]string{
	StageConfiguring:    "configuring",
	StageWindowComputed: "window-computed",
	StageFetching:       "fetching",
	StageRendering:      "rendering",
	StageNotifying:      "notifying",
	StageCleanup:        "cleanup",
	StageDone:           "done",
	StageFailed:         "failed",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "unknown"
	}
	return stageNames[s]
}
