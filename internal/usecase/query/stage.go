package query

// Stage is a state of the query pipeline.
type Stage int

// Pipeline states in execution order. Failed is reachable from any state before Done.
const (
	StageSearching Stage = iota
	StageContextBuilding
	StageDrafting
	StageStyling
	StageSynthesizing
	StageDone
	StageFailed
)

var stageNames = [...]string{
	StageSearching:       "searching",
	StageContextBuilding: "context_building",
	StageDrafting:        "drafting",
	StageStyling:         "styling",
	StageSynthesizing:    "synthesizing",
	StageDone:            "done",
	StageFailed:          "failed",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "unknown"
	}
	return stageNames[s]
}

// Terminal reports whether no further transition is possible.
func (s Stage) Terminal() bool {
	return s == StageDone || s == StageFailed
}

// next returns the stage that follows s on success.
func (s Stage) next() Stage {
	if s.Terminal() {
		return s
	}
	return s + 1
}

// ArtifactMode selects how the downloadable audio is produced.
type ArtifactMode string

const (
	// ArtifactResynthesize issues a second synthesis request in MP3 for the artifact.
	ArtifactResynthesize ArtifactMode = "resynthesize"
	// ArtifactCapture persists the exact bytes that were streamed to the player.
	ArtifactCapture ArtifactMode = "capture"
)
