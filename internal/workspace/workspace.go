package workspace

import (
	"strconv"

	"forgebench/engine/internal/filetree"
	"forgebench/engine/internal/llm"
	"forgebench/engine/internal/steps"
)

type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseBuilding Phase = "building"
	PhaseReady    Phase = "ready"
)

// State is the committed workspace. It is treated as a value: Reduce never
// mutates the State it is given.
type State struct {
	Phase    Phase           `json:"phase"`
	Files    []filetree.Node `json:"files"`
	Steps    []steps.Step    `json:"steps"`
	Messages []llm.Message   `json:"messages"`
}

func Initial() State {
	return State{Phase: PhaseIdle}
}

// Building reports whether the preview should hold off on starting.
func (s State) Building() bool {
	return s.Phase != PhaseReady
}

// Action is a workspace transition.
type Action interface {
	action()
}

// TemplateLoaded applies the base project artifact.
type TemplateLoaded struct {
	XML string
}

type StartBuilding struct{}

// CodeGenerated applies a generation response and replaces the conversation.
type CodeGenerated struct {
	XML      string
	Messages []llm.Message
}

type EditFile struct {
	Path    string
	Content string
}

// RestoreCheckpoint replaces the workspace with checkpointed content.
type RestoreCheckpoint struct {
	Files    []filetree.Node
	Steps    []steps.Step
	Messages []llm.Message
}

// GenerationFailed leaves the building phase after a failed request.
type GenerationFailed struct{}

func (TemplateLoaded) action()    {}
func (StartBuilding) action()     {}
func (CodeGenerated) action()     {}
func (EditFile) action()          {}
func (RestoreCheckpoint) action() {}
func (GenerationFailed) action()  {}

// Reduce returns the state that follows action. Unknown actions return the
// input.
func Reduce(state State, action Action) State {
	switch a := action.(type) {
	case TemplateLoaded:
		next := applyArtifact(state, a.XML)
		next.Phase = PhaseBuilding
		return next
	case StartBuilding:
		state.Phase = PhaseBuilding
		return state
	case CodeGenerated:
		next := applyArtifact(state, a.XML)
		next.Messages = llm.CloneMessages(a.Messages)
		next.Phase = PhaseReady
		return next
	case EditFile:
		state.Files = filetree.UpdateFileByPath(state.Files, a.Path, a.Content)
		return state
	case RestoreCheckpoint:
		return State{
			Phase:    PhaseReady,
			Files:    a.Files,
			Steps:    steps.Clone(a.Steps),
			Messages: llm.CloneMessages(a.Messages),
		}
	case GenerationFailed:
		if state.Phase == PhaseBuilding {
			state.Phase = PhaseReady
		}
		return state
	default:
		return state
	}
}

func applyArtifact(state State, xml string) State {
	parsed := steps.Parse(xml)
	if len(parsed) == 0 {
		return state
	}
	files, _ := filetree.ApplySteps(state.Files, parsed)

	log := make([]steps.Step, 0, len(state.Steps)+len(parsed))
	log = append(log, state.Steps...)
	for i, step := range parsed {
		step.ID = strconv.Itoa(len(state.Steps) + i + 1)
		step.Status = steps.StatusCompleted
		log = append(log, step)
	}
	state.Files = files
	state.Steps = log
	return state
}
