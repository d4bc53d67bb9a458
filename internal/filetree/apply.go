package filetree

import "forgebench/engine/internal/steps"

// ApplySteps applies pending CreateFile steps in log order. Other step types
// are accepted but do not change the tree. applied is true when at least one
// step was applied.
func ApplySteps(tree []Node, log []steps.Step) ([]Node, bool) {
	result := tree
	applied := false
	for _, step := range log {
		if step.Status != steps.StatusPending || step.Type != steps.CreateFile {
			continue
		}
		result = Upsert(result, Segments(step.Path), step.Code)
		applied = true
	}
	return result, applied
}
