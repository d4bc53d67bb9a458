// Package modifications renders user edits made since the last generation
// as a block that is prepended to the next prompt.
package modifications

import (
	"strings"

	"forgebench/engine/internal/filetree"
)

// WorkDir is where the project lives inside the sandbox.
const WorkDir = "/home/project"

const (
	openTag  = "<bolt_file_modifications>"
	closeTag = "</bolt_file_modifications>"
)

// Block lists every file of curr that is new or changed relative to prev,
// with full contents. It returns "" when nothing changed.
func Block(prev, curr []filetree.Entry) string {
	changed := filetree.Diff(prev, curr)
	if len(changed) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(openTag)
	b.WriteString("\n")
	for _, entry := range changed {
		b.WriteString(`<file path="`)
		b.WriteString(SandboxPath(entry.Path))
		b.WriteString("\">\n")
		b.WriteString(entry.Content)
		b.WriteString("</file>\n")
	}
	b.WriteString(closeTag)
	return b.String()
}

// WithPrompt prepends block to prompt.
func WithPrompt(block, prompt string) string {
	if block == "" {
		return prompt
	}
	return block + "\n\n" + prompt
}

// SandboxPath maps a tree path to its absolute location in the sandbox.
func SandboxPath(path string) string {
	return WorkDir + "/" + strings.TrimLeft(path, "/")
}
