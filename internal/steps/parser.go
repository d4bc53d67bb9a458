package steps

import (
	"regexp"
	"strconv"
	"strings"
)

const defaultArtifactTitle = "Project Files"

var (
	artifactPattern = regexp.MustCompile(`(?s)<boltArtifact([^>]*)>(.*?)</boltArtifact>`)
	actionPattern   = regexp.MustCompile(`(?s)<boltAction([^>]*)>(.*?)</boltAction>`)
	attrPattern     = regexp.MustCompile(`([A-Za-z][\w-]*)\s*=\s*"([^"]*)"`)
)

// Parse extracts steps from assistant output. Each artifact yields a
// container CreateFolder step followed by one step per action. Steps are
// pending and carry provisional IDs 1..n; text outside artifacts is ignored.
func Parse(text string) []Step {
	var out []Step
	next := 1
	add := func(step Step) {
		step.ID = strconv.Itoa(next)
		step.Status = StatusPending
		next++
		out = append(out, step)
	}
	for _, artifact := range artifactPattern.FindAllStringSubmatch(text, -1) {
		attrs := parseAttrs(artifact[1])
		title := attrs["title"]
		if title == "" {
			title = defaultArtifactTitle
		}
		add(Step{Title: title, Type: CreateFolder})

		for _, action := range actionPattern.FindAllStringSubmatch(artifact[2], -1) {
			actionAttrs := parseAttrs(action[1])
			body := strings.TrimSpace(action[2])
			switch actionAttrs["type"] {
			case "file":
				path := actionAttrs["filePath"]
				name := path
				if name == "" {
					name = "file"
				}
				add(Step{
					Title: "Create " + name,
					Type:  CreateFile,
					Code:  body,
					Path:  path,
				})
			case "shell":
				add(Step{
					Title:       "Run command",
					Description: body,
					Type:        RunScript,
					Code:        body,
				})
			}
		}
	}
	return out
}

func parseAttrs(raw string) map[string]string {
	attrs := make(map[string]string)
	for _, match := range attrPattern.FindAllStringSubmatch(raw, -1) {
		attrs[match[1]] = match[2]
	}
	return attrs
}
