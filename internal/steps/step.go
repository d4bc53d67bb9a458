package steps

import (
	"encoding/json"
	"fmt"
)

// Type is the kind of mutation a step describes.
type Type int

const (
	CreateFile Type = iota
	CreateFolder
	EditFile
	DeleteFile
	RunScript
)

var typeNames = map[Type]string{
	CreateFile:   "CreateFile",
	CreateFolder: "CreateFolder",
	EditFile:     "EditFile",
	DeleteFile:   "DeleteFile",
	RunScript:    "RunScript",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

func (t Type) MarshalJSON() ([]byte, error) {
	name, ok := typeNames[t]
	if !ok {
		return nil, fmt.Errorf("unknown step type %d", int(t))
	}
	return json.Marshal(name)
}

func (t *Type) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for value, candidate := range typeNames {
		if candidate == name {
			*t = value
			return nil
		}
	}
	return fmt.Errorf("unknown step type %q", name)
}

// Status is the lifecycle of a step.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
)

// Step is one externally authored mutation. Code holds file content for
// file steps and the command line for RunScript.
type Step struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Type        Type   `json:"type"`
	Status      Status `json:"status"`
	Code        string `json:"code,omitempty"`
	Path        string `json:"path,omitempty"`
}

// Clone returns a copy of the log that shares nothing with the input.
func Clone(log []Step) []Step {
	if log == nil {
		return nil
	}
	out := make([]Step, len(log))
	copy(out, log)
	return out
}
