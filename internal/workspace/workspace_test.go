package workspace

import (
	"strconv"
	"testing"

	"forgebench/engine/internal/filetree"
	"forgebench/engine/internal/llm"
	"forgebench/engine/internal/steps"
)

const templateXML = `<boltArtifact id="project-import" title="Project Files">
<boltAction type="file" filePath="package.json">{"name":"demo"}</boltAction>
<boltAction type="file" filePath="src/index.js">console.log(1)</boltAction>
</boltArtifact>`

const generatedXML = `Here you go.
<boltArtifact id="todo" title="Todo App">
<boltAction type="file" filePath="src/index.js">console.log(2)</boltAction>
<boltAction type="shell">npm run dev</boltAction>
</boltArtifact>`

func TestTemplateLoaded(t *testing.T) {
	next := Reduce(Initial(), TemplateLoaded{XML: templateXML})
	if next.Phase != PhaseBuilding {
		t.Fatalf("expected building, got %s", next.Phase)
	}
	if len(filetree.Flatten(next.Files)) != 2 {
		t.Fatalf("expected 2 files, got %+v", filetree.Flatten(next.Files))
	}
	if len(next.Steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(next.Steps))
	}
	for i, step := range next.Steps {
		if step.Status != steps.StatusCompleted {
			t.Fatalf("step %d not completed: %+v", i, step)
		}
	}
}

func TestCodeGeneratedAssignsUniqueIDs(t *testing.T) {
	state := Reduce(Initial(), TemplateLoaded{XML: templateXML})
	state = Reduce(state, StartBuilding{})
	messages := []llm.Message{llm.UserMessage("make a todo app"), llm.AssistantMessage(generatedXML)}
	next := Reduce(state, CodeGenerated{XML: generatedXML, Messages: messages})

	if next.Phase != PhaseReady {
		t.Fatalf("expected ready, got %s", next.Phase)
	}
	seen := map[string]bool{}
	for i, step := range next.Steps {
		if seen[step.ID] {
			t.Fatalf("duplicate step id %s", step.ID)
		}
		seen[step.ID] = true
		if want := i + 1; step.ID != strconv.Itoa(want) {
			t.Fatalf("step %d: expected id %d, got %s", i, want, step.ID)
		}
	}
	node, ok := filetree.Find(next.Files, "/src/index.js")
	if !ok || node.Content != "console.log(2)" {
		t.Fatalf("expected updated index.js, got %+v", node)
	}
	if len(next.Messages) != 2 {
		t.Fatalf("expected messages replaced, got %d", len(next.Messages))
	}
	messages[0].Content = "mutated"
	if next.Messages[0].Content == "mutated" {
		t.Fatalf("messages alias the action payload")
	}
}

func TestReduceDoesNotMutateInput(t *testing.T) {
	state := Reduce(Initial(), TemplateLoaded{XML: templateXML})
	before := filetree.Flatten(state.Files)
	stepCount := len(state.Steps)

	_ = Reduce(state, CodeGenerated{XML: generatedXML})
	_ = Reduce(state, EditFile{Path: "/package.json", Content: "{}"})

	after := filetree.Flatten(state.Files)
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("input tree mutated at %s", before[i].Path)
		}
	}
	if len(state.Steps) != stepCount {
		t.Fatalf("input step log mutated")
	}
}

func TestEditFileKeepsPhase(t *testing.T) {
	state := Reduce(Initial(), TemplateLoaded{XML: templateXML})
	state = Reduce(state, CodeGenerated{XML: generatedXML})
	next := Reduce(state, EditFile{Path: "/package.json", Content: `{"name":"edited"}`})
	if next.Phase != PhaseReady {
		t.Fatalf("expected phase unchanged, got %s", next.Phase)
	}
	node, _ := filetree.Find(next.Files, "/package.json")
	if node.Content != `{"name":"edited"}` {
		t.Fatalf("expected edited content, got %q", node.Content)
	}
	missing := Reduce(state, EditFile{Path: "/nope.js", Content: "x"})
	if len(filetree.Flatten(missing.Files)) != len(filetree.Flatten(state.Files)) {
		t.Fatalf("editing a missing file must not create it")
	}
}

func TestRestoreCheckpointReplacesEverything(t *testing.T) {
	state := Reduce(Initial(), TemplateLoaded{XML: templateXML})
	files := filetree.Build([]filetree.Entry{{Path: "/only.txt", Content: "x"}})
	next := Reduce(state, RestoreCheckpoint{
		Files:    files,
		Steps:    []steps.Step{{ID: "1", Status: steps.StatusCompleted}},
		Messages: []llm.Message{llm.UserMessage("hi")},
	})
	if next.Phase != PhaseReady {
		t.Fatalf("expected ready, got %s", next.Phase)
	}
	if got := filetree.Flatten(next.Files); len(got) != 1 || got[0].Path != "/only.txt" {
		t.Fatalf("unexpected files: %+v", got)
	}
	if len(next.Steps) != 1 || len(next.Messages) != 1 {
		t.Fatalf("unexpected steps/messages: %+v %+v", next.Steps, next.Messages)
	}
}

func TestGenerationFailedLeavesBuilding(t *testing.T) {
	state := Reduce(Initial(), TemplateLoaded{XML: templateXML})
	state = Reduce(state, CodeGenerated{XML: generatedXML})
	state = Reduce(state, StartBuilding{})
	next := Reduce(state, GenerationFailed{})
	if next.Phase != PhaseReady {
		t.Fatalf("expected ready, got %s", next.Phase)
	}
	if len(next.Steps) != len(state.Steps) {
		t.Fatalf("steps changed on failure")
	}

	idle := Reduce(Initial(), GenerationFailed{})
	if idle.Phase != PhaseIdle {
		t.Fatalf("expected idle to stay idle, got %s", idle.Phase)
	}
}

type unknownAction struct{}

func (unknownAction) action() {}

func TestUnknownActionIsIdentity(t *testing.T) {
	state := Reduce(Initial(), TemplateLoaded{XML: templateXML})
	for _, action := range []Action{nil, unknownAction{}} {
		next := Reduce(state, action)
		if next.Phase != state.Phase || len(next.Steps) != len(state.Steps) {
			t.Fatalf("expected identity for %T", action)
		}
	}
}
