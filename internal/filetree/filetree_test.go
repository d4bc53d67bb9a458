package filetree

import (
	"reflect"
	"sort"
	"testing"

	"forgebench/engine/internal/steps"
)

func createStep(path, code string) steps.Step {
	return steps.Step{Type: steps.CreateFile, Status: steps.StatusPending, Path: path, Code: code}
}

func sortedEntries(entries []Entry) []Entry {
	out := append([]Entry(nil), entries...)
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func TestUpsertCreatesIntermediateFolders(t *testing.T) {
	tree := Upsert(nil, []string{"src", "components", "App.jsx"}, "app")
	if len(tree) != 1 || tree[0].Type != TypeFolder || tree[0].Path != "/src" {
		t.Fatalf("expected /src folder, got %+v", tree)
	}
	components := tree[0].Children[0]
	if components.Path != "/src/components" || components.Type != TypeFolder {
		t.Fatalf("expected /src/components folder, got %+v", components)
	}
	file := components.Children[0]
	if file.Path != "/src/components/App.jsx" || file.Content != "app" || file.Children != nil {
		t.Fatalf("unexpected file node: %+v", file)
	}
}

func TestApplyStepsIsIdempotent(t *testing.T) {
	log := []steps.Step{createStep("src/index.js", "console.log(1)")}
	once, applied := ApplySteps(nil, log)
	if !applied {
		t.Fatalf("expected step applied")
	}
	twice, _ := ApplySteps(once, log)
	if !reflect.DeepEqual(Flatten(once), Flatten(twice)) {
		t.Fatalf("expected identical flatten, got %v vs %v", Flatten(once), Flatten(twice))
	}
	if len(twice) != 1 || len(twice[0].Children) != 1 {
		t.Fatalf("expected no duplicate nodes, got %+v", twice)
	}
}

func TestApplyStepsReplacesContent(t *testing.T) {
	tree, _ := ApplySteps(nil, []steps.Step{createStep("/index.js", "a")})
	tree, _ = ApplySteps(tree, []steps.Step{createStep("/index.js", "b")})
	flat := Flatten(tree)
	if len(flat) != 1 || flat[0].Content != "b" {
		t.Fatalf("expected replaced content, got %v", flat)
	}
}

func TestApplyStepsSkipsNonPendingAndOtherTypes(t *testing.T) {
	log := []steps.Step{
		{Type: steps.CreateFile, Status: steps.StatusCompleted, Path: "done.js", Code: "x"},
		{Type: steps.RunScript, Status: steps.StatusPending, Code: "npm install"},
		{Type: steps.DeleteFile, Status: steps.StatusPending, Path: "old.js"},
		{Type: steps.CreateFolder, Status: steps.StatusPending, Title: "Project Files"},
	}
	tree, applied := ApplySteps(nil, log)
	if applied {
		t.Fatalf("expected nothing applied")
	}
	if len(tree) != 0 {
		t.Fatalf("expected empty tree, got %+v", tree)
	}
}

func TestUpsertDoesNotMutateInput(t *testing.T) {
	original, _ := ApplySteps(nil, []steps.Step{
		createStep("src/a.js", "a"),
		createStep("src/b.js", "b"),
		createStep("README.md", "readme"),
	})
	before := Flatten(original)

	next := Upsert(original, []string{"src", "a.js"}, "changed")
	next = Upsert(next, []string{"src", "nested", "c.js"}, "c")
	_ = UpdateFileByPath(next, "/README.md", "edited")

	if !reflect.DeepEqual(before, Flatten(original)) {
		t.Fatalf("original tree mutated: %v", Flatten(original))
	}
	if content := findContent(t, next, "/src/a.js"); content != "changed" {
		t.Fatalf("expected changed content, got %q", content)
	}
}

func TestUpsertSharesUntouchedSiblings(t *testing.T) {
	tree, _ := ApplySteps(nil, []steps.Step{
		createStep("src/a.js", "a"),
		createStep("lib/b.js", "b"),
	})
	next := Upsert(tree, []string{"src", "a.js"}, "a2")
	if &next[1].Children[0] != &tree[1].Children[0] {
		t.Fatalf("expected untouched subtree to be shared")
	}
}

func TestUpdateFileByPath(t *testing.T) {
	tree, _ := ApplySteps(nil, []steps.Step{createStep("src/main.js", "v1")})
	updated := UpdateFileByPath(tree, "/src/main.js", "v2")
	if content := findContent(t, updated, "/src/main.js"); content != "v2" {
		t.Fatalf("expected v2, got %q", content)
	}
	missing := UpdateFileByPath(tree, "/src/missing.js", "x")
	if !reflect.DeepEqual(missing, tree) {
		t.Fatalf("expected unchanged tree for missing path")
	}
	if len(Flatten(missing)) != 1 {
		t.Fatalf("update must not create files")
	}
}

func TestFlattenSkipsEmptyFolders(t *testing.T) {
	tree := []Node{
		{Name: "empty", Type: TypeFolder, Path: "/empty"},
		{Name: "a.txt", Type: TypeFile, Path: "/a.txt", Content: "a"},
	}
	flat := Flatten(tree)
	if len(flat) != 1 || flat[0].Path != "/a.txt" {
		t.Fatalf("unexpected flatten: %v", flat)
	}
}

func TestBuildInvertsFlatten(t *testing.T) {
	tree, _ := ApplySteps(nil, []steps.Step{
		createStep("package.json", "{}"),
		createStep("src/App.jsx", "app"),
		createStep("src/lib/util.js", "util"),
		createStep("index.html", "<html></html>"),
	})
	rebuilt := Build(Flatten(tree))
	if !reflect.DeepEqual(sortedEntries(Flatten(tree)), sortedEntries(Flatten(rebuilt))) {
		t.Fatalf("round trip mismatch: %v vs %v", Flatten(tree), Flatten(rebuilt))
	}
	if !reflect.DeepEqual(tree, rebuilt) {
		t.Fatalf("expected identical structure, got %+v", rebuilt)
	}
}

func TestDiff(t *testing.T) {
	prev := []Entry{{Path: "a", Content: "1"}, {Path: "b", Content: "2"}}
	curr := []Entry{{Path: "a", Content: "1"}, {Path: "b", Content: "3"}, {Path: "c", Content: "4"}}
	got := Diff(prev, curr)
	want := []Entry{{Path: "b", Content: "3"}, {Path: "c", Content: "4"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestDiffIgnoresDeletions(t *testing.T) {
	prev := []Entry{{Path: "a", Content: "1"}, {Path: "gone", Content: "x"}}
	curr := []Entry{{Path: "a", Content: "1"}}
	if got := Diff(prev, curr); len(got) != 0 {
		t.Fatalf("expected no changes, got %v", got)
	}
}

func TestManifestChanged(t *testing.T) {
	prev := []Entry{{Path: ManifestPath, Content: `{"x":1}`}, {Path: "/src/app.js", Content: "a"}}
	curr := []Entry{{Path: ManifestPath, Content: `{"x":2}`}, {Path: "/src/app.js", Content: "a"}}
	if !ManifestChanged(prev, curr) {
		t.Fatalf("expected manifest change")
	}
	same := []Entry{{Path: ManifestPath, Content: `{"x":1}`}, {Path: "/src/app.js", Content: "b"}}
	if ManifestChanged(prev, same) {
		t.Fatalf("expected no manifest change")
	}
	if !ManifestChanged(nil, prev) {
		t.Fatalf("expected added manifest to count as change")
	}
	if !ManifestChanged(prev, []Entry{{Path: "/src/app.js", Content: "a"}}) {
		t.Fatalf("expected removed manifest to count as change")
	}
	if ManifestChanged(nil, nil) {
		t.Fatalf("expected no change without manifest")
	}
}

func TestMountStructure(t *testing.T) {
	tree, _ := ApplySteps(nil, []steps.Step{
		createStep("package.json", "{}"),
		createStep("src/main.js", "main"),
	})
	mount := MountStructure(tree)
	if mount["package.json"].File == nil || mount["package.json"].File.Contents != "{}" {
		t.Fatalf("expected package.json file entry, got %+v", mount["package.json"])
	}
	src := mount["src"]
	if src.File != nil || src.Directory["main.js"].File.Contents != "main" {
		t.Fatalf("expected src directory, got %+v", src)
	}
	var paths []string
	if err := mount.Walk(func(path string, entry MountEntry) error {
		if entry.File != nil {
			paths = append(paths, path)
		}
		return nil
	}); err != nil {
		t.Fatalf("walk: %v", err)
	}
	sort.Strings(paths)
	if !reflect.DeepEqual(paths, []string{"/package.json", "/src/main.js"}) {
		t.Fatalf("unexpected walk paths: %v", paths)
	}
}

func TestFind(t *testing.T) {
	tree, _ := ApplySteps(nil, []steps.Step{createStep("src/a/b.js", "b")})
	node, ok := Find(tree, "src/a/b.js")
	if !ok || node.Content != "b" {
		t.Fatalf("expected file, got %+v %v", node, ok)
	}
	if _, ok := Find(tree, "/src/a"); !ok {
		t.Fatalf("expected folder")
	}
	if _, ok := Find(tree, "/src/missing"); ok {
		t.Fatalf("expected missing")
	}
}

func findContent(t *testing.T, tree []Node, path string) string {
	t.Helper()
	node, ok := Find(tree, path)
	if !ok {
		t.Fatalf("missing %s", path)
	}
	return node.Content
}

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"src/App.jsx":     "/src/App.jsx",
		"//src//App.jsx/": "/src/App.jsx",
		"/package.json":   "/package.json",
		"":                "/",
	}
	for in, want := range cases {
		if got := NormalizePath(in); got != want {
			t.Fatalf("NormalizePath(%q) = %q, want %q", in, got, want)
		}
	}
}
