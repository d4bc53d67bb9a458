package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"forgebench/engine/internal/filetree"
	"forgebench/engine/internal/snapshot"
)

func writeArchive(t *testing.T) string {
	t.Helper()
	store := snapshot.NewStore()
	tree := filetree.Build([]filetree.Entry{
		{Path: "/package.json", Content: `{"name":"demo"}`},
		{Path: "/src/App.jsx", Content: "export default function App() {}"},
	})
	if _, err := store.CreateCheckpoint(tree, nil, nil, "Project template (react)"); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	path := filepath.Join(t.TempDir(), "demo.fbsession")
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer file.Close()
	if err := store.Export(file); err != nil {
		t.Fatalf("export: %v", err)
	}
	return path
}

func TestInspectPrintsCheckpoints(t *testing.T) {
	path := writeArchive(t)
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer file.Close()
	archive, err := snapshot.ReadArchive(file)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	inspectFiles = true
	defer func() { inspectFiles = false }()
	var out bytes.Buffer
	printArchive(&out, path, archive)
	if err := verifyArchive(&out, path); err != nil {
		t.Fatalf("verify: %v", err)
	}
	text := out.String()
	for _, want := range []string{"Checkpoints (1):", "Project template (react)", "/src/App.jsx", "Blobs (2):", "verified"} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in output:\n%s", want, text)
		}
	}
}

func TestInspectCommandRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.fbsession")
	if err := os.WriteFile(path, []byte("garbage"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"inspect", path})
	if err := rootCmd.Execute(); err == nil {
		t.Fatalf("expected inspect to fail on garbage")
	}
}
