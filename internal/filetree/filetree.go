package filetree

import "strings"

// ManifestPath is the dependency manifest. A change to it forces a
// reinstall instead of a hot sync.
const ManifestPath = "/package.json"

const (
	TypeFile   = "file"
	TypeFolder = "folder"
)

// Node is one file or folder in a project tree. Path is the slash-joined
// chain of ancestor names with a leading slash.
type Node struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Path     string `json:"path"`
	Content  string `json:"content,omitempty"`
	Children []Node `json:"children,omitempty"`
}

// Entry is a flattened file.
type Entry struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (n Node) IsFile() bool {
	return n.Type == TypeFile
}

func (n Node) IsFolder() bool {
	return n.Type == TypeFolder
}

// Flatten lists every file in the tree depth-first. Folders contribute only
// their descendants.
func Flatten(tree []Node) []Entry {
	return flatten(tree, "", nil)
}

func flatten(nodes []Node, parent string, out []Entry) []Entry {
	for _, node := range nodes {
		current := joinPath(parent, node.Name)
		switch node.Type {
		case TypeFile:
			out = append(out, Entry{Path: current, Content: node.Content})
		case TypeFolder:
			out = flatten(node.Children, current, out)
		}
	}
	return out
}

// Upsert writes content at the path described by segments and returns a new
// tree. Missing folders are created; an existing file has its content
// replaced. Only nodes along the touched path are copied.
func Upsert(tree []Node, segments []string, content string) []Node {
	return upsert(tree, segments, "", content)
}

func upsert(nodes []Node, segments []string, built, content string) []Node {
	if len(segments) == 0 {
		return nodes
	}
	name := segments[0]
	rest := segments[1:]
	current := joinPath(built, name)
	idx := indexOf(nodes, current)

	if len(rest) == 0 {
		if idx >= 0 {
			out := cloneNodes(nodes)
			out[idx].Content = content
			return out
		}
		out := make([]Node, len(nodes), len(nodes)+1)
		copy(out, nodes)
		return append(out, Node{Name: name, Type: TypeFile, Path: current, Content: content})
	}

	if idx >= 0 {
		out := cloneNodes(nodes)
		out[idx].Children = upsert(nodes[idx].Children, rest, current, content)
		return out
	}
	out := make([]Node, len(nodes), len(nodes)+1)
	copy(out, nodes)
	return append(out, Node{
		Name:     name,
		Type:     TypeFolder,
		Path:     current,
		Children: upsert(nil, rest, current, content),
	})
}

// UpdateFileByPath replaces the content of an existing file. If no file lives
// at path the input is returned unchanged.
func UpdateFileByPath(tree []Node, path, content string) []Node {
	out, ok := updateFile(tree, "", NormalizePath(path), content)
	if !ok {
		return tree
	}
	return out
}

func updateFile(nodes []Node, parent, target, content string) ([]Node, bool) {
	for i, node := range nodes {
		current := joinPath(parent, node.Name)
		if node.Type == TypeFile && current == target {
			out := cloneNodes(nodes)
			out[i].Content = content
			return out, true
		}
		if node.Type == TypeFolder && strings.HasPrefix(target, current+"/") {
			children, ok := updateFile(node.Children, current, target, content)
			if !ok {
				continue
			}
			out := cloneNodes(nodes)
			out[i].Children = children
			return out, true
		}
	}
	return nodes, false
}

// Find returns the node at path.
func Find(tree []Node, path string) (Node, bool) {
	target := NormalizePath(path)
	nodes := tree
	parent := ""
	for {
		found := false
		for _, node := range nodes {
			current := joinPath(parent, node.Name)
			if current == target {
				return node, true
			}
			if node.Type == TypeFolder && strings.HasPrefix(target, current+"/") {
				nodes = node.Children
				parent = current
				found = true
				break
			}
		}
		if !found {
			return Node{}, false
		}
	}
}

// Build reconstructs a tree from flattened entries. Intermediate folders are
// created from path segments; siblings keep first-seen order.
func Build(entries []Entry) []Node {
	var tree []Node
	for _, entry := range entries {
		tree = Upsert(tree, Segments(entry.Path), entry.Content)
	}
	return tree
}

// Segments splits a slash-separated path, dropping empty segments.
func Segments(path string) []string {
	parts := strings.Split(path, "/")
	out := parts[:0:0]
	for _, part := range parts {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// NormalizePath returns path as an absolute tree path with empty segments
// removed.
func NormalizePath(path string) string {
	return "/" + strings.Join(Segments(path), "/")
}

func joinPath(parent, name string) string {
	return parent + "/" + name
}

func indexOf(nodes []Node, path string) int {
	for i, node := range nodes {
		if node.Path == path {
			return i
		}
	}
	return -1
}

func cloneNodes(nodes []Node) []Node {
	out := make([]Node, len(nodes))
	copy(out, nodes)
	return out
}
