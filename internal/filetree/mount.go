package filetree

// MountTree is the nested structure handed to a sandbox mount: each key is a
// name within its folder.
type MountTree map[string]MountEntry

// MountEntry is either a directory or a file. Exactly one field is set.
type MountEntry struct {
	Directory MountTree  `json:"directory,omitempty"`
	File      *MountFile `json:"file,omitempty"`
}

type MountFile struct {
	Contents string `json:"contents"`
}

// MountStructure converts a tree into the mount layout.
func MountStructure(tree []Node) MountTree {
	out := make(MountTree, len(tree))
	for _, node := range tree {
		out[node.Name] = mountEntry(node)
	}
	return out
}

func mountEntry(node Node) MountEntry {
	if node.Type == TypeFolder {
		dir := make(MountTree, len(node.Children))
		for _, child := range node.Children {
			dir[child.Name] = mountEntry(child)
		}
		return MountEntry{Directory: dir}
	}
	return MountEntry{File: &MountFile{Contents: node.Content}}
}

// Walk visits every entry of a mount tree with its slash-prefixed path.
// Directories are visited before their contents.
func (t MountTree) Walk(fn func(path string, entry MountEntry) error) error {
	return t.walk("", fn)
}

func (t MountTree) walk(parent string, fn func(string, MountEntry) error) error {
	for name, entry := range t {
		current := joinPath(parent, name)
		if err := fn(current, entry); err != nil {
			return err
		}
		if entry.File == nil {
			if err := entry.Directory.walk(current, fn); err != nil {
				return err
			}
		}
	}
	return nil
}
