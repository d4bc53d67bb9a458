package filetree

// Diff returns the entries of curr that are new or whose content differs
// from prev. Deleted files are not reported. Order follows curr.
func Diff(prev, curr []Entry) []Entry {
	prevContent := make(map[string]string, len(prev))
	for _, entry := range prev {
		prevContent[entry.Path] = entry.Content
	}
	var changed []Entry
	for _, entry := range curr {
		content, ok := prevContent[entry.Path]
		if ok && content == entry.Content {
			continue
		}
		changed = append(changed, entry)
	}
	return changed
}

// ManifestChanged reports whether the manifest was added, removed or edited
// between two flattened snapshots.
func ManifestChanged(prev, curr []Entry) bool {
	before, hadBefore := lookup(prev, ManifestPath)
	after, hasAfter := lookup(curr, ManifestPath)
	if hadBefore != hasAfter {
		return true
	}
	if !hadBefore {
		return false
	}
	return before != after
}

// HasManifest reports whether the flattened snapshot contains the manifest.
func HasManifest(flat []Entry) bool {
	_, ok := lookup(flat, ManifestPath)
	return ok
}

func lookup(flat []Entry, path string) (string, bool) {
	for _, entry := range flat {
		if entry.Path == path {
			return entry.Content, true
		}
	}
	return "", false
}
