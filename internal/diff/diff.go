// Package diff renders line-level differences between two versions of a
// file for checkpoint review.
package diff

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

type Line struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	OldLine int    `json:"old_line,omitempty"`
	NewLine int    `json:"new_line,omitempty"`
}

type Hunk struct {
	OldStart int    `json:"old_start"`
	NewStart int    `json:"new_start"`
	Lines    []Line `json:"lines"`
}

const (
	LineContext = "context"
	LineAdded   = "added"
	LineRemoved = "removed"
)

// File statuses reported by Files.
const (
	StatusAdded     = "added"
	StatusRemoved   = "removed"
	StatusModified  = "modified"
	StatusUnchanged = "unchanged"
)

// ContextLines is the number of unchanged lines kept around each change.
const ContextLines = 3

const MaxDiffLines = 5000

// Lines returns every line of before and after classified as context,
// added or removed, with 1-based line numbers.
func Lines(before, after string) []Line {
	dmp := diffmatchpatch.New()
	beforeChars, afterChars, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(beforeChars, afterChars, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	var lines []Line
	oldLine := 1
	newLine := 1
	for _, d := range diffs {
		chunkLines := strings.Split(d.Text, "\n")
		if len(chunkLines) > 0 && chunkLines[len(chunkLines)-1] == "" {
			chunkLines = chunkLines[:len(chunkLines)-1]
		}
		for _, line := range chunkLines {
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				lines = append(lines, Line{Type: LineContext, Text: line, OldLine: oldLine, NewLine: newLine})
				oldLine++
				newLine++
			case diffmatchpatch.DiffDelete:
				lines = append(lines, Line{Type: LineRemoved, Text: line, OldLine: oldLine})
				oldLine++
			case diffmatchpatch.DiffInsert:
				lines = append(lines, Line{Type: LineAdded, Text: line, NewLine: newLine})
				newLine++
			}
		}
	}
	return lines
}

// TextDiff groups the changed lines of before and after into hunks with
// ContextLines of surrounding context. Identical inputs yield no hunks.
func TextDiff(before, after string) []Hunk {
	lines := Lines(before, after)
	var hunks []Hunk
	var current *Hunk
	lastChange := -1
	for i, line := range lines {
		if line.Type == LineContext {
			continue
		}
		start := max(i-ContextLines, 0)
		if current != nil && start <= lastChange+ContextLines+1 {
			current.Lines = append(current.Lines, lines[lastChange+1:i+1]...)
		} else {
			if current != nil {
				current.Lines = append(current.Lines, trailing(lines, lastChange)...)
				hunks = append(hunks, *current)
			}
			current = &Hunk{OldStart: startLine(lines, start, true), NewStart: startLine(lines, start, false)}
			current.Lines = append(current.Lines, lines[start:i+1]...)
		}
		lastChange = i
	}
	if current != nil {
		current.Lines = append(current.Lines, trailing(lines, lastChange)...)
		hunks = append(hunks, *current)
	}
	return hunks
}

// TextDiffWithLimit is TextDiff with a size guard. It reports true instead
// of diffing when the inputs together exceed maxLines.
func TextDiffWithLimit(before, after string, maxLines int) ([]Hunk, bool) {
	if maxLines <= 0 {
		maxLines = MaxDiffLines
	}
	if lineCount(before)+lineCount(after) > maxLines {
		return nil, true
	}
	return TextDiff(before, after), false
}

// Status classifies a file given whether it exists on each side.
func Status(before, after string, inBefore, inAfter bool) string {
	switch {
	case !inBefore && inAfter:
		return StatusAdded
	case inBefore && !inAfter:
		return StatusRemoved
	case before != after:
		return StatusModified
	default:
		return StatusUnchanged
	}
}

func trailing(lines []Line, lastChange int) []Line {
	end := min(lastChange+1+ContextLines, len(lines))
	return lines[lastChange+1 : end]
}

// startLine finds the line number a hunk starting at idx begins at on one
// side. Lines absent on that side take the number of the next line present.
func startLine(lines []Line, idx int, old bool) int {
	for _, line := range lines[idx:] {
		if old && line.OldLine > 0 {
			return line.OldLine
		}
		if !old && line.NewLine > 0 {
			return line.NewLine
		}
	}
	last := 0
	for _, line := range lines {
		if old && line.OldLine > last {
			last = line.OldLine
		}
		if !old && line.NewLine > last {
			last = line.NewLine
		}
	}
	return last + 1
}

func lineCount(value string) int {
	if value == "" {
		return 0
	}
	return strings.Count(value, "\n") + 1
}
