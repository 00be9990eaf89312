package pulse

import "strings"

// LineChanges is the heuristic line delta between two versions of a file.
type LineChanges struct {
	Additions int
	Deletions int
}

// Diff estimates added and deleted lines between old and new content.
//
// A change in line count is attributed entirely to additions or deletions.
// With equal line counts the set difference of lines is used, and an equal
// nonzero count on both sides (a pure in-place modification) reports {1,1}.
func Diff(old, new string) LineChanges {
	if old == "" || old == new {
		return LineChanges{}
	}

	oldLines := splitLines(old)
	newLines := splitLines(new)

	if delta := len(newLines) - len(oldLines); delta != 0 {
		if delta > 0 {
			return LineChanges{Additions: delta}
		}
		return LineChanges{Deletions: -delta}
	}

	oldSet := make(map[string]struct{}, len(oldLines))
	for _, l := range oldLines {
		oldSet[l] = struct{}{}
	}
	newSet := make(map[string]struct{}, len(newLines))
	for _, l := range newLines {
		newSet[l] = struct{}{}
	}

	var c LineChanges
	for _, l := range newLines {
		if _, ok := oldSet[l]; !ok {
			c.Additions++
		}
	}
	for _, l := range oldLines {
		if _, ok := newSet[l]; !ok {
			c.Deletions++
		}
	}

	if c.Additions == c.Deletions && c.Additions > 0 {
		return LineChanges{Additions: 1, Deletions: 1}
	}
	return c
}

// CountLines returns the number of lines in content. Empty content has zero.
func CountLines(content string) int {
	if content == "" {
		return 0
	}
	return len(splitLines(content))
}

func splitLines(s string) []string {
	return strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
}
