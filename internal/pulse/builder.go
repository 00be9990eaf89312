package pulse

import (
	"context"
	"path/filepath"
	"strings"
	"time"
)

// Snapshot is the editor state reported for one observation.
type Snapshot struct {
	FileName      string     `json:"file"`
	Type          EntityType `json:"type,omitempty"`
	WorkspaceRoot string     `json:"workspace,omitempty"`
	LanguageID    string     `json:"language,omitempty"`
	Content       string     `json:"content,omitempty"`
	LineCount     int        `json:"lines,omitempty"`
	CursorLine    int        `json:"line,omitempty"`
	CursorColumn  int        `json:"column,omitempty"`
	IsDirty       bool       `json:"dirty,omitempty"`
}

// SystemInfo supplies machine and repository metadata. Every method is best
// effort: failures are reported as empty strings.
type SystemInfo interface {
	MachineID() string
	Branch(ctx context.Context, path string) string
	Dependencies(ctx context.Context, path, root string) string
	Language(fileName string, content []byte) string
}

// Builder turns snapshots into pulses.
type Builder struct {
	System SystemInfo
}

// Build returns the pulse observed at now. previous is the content last seen
// for the same entity, or "" when there is no baseline.
func (b *Builder) Build(ctx context.Context, snap Snapshot, state State, previous string, now time.Time) Pulse {
	changes := Diff(previous, snap.Content)

	typ := snap.Type
	if typ == "" {
		typ = EntityFile
	}
	if state == "" {
		state = StateCoding
	}

	lines := snap.LineCount
	if lines == 0 {
		lines = CountLines(snap.Content)
	}

	p := Pulse{
		Entity:           snap.FileName,
		Type:             typ,
		State:            state,
		Time:             now.UnixMilli(),
		Project:          ProjectName(snap.WorkspaceRoot),
		ProjectRootCount: RootDepth(snap.WorkspaceRoot),
		Language:         snap.LanguageID,
		LineAdditions:    changes.Additions,
		LineDeletions:    changes.Deletions,
		Lines:            lines,
		LineNo:           snap.CursorLine,
		CursorPos:        snap.CursorColumn,
		IsDirty:          snap.IsDirty,
		Content:          snap.Content,
	}

	if b.System != nil {
		p.Machine = b.System.MachineID()
		if typ == EntityFile {
			dir := filepath.Dir(snap.FileName)
			p.Branch = b.System.Branch(ctx, dir)
			p.Dependencies = b.System.Dependencies(ctx, dir, snap.WorkspaceRoot)
			if p.Language == "" {
				p.Language = b.System.Language(snap.FileName, []byte(snap.Content))
			}
		}
	}
	return p
}

// ProjectName is the base name of the workspace root, or "" with no workspace.
func ProjectName(root string) string {
	if root == "" {
		return ""
	}
	return filepath.Base(filepath.Clean(root))
}

// RootDepth counts the path segments of the workspace root. It is 0 when there
// is no workspace.
func RootDepth(root string) int {
	if root == "" {
		return 0
	}
	clean := filepath.ToSlash(filepath.Clean(root))
	n := 0
	for _, part := range strings.Split(clean, "/") {
		if part != "" && part != "." {
			n++
		}
	}
	return n
}
