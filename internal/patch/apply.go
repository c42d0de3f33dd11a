package patch

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/crabmiau/loaf/internal/loaferr"
)

// Summary is the human-readable result of a successfully applied patch:
// one "A <path>" / "D <path>" / "M <path>" line per hunk, in hunk order.
type Summary struct {
	Lines []string
}

func (s Summary) String() string { return strings.Join(s.Lines, "\n") }

type replacement struct {
	startIndex int
	oldLength  int
	newLines   []string
}

type plannedOp struct {
	kind       HunkKind
	path       string
	movePath   string
	newContent string
}

// Apply resolves and applies every hunk in p against files rooted at root.
//
// Resolving the open question in spec.md §9: this implementation computes
// every file's new contents in memory first and only writes to disk once
// every hunk in the patch has resolved successfully, giving all-or-nothing
// semantics for the whole patch rather than the reference behaviour of
// writing each file as its own hunk resolves. Failure message strings are
// preserved unchanged so callers parsing them do not need to change.
func Apply(p *Patch, root string) (Summary, error) {
	ops := make([]plannedOp, 0, len(p.Hunks))
	for _, h := range p.Hunks {
		switch h.Kind {
		case HunkAdd:
			ops = append(ops, plannedOp{kind: HunkAdd, path: h.Add.Path, newContent: h.Add.Contents})
		case HunkDelete:
			full := resolvePath(root, h.Delete.Path)
			if _, err := os.Stat(full); err != nil {
				return Summary{}, loaferr.Wrap(loaferr.StorageError, "cannot delete "+h.Delete.Path, err).WithPath(h.Delete.Path)
			}
			ops = append(ops, plannedOp{kind: HunkDelete, path: h.Delete.Path})
		case HunkUpdate:
			content, err := computeUpdate(root, h.Update)
			if err != nil {
				return Summary{}, err
			}
			ops = append(ops, plannedOp{kind: HunkUpdate, path: h.Update.Path, movePath: h.Update.MovePath, newContent: content})
		}
	}

	lines := make([]string, 0, len(ops))
	for _, op := range ops {
		full := resolvePath(root, op.path)
		switch op.kind {
		case HunkAdd:
			if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
				return Summary{}, loaferr.Wrap(loaferr.StorageError, "creating directories for "+op.path, err)
			}
			if err := os.WriteFile(full, []byte(op.newContent), 0o644); err != nil {
				return Summary{}, loaferr.Wrap(loaferr.StorageError, "writing "+op.path, err)
			}
			lines = append(lines, "A "+op.path)
		case HunkDelete:
			if err := os.Remove(full); err != nil {
				return Summary{}, loaferr.Wrap(loaferr.StorageError, "deleting "+op.path, err)
			}
			lines = append(lines, "D "+op.path)
		case HunkUpdate:
			target := full
			if op.movePath != "" {
				target = resolvePath(root, op.movePath)
				if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
					return Summary{}, loaferr.Wrap(loaferr.StorageError, "creating directories for "+op.movePath, err)
				}
			}
			if err := os.WriteFile(target, []byte(op.newContent), 0o644); err != nil {
				return Summary{}, loaferr.Wrap(loaferr.StorageError, "writing "+op.path, err)
			}
			if op.movePath != "" {
				if err := os.Remove(full); err != nil {
					return Summary{}, loaferr.Wrap(loaferr.StorageError, "removing moved-from "+op.path, err)
				}
			}
			lines = append(lines, "M "+op.path)
		}
	}
	return Summary{Lines: lines}, nil
}

// resolvePath joins a patch-relative path under root; leading ".." segments
// are clamped so the result never escapes it (grounded on the teacher's
// workspace_files.go resolveSafePath).
func resolvePath(root, rel string) string {
	if root == "" {
		return rel
	}
	return filepath.Join(root, filepath.Clean(string(filepath.Separator)+rel))
}

func computeUpdate(root string, uf UpdateFile) (string, error) {
	full := resolvePath(root, uf.Path)
	raw, err := os.ReadFile(full)
	if err != nil {
		return "", loaferr.Wrap(loaferr.StorageError, "reading "+uf.Path, err).WithPath(uf.Path)
	}

	fileLines := strings.Split(strings.ReplaceAll(string(raw), "\r\n", "\n"), "\n")
	if len(fileLines) > 0 && fileLines[len(fileLines)-1] == "" {
		fileLines = fileLines[:len(fileLines)-1]
	}

	cursor := 0
	var replacements []replacement

	for _, chunk := range uf.Chunks {
		if chunk.ChangeContext != "" {
			idx, found := findContext(fileLines, chunk.ChangeContext, cursor)
			if !found {
				return "", loaferr.New(loaferr.PatchMatchError,
					fmt.Sprintf("Failed to find context '%s' in %s", chunk.ChangeContext, uf.Path)).WithPath(uf.Path)
			}
			cursor = idx + 1
		}

		if len(chunk.OldLines) == 0 {
			replacements = append(replacements, replacement{
				startIndex: len(fileLines),
				oldLength:  0,
				newLines:   chunk.NewLines,
			})
			continue
		}

		start, oldLines, newLines, ok := resolveChunkMatch(fileLines, chunk, cursor)
		if !ok {
			return "", loaferr.New(loaferr.PatchMatchError,
				fmt.Sprintf("Failed to find expected lines in %s", uf.Path)).WithPath(uf.Path)
		}
		replacements = append(replacements, replacement{
			startIndex: start,
			oldLength:  len(oldLines),
			newLines:   newLines,
		})
		cursor = start + len(oldLines)
	}

	sort.SliceStable(replacements, func(i, j int) bool {
		return replacements[i].startIndex < replacements[j].startIndex
	})
	for i := len(replacements) - 1; i >= 0; i-- {
		r := replacements[i]
		tail := append([]string{}, fileLines[r.startIndex+r.oldLength:]...)
		head := append([]string{}, fileLines[:r.startIndex]...)
		fileLines = append(append(head, r.newLines...), tail...)
	}

	out := strings.Join(fileLines, "\n")
	if !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	return out, nil
}

// resolveChunkMatch finds chunk.OldLines within fileLines using the
// four-tier fuzzy search, retrying with the trailing empty line stripped
// if the pattern ends in one and no tier matched (spec.md §4.6 step 3).
func resolveChunkMatch(fileLines []string, chunk Chunk, cursor int) (start int, oldLines, newLines []string, ok bool) {
	if start, ok := searchAllTiers(fileLines, chunk.OldLines, cursor, chunk.EndOfFile); ok {
		return start, chunk.OldLines, chunk.NewLines, true
	}

	if n := len(chunk.OldLines); n > 0 && chunk.OldLines[n-1] == "" {
		trimmedOld := chunk.OldLines[:n-1]
		trimmedNew := chunk.NewLines
		if m := len(trimmedNew); m > 0 && trimmedNew[m-1] == "" {
			trimmedNew = trimmedNew[:m-1]
		}
		if start, ok := searchAllTiers(fileLines, trimmedOld, cursor, chunk.EndOfFile); ok {
			return start, trimmedOld, trimmedNew, true
		}
	}
	return 0, nil, nil, false
}

func searchAllTiers(fileLines, pattern []string, cursor int, eof bool) (int, bool) {
	tiers := []matchTier{tierExact, tierTrimEnd, tierFullTrim, tierUnicode}
	if eof {
		anchor := len(fileLines) - len(pattern)
		for _, tier := range tiers {
			if findSequenceAt(fileLines, pattern, anchor, tier) {
				return anchor, true
			}
		}
		return 0, false
	}
	for _, tier := range tiers {
		if idx := findSequence(fileLines, pattern, cursor, tier); idx >= 0 {
			return idx, true
		}
	}
	return 0, false
}
