package patch

import (
	"fmt"
	"strings"

	"github.com/crabmiau/loaf/internal/loaferr"
)

const (
	beginMarker   = "*** Begin Patch"
	endMarker     = "*** End Patch"
	addPrefix     = "*** Add File: "
	deletePrefix  = "*** Delete File: "
	updatePrefix  = "*** Update File: "
	movePrefix    = "*** Move to: "
	eofMarker     = "*** End of File"
	chunkBare     = "@@"
	chunkCtxStart = "@@ "
)

func splitLines(input string) []string {
	input = strings.ReplaceAll(input, "\r\n", "\n")
	return strings.Split(input, "\n")
}

func parseErr(line int, msg string) error {
	return loaferr.New(loaferr.PatchParseError, msg).WithLine(line)
}

func firstNonBlank(lines []string) (int, bool) {
	for i, l := range lines {
		if strings.TrimSpace(l) != "" {
			return i, true
		}
	}
	return 0, false
}

func lastNonBlank(lines []string) (int, bool) {
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			return i, true
		}
	}
	return 0, false
}

// unwrapEnvelope strips an optional "<<EOF"/"EOF" wrapper and validates
// the "*** Begin Patch"/"*** End Patch" bracket, returning the lines
// strictly between them plus the count of lines stripped before the body
// (so hunk errors can report 1-based positions within the whole patch).
func unwrapEnvelope(lines []string) ([]string, int, error) {
	first, ok := firstNonBlank(lines)
	if !ok {
		return nil, 0, parseErr(1, "empty patch")
	}
	last, _ := lastNonBlank(lines)

	stripped := 0
	if strings.TrimSpace(lines[first]) == "<<EOF" && strings.TrimSpace(lines[last]) == "EOF" {
		stripped = first + 1
		lines = lines[first+1 : last]
		first, ok = firstNonBlank(lines)
		if !ok {
			return nil, 0, parseErr(1, "empty patch")
		}
		last, _ = lastNonBlank(lines)
	}

	if strings.TrimSpace(lines[first]) != beginMarker {
		return nil, 0, parseErr(stripped+first+1, "expected \"*** Begin Patch\"")
	}
	if strings.TrimSpace(lines[last]) != endMarker {
		return nil, 0, parseErr(stripped+last+1, "expected \"*** End Patch\"")
	}
	return lines[first+1 : last], stripped + first + 1, nil
}

// Parse parses a full "*** Begin Patch" ... "*** End Patch" document into
// its constituent hunks (spec.md §4.5).
func Parse(input string) (*Patch, error) {
	lines := splitLines(input)
	body, off, err := unwrapEnvelope(lines)
	if err != nil {
		return nil, err
	}

	p := &Patch{}
	i := 0
	n := len(body)
	for i < n {
		trimmed := body[i]
		switch {
		case strings.TrimSpace(trimmed) == "":
			i++
		case strings.HasPrefix(trimmed, addPrefix):
			hunk, next, err := parseAddFile(body, i)
			if err != nil {
				return nil, err
			}
			p.Hunks = append(p.Hunks, hunk)
			i = next
		case strings.HasPrefix(trimmed, deletePrefix):
			path := strings.TrimPrefix(trimmed, deletePrefix)
			p.Hunks = append(p.Hunks, Hunk{Kind: HunkDelete, Delete: DeleteFile{Path: path}})
			i++
		case strings.HasPrefix(trimmed, updatePrefix):
			hunk, next, err := parseUpdateFile(body, i, off)
			if err != nil {
				return nil, err
			}
			p.Hunks = append(p.Hunks, hunk)
			i = next
		default:
			return nil, parseErr(off+i+1, fmt.Sprintf("unexpected line in patch: %q", trimmed))
		}
	}
	if len(p.Hunks) == 0 {
		return nil, parseErr(1, "patch contains no hunks")
	}
	return p, nil
}

func parseAddFile(body []string, start int) (Hunk, int, error) {
	path := strings.TrimPrefix(body[start], addPrefix)
	i := start + 1
	var sb strings.Builder
	for i < len(body) && strings.HasPrefix(body[i], "+") {
		sb.WriteString(strings.TrimPrefix(body[i], "+"))
		sb.WriteString("\n")
		i++
	}
	return Hunk{Kind: HunkAdd, Add: AddFile{Path: path, Contents: sb.String()}}, i, nil
}

func parseUpdateFile(body []string, start, off int) (Hunk, int, error) {
	path := strings.TrimPrefix(body[start], updatePrefix)
	i := start + 1

	uf := UpdateFile{Path: path}
	if i < len(body) && strings.HasPrefix(body[i], movePrefix) {
		uf.MovePath = strings.TrimPrefix(body[i], movePrefix)
		i++
	}

	for i < len(body) {
		line := body[i]
		if strings.HasPrefix(line, addPrefix) || strings.HasPrefix(line, deletePrefix) || strings.HasPrefix(line, updatePrefix) {
			break
		}
		if strings.TrimSpace(line) == "" {
			i++
			continue
		}
		if line != chunkBare && !strings.HasPrefix(line, chunkCtxStart) {
			if len(uf.Chunks) > 0 {
				return Hunk{}, 0, parseErr(off+i+1, "expected \"@@\" chunk header")
			}
			// first chunk may omit its "@@" header entirely.
			chunk, next, err := parseChunkBody(body, i, off, Chunk{})
			if err != nil {
				return Hunk{}, 0, err
			}
			uf.Chunks = append(uf.Chunks, chunk)
			i = next
			continue
		}

		hdr := Chunk{HasContext: true}
		if line == chunkBare {
			hdr.ChangeContext = ""
		} else {
			hdr.ChangeContext = strings.TrimPrefix(line, chunkCtxStart)
		}
		chunk, next, err := parseChunkBody(body, i+1, off, hdr)
		if err != nil {
			return Hunk{}, 0, err
		}
		uf.Chunks = append(uf.Chunks, chunk)
		i = next
	}

	if len(uf.Chunks) == 0 {
		return Hunk{}, 0, parseErr(off+start+1, "update hunk has no chunks: "+path)
	}
	return Hunk{Kind: HunkUpdate, Update: uf}, i, nil
}

// parseChunkBody consumes context/add/delete lines starting at index start
// until the next "@@" header, the next top-level "*** " marker, or the end
// of the body, folding hdr's change-context into the result.
func parseChunkBody(body []string, start, off int, hdr Chunk) (Chunk, int, error) {
	chunk := hdr
	sawChange := false
	i := start
	for i < len(body) {
		line := body[i]
		if line == chunkBare || strings.HasPrefix(line, chunkCtxStart) {
			break
		}
		if strings.HasPrefix(line, addPrefix) || strings.HasPrefix(line, deletePrefix) || strings.HasPrefix(line, updatePrefix) {
			break
		}
		if line == eofMarker {
			if !sawChange {
				return Chunk{}, 0, parseErr(off+i+1, "\"*** End of File\" with no preceding change lines")
			}
			chunk.EndOfFile = true
			i++
			break
		}
		switch {
		case line == "":
			chunk.OldLines = append(chunk.OldLines, "")
			chunk.NewLines = append(chunk.NewLines, "")
		case line[0] == ' ':
			text := line[1:]
			chunk.OldLines = append(chunk.OldLines, text)
			chunk.NewLines = append(chunk.NewLines, text)
		case line[0] == '+':
			chunk.NewLines = append(chunk.NewLines, line[1:])
			sawChange = true
		case line[0] == '-':
			chunk.OldLines = append(chunk.OldLines, line[1:])
			sawChange = true
		default:
			return Chunk{}, 0, parseErr(off+i+1, fmt.Sprintf("malformed chunk line: %q", line))
		}
		i++
	}
	return chunk, i, nil
}

// Serialize renders a Patch back into "*** Begin Patch" dialect text, for
// round-trip testing (spec.md §8 property 6).
func Serialize(p *Patch) string {
	var sb strings.Builder
	sb.WriteString(beginMarker)
	sb.WriteString("\n")
	for _, h := range p.Hunks {
		switch h.Kind {
		case HunkAdd:
			sb.WriteString(addPrefix + h.Add.Path + "\n")
			for _, l := range strings.Split(strings.TrimSuffix(h.Add.Contents, "\n"), "\n") {
				sb.WriteString("+" + l + "\n")
			}
		case HunkDelete:
			sb.WriteString(deletePrefix + h.Delete.Path + "\n")
		case HunkUpdate:
			sb.WriteString(updatePrefix + h.Update.Path + "\n")
			if h.Update.MovePath != "" {
				sb.WriteString(movePrefix + h.Update.MovePath + "\n")
			}
			for _, c := range h.Update.Chunks {
				if c.HasContext {
					if c.ChangeContext == "" {
						sb.WriteString(chunkBare + "\n")
					} else {
						sb.WriteString(chunkCtxStart + c.ChangeContext + "\n")
					}
				}
				serializeChunkLines(&sb, c)
				if c.EndOfFile {
					sb.WriteString(eofMarker + "\n")
				}
			}
		}
	}
	sb.WriteString(endMarker)
	sb.WriteString("\n")
	return sb.String()
}

func serializeChunkLines(sb *strings.Builder, c Chunk) {
	oi, ni := 0, 0
	for oi < len(c.OldLines) || ni < len(c.NewLines) {
		switch {
		case oi < len(c.OldLines) && ni < len(c.NewLines) && c.OldLines[oi] == c.NewLines[ni]:
			sb.WriteString(" " + c.OldLines[oi] + "\n")
			oi++
			ni++
		case oi < len(c.OldLines):
			sb.WriteString("-" + c.OldLines[oi] + "\n")
			oi++
		default:
			sb.WriteString("+" + c.NewLines[ni] + "\n")
			ni++
		}
	}
}
