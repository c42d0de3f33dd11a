package process

import "bytes"

// containsDSRQuery reports whether data contains a cursor-position Device
// Status Report query: ESC [ 6 n or ESC [ ? 6 n. Some TUI tools block on
// startup waiting for a DSR reply and must be answered even when no real
// terminal is attached.
func containsDSRQuery(data []byte) bool {
	return bytes.Contains(data, []byte("\x1b[6n")) || bytes.Contains(data, []byte("\x1b[?6n"))
}

// containsDA1Query reports whether data contains a Primary Device
// Attributes query: ESC [ c or ESC [ 0 c (not ESC [ <digit> c, which is
// cursor-forward).
func containsDA1Query(data []byte) bool {
	for i := 0; i+2 < len(data); i++ {
		if data[i] == '\x1b' && data[i+1] == '[' && data[i+2] == 'c' {
			return true
		}
	}
	return bytes.Contains(data, []byte("\x1b[0c"))
}

// dsrResponse is the synthetic cursor-position reply: row 1, col 1.
func dsrResponse() []byte { return []byte("\x1b[1;1R") }

// da1Response answers as a VT100 with the advanced video option.
func da1Response() []byte { return []byte("\x1b[?1;2c") }

// sanitizePTYOutput normalizes CRLF to LF, strips OSC and CSI escape
// sequences, removes non-printable control bytes (keeping tab and
// newline), and collapses focus-report noise, per spec §4.2.
func sanitizePTYOutput(data []byte) []byte {
	data = bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
	data = bytes.ReplaceAll(data, []byte("\r"), []byte("\n"))

	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		b := data[i]
		if b == 0x1b { // ESC
			consumed := skipEscapeSequence(data[i:])
			if consumed > 0 {
				i += consumed - 1
				continue
			}
		}
		if b == '\t' || b == '\n' {
			out = append(out, b)
			continue
		}
		if b < 0x20 || b == 0x7f {
			continue // strip other control bytes
		}
		out = append(out, b)
	}
	return out
}

// skipEscapeSequence returns the number of bytes consumed by the escape
// sequence starting at data[0] (which must be ESC), or 0 if data does not
// begin with a recognized OSC/CSI sequence.
func skipEscapeSequence(data []byte) int {
	if len(data) < 2 {
		return 0
	}
	switch data[1] {
	case '[': // CSI ... final byte in 0x40-0x7e
		for i := 2; i < len(data); i++ {
			if data[i] >= 0x40 && data[i] <= 0x7e {
				return i + 1
			}
		}
		return len(data)
	case ']': // OSC ... terminated by BEL or ESC \
		for i := 2; i < len(data); i++ {
			if data[i] == 0x07 {
				return i + 1
			}
			if data[i] == 0x1b && i+1 < len(data) && data[i+1] == '\\' {
				return i + 2
			}
		}
		return len(data)
	default:
		// Single two-byte escape (e.g. focus-report prelude) or unknown;
		// consume the ESC and its immediate successor conservatively.
		return 2
	}
}
