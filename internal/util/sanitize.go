package util

import "strings"

const (
	seqNone = iota
	seqEsc
	seqCSI
	seqString // OSC, DCS, APC and PM: terminated by BEL or ST
)

// StripControl removes ANSI escape sequences and C0 controls other than
// tab, newline and carriage return from b.
func StripControl(b []byte) []byte {
	out := make([]byte, 0, len(b))
	state := seqNone
	stringEsc := false
	for _, c := range b {
		switch state {
		case seqNone:
			switch {
			case c == 0x1b:
				state = seqEsc
			case c >= 0x20, c == '\n', c == '\r', c == '\t':
				out = append(out, c)
			}
		case seqEsc:
			switch c {
			case '[':
				state = seqCSI
			case ']', 'P', '_', '^':
				state = seqString
				stringEsc = false
			default:
				state = seqNone
			}
		case seqCSI:
			if c >= 0x40 && c <= 0x7e {
				state = seqNone
			}
		case seqString:
			switch {
			case c == 0x07:
				state = seqNone
			case stringEsc:
				if c == '\\' {
					state = seqNone
				}
				stringEsc = false
			case c == 0x1b:
				stringEsc = true
			}
		}
	}
	return out
}

// CleanOutput turns captured installer output into plain lines. Progress
// bars redraw with carriage returns; only the last redraw of a line is kept.
func CleanOutput(b []byte) string {
	text := strings.ReplaceAll(string(StripControl(b)), "\r\n", "\n")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if j := strings.LastIndex(strings.TrimRight(line, "\r"), "\r"); j >= 0 {
			line = line[j+1:]
		}
		lines[i] = strings.TrimRight(line, "\r")
	}
	return strings.Join(lines, "\n")
}
