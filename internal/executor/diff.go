package executor

import (
	"regexp"
	"strconv"
	"strings"
)

var hunkHeaderPattern = regexp.MustCompile(`^@@\s+-(\d+)(?:,(\d+))?\s+\+(\d+)(?:,(\d+))?\s+@@`)

// LooksLikeUnifiedDiff detects the unified diff patch format: at least one
// hunk header plus ---/+++ file header lines.
func LooksLikeUnifiedDiff(patch string) bool {
	padded := "\n" + patch
	return strings.Contains(patch, "@@") &&
		strings.Contains(padded, "\n--- ") &&
		strings.Contains(padded, "\n+++ ")
}

// ApplyUnifiedDiff applies a minimal unified diff to the original text. The
// patcher is strict and fail-closed: any context or removal line that does
// not match the source at the cursor aborts instead of guessing. A trailing
// newline is preserved iff the original ended with one.
func ApplyUnifiedDiff(original string, patch string) (string, error) {
	oldLines := splitLines(original)
	patchLines := splitLines(patch)
	var out []string

	i := 0
	src := 0
	for i < len(patchLines) {
		line := patchLines[i]
		if strings.HasPrefix(line, "--- ") || strings.HasPrefix(line, "+++ ") {
			i++
			continue
		}
		if !strings.HasPrefix(line, "@@") {
			i++
			continue
		}

		match := hunkHeaderPattern.FindStringSubmatch(line)
		if match == nil {
			return "", failf(ReasonMalformedPatch, "invalid unified diff hunk header: %s", line)
		}
		oldStart, err := strconv.Atoi(match[1])
		if err != nil {
			return "", failf(ReasonMalformedPatch, "invalid unified diff hunk header: %s", line)
		}

		copyUntil := oldStart - 1
		if copyUntil < 0 {
			copyUntil = 0
		}
		for src < copyUntil && src < len(oldLines) {
			out = append(out, oldLines[src])
			src++
		}

		i++
		for i < len(patchLines) && !strings.HasPrefix(patchLines[i], "@@") {
			hunkLine := patchLines[i]
			token := byte(' ')
			payload := ""
			if hunkLine != "" {
				token = hunkLine[0]
				payload = hunkLine[1:]
			}

			switch token {
			case ' ':
				if src >= len(oldLines) || oldLines[src] != payload {
					return "", failf(ReasonMalformedPatch, "unified diff context mismatch at source line %d", src+1)
				}
				out = append(out, payload)
				src++
			case '-':
				if src >= len(oldLines) || oldLines[src] != payload {
					return "", failf(ReasonMalformedPatch, "unified diff removal mismatch at source line %d", src+1)
				}
				src++
			case '+':
				out = append(out, payload)
			case '\\':
				// "\ No newline at end of file"
			default:
				return "", failf(ReasonMalformedPatch, "unsupported unified diff token: %c", token)
			}
			i++
		}
	}

	for src < len(oldLines) {
		out = append(out, oldLines[src])
		src++
	}

	result := strings.Join(out, "\n")
	if strings.HasSuffix(original, "\n") {
		result += "\n"
	}
	return result, nil
}

func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
