// Package command rewrites planner-authored world commands into a form the
// game host accepts: block-state annotations and legacy data values are
// stripped, and relative coordinate tokens are resolved against a build
// origin. Both transforms fail soft: on anything unparseable they return
// their input unchanged rather than aborting a batch.
package command

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	bracketGroup = regexp.MustCompile(`\[[^\]]*\]`)
	trailingData = regexp.MustCompile(`\s+\d+$`)
	interiorData = regexp.MustCompile(`\s+\d+\s+`)
	multiSpace   = regexp.MustCompile(`\s+`)
)

// Sanitize removes block-state bracket groups (e.g. [facing=east]) and
// standalone numeric data-value tokens the Bedrock command syntax rejects,
// then collapses whitespace. Relative coordinate tokens are untouched.
func Sanitize(raw string) string {
	cleaned := bracketGroup.ReplaceAllString(raw, "")
	cleaned = trailingData.ReplaceAllString(cleaned, "")
	cleaned = interiorData.ReplaceAllString(cleaned, " ")
	cleaned = strings.TrimSpace(multiSpace.ReplaceAllString(cleaned, " "))
	if cleaned == "" {
		return raw
	}
	return cleaned
}

// Resolve replaces every relative coordinate token (~, ~+N, ~-N) in cmd
// with the absolute value derived from origin. Coordinates appear as
// unlabeled x,y,z triplets, so a running slot counter picks the axis;
// bare integer tokens are absolute coordinates and advance the counter
// without being rewritten. A malformed offset returns cmd unchanged.
func Resolve(cmd string, origin Point3) string {
	parts := strings.Fields(cmd)
	slot := 0

	for i, part := range parts {
		switch {
		case strings.HasPrefix(part, "~"):
			offset, err := parseOffset(part[1:])
			if err != nil {
				return cmd
			}
			parts[i] = strconv.Itoa(origin.Axis(slot) + offset)
			slot++
		case isBareInt(part):
			slot++
		}
	}

	return strings.Join(parts, " ")
}

func parseOffset(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(strings.TrimPrefix(s, "+"))
}

func isBareInt(s string) bool {
	if s == "" {
		return false
	}
	digits := s
	if s[0] == '-' || s[0] == '+' {
		digits = s[1:]
	}
	if digits == "" {
		return false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
