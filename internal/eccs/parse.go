package eccs

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// ansiPattern matches CSI escape sequences such as the colour codes eccs
// wraps around its output.
var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)

// StripANSI removes terminal escape sequences from s.
func StripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}

// decodeJSON unmarshals the single JSON object printed in output into v.
// Text around the object (log prefixes, colour codes, banners) is ignored.
func decodeJSON(op Op, output string, v any) error {
	clean := StripANSI(output)
	start := strings.IndexByte(clean, '{')
	end := strings.LastIndexByte(clean, '}')
	if start < 0 || end < start {
		return &ParseError{Op: op, Field: "JSON object", Reason: "no object found", Output: output}
	}
	if err := json.Unmarshal([]byte(clean[start:end+1]), v); err != nil {
		return &ParseError{Op: op, Field: "JSON object", Reason: err.Error(), Output: output}
	}
	return nil
}

// scrapeLine finds the one line of output matching re and returns its
// submatches. Zero or several matching lines are a ParseError: a value
// that cannot be pinned to exactly one line is not trusted.
func scrapeLine(op Op, field, output string, re *regexp.Regexp) ([]string, error) {
	_, m, err := matchLine(op, field, output, re)
	return m, err
}

// scrapeAll returns every capture of re on the one line that matches
// lineRe. It is used for repeated fields printed on a single line.
func scrapeAll(op Op, field, output string, lineRe, re *regexp.Regexp) ([]string, error) {
	line, _, err := matchLine(op, field, output, lineRe)
	if err != nil {
		return nil, err
	}
	var values []string
	for _, sub := range re.FindAllStringSubmatch(line, -1) {
		values = append(values, sub[1])
	}
	return values, nil
}

func matchLine(op Op, field, output string, re *regexp.Regexp) (string, []string, error) {
	var (
		line    string
		found   []string
		matches int
	)
	for _, l := range strings.Split(StripANSI(output), "\n") {
		m := re.FindStringSubmatch(l)
		if m == nil {
			continue
		}
		matches++
		line, found = l, m
	}
	switch matches {
	case 0:
		return "", nil, &ParseError{Op: op, Field: field, Reason: "no matching line", Output: output}
	case 1:
		return line, found, nil
	default:
		return "", nil, &ParseError{Op: op, Field: field, Reason: fmt.Sprintf("%d matching lines", matches), Output: output}
	}
}
