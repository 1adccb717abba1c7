package eccs

import (
	"errors"
	"regexp"
	"strings"
	"testing"
)

func TestStripANSI(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"\x1b[32m{\"a\":1}\x1b[0m", "{\"a\":1}"},
		{"\x1b[1;31mError\x1b[0m: bad", "Error: bad"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := StripANSI(tt.in); got != tt.want {
			t.Errorf("StripANSI(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDecodeJSON(t *testing.T) {
	var v struct {
		UserID string `json:"userId"`
	}
	out := "2021/06/01 12:00:00 connected\n\x1b[32m{\"userId\":\"u1\"}\x1b[0m\n"
	if err := decodeJSON(OpCreateUser, out, &v); err != nil {
		t.Fatalf("decodeJSON: %v", err)
	}
	if v.UserID != "u1" {
		t.Errorf("UserID = %q, want %q", v.UserID, "u1")
	}
}

func TestDecodeJSON_NoObject(t *testing.T) {
	var v map[string]any
	err := decodeJSON(OpStore, "Error: something broke", &v)
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("error = %v, want *ParseError", err)
	}
	if pe.Op != OpStore {
		t.Errorf("Op = %q, want %q", pe.Op, OpStore)
	}
}

func TestDecodeJSON_Malformed(t *testing.T) {
	var v map[string]any
	err := decodeJSON(OpStore, `{"objectId": }`, &v)
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("error = %v, want *ParseError", err)
	}
}

func TestScrapeLine(t *testing.T) {
	re := regexp.MustCompile(`AccessToken:\s*(\S+)`)

	m, err := scrapeLine(OpLoginUser, "access token", "noise\n2021/06/01 AccessToken: abc\n", re)
	if err != nil {
		t.Fatalf("scrapeLine: %v", err)
	}
	if m[1] != "abc" {
		t.Errorf("token = %q, want %q", m[1], "abc")
	}

	_, err = scrapeLine(OpLoginUser, "access token", "nothing here", re)
	var pe *ParseError
	if !errors.As(err, &pe) || pe.Reason != "no matching line" {
		t.Errorf("missing line: error = %v, want no matching line", err)
	}

	_, err = scrapeLine(OpLoginUser, "access token", "AccessToken: a\nAccessToken: b\n", re)
	if !errors.As(err, &pe) || pe.Reason != "2 matching lines" {
		t.Errorf("duplicate line: error = %v, want 2 matching lines", err)
	}
	if !strings.Contains(err.Error(), "unable to match access token in loginuser output") {
		t.Errorf("error message = %q", err.Error())
	}
}

func TestScrapeAll(t *testing.T) {
	out := `2021/06/01 12:00:00 Permissions: user_ids:"a" user_ids:"b"` + "\n"
	ids, err := scrapeAll(OpGetPermissions, "permissions", out, v1PermsLineRe, v1PermIDRe)
	if err != nil {
		t.Fatalf("scrapeAll: %v", err)
	}
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Errorf("ids = %v, want [a b]", ids)
	}
}
