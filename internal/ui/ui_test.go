package ui

import (
	"bytes"
	"os"
	"strings"
	"sync"
	"testing"
)

func TestWarnf(t *testing.T) {
	var buf bytes.Buffer
	SetWriter(&buf)
	defer SetWriter(nil)

	Warnf("skipping %q: reason %s", "v9", "unknown contract")

	want := "Warning: skipping \"v9\": reason unknown contract\n"
	if got := buf.String(); got != want {
		t.Errorf("Warnf output = %q, want %q", got, want)
	}
}

func TestErrorf(t *testing.T) {
	var buf bytes.Buffer
	SetWriter(&buf)
	defer SetWriter(nil)

	Errorf("failed to connect: %s", "timeout")

	want := "Error: failed to connect: timeout\n"
	if got := buf.String(); got != want {
		t.Errorf("Errorf output = %q, want %q", got, want)
	}
}

func TestInfof(t *testing.T) {
	var buf bytes.Buffer
	SetWriter(&buf)
	defer SetWriter(nil)

	Infof("hint: set %s", "E2E_TEST_UID")

	want := "hint: set E2E_TEST_UID\n"
	if got := buf.String(); got != want {
		t.Errorf("Infof output = %q, want %q", got, want)
	}
}

func TestColorFunctionsEnabled(t *testing.T) {
	SetColorEnabled(true)
	defer SetColorEnabled(false)

	tests := []struct {
		name string
		fn   func(string) string
		code string
	}{
		{"Bold", Bold, "1"},
		{"Dim", Dim, "2"},
		{"Green", Green, "32"},
		{"Red", Red, "31"},
		{"Yellow", Yellow, "33"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.fn("hello")
			want := "\033[" + tt.code + "mhello\033[0m"
			if got != want {
				t.Errorf("%s(\"hello\") = %q, want %q", tt.name, got, want)
			}
		})
	}
}

func TestColorFunctionsDisabled(t *testing.T) {
	SetColorEnabled(false)

	for _, fn := range []func(string) string{Bold, Dim, Green, Red, Yellow} {
		if got := fn("hello"); got != "hello" {
			t.Errorf("with color disabled = %q, want %q", got, "hello")
		}
	}
}

func TestMarks(t *testing.T) {
	SetColorEnabled(true)
	defer SetColorEnabled(false)

	if got := PassMark(); got != "\033[32m[+]\033[0m" {
		t.Errorf("PassMark() = %q, want green [+]", got)
	}
	if got := FailMark(); got != "\033[31m[-]\033[0m" {
		t.Errorf("FailMark() = %q, want red [-]", got)
	}
	if got := SkipMark(); got != "\033[33m[~]\033[0m" {
		t.Errorf("SkipMark() = %q, want yellow [~]", got)
	}
}

func TestPrinter(t *testing.T) {
	SetColorEnabled(false)

	var buf bytes.Buffer
	p := NewPrinter(&buf)
	p.Pass("", "created first user: UID u1")
	p.Skip("", "encrypt not supported by contract v1")
	p.Fail("eccs-v2", "decryption failed")
	p.Succeeded()

	want := "[+] created first user: UID u1\n" +
		"[~] encrypt not supported by contract v1\n" +
		"[-] eccs-v2 decryption failed\n" +
		"[+] all tests succeeded\n"
	if got := buf.String(); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestPrinter_Concurrent(t *testing.T) {
	SetColorEnabled(false)

	var buf bytes.Buffer
	p := NewPrinter(&buf)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Pass("target", "step")
		}()
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 20 {
		t.Fatalf("got %d lines, want 20", len(lines))
	}
	for _, l := range lines {
		if l != "[+] target step" {
			t.Errorf("interleaved line %q", l)
		}
	}
}

func TestTagsNoColor(t *testing.T) {
	SetColorEnabled(false)

	if got := OKTag(); got != "✓" {
		t.Errorf("OKTag() = %q, want plain ✓", got)
	}
	if got := FailTag(); got != "✗" {
		t.Errorf("FailTag() = %q, want plain ✗", got)
	}
	if got := WarnTag(); got != "⚠" {
		t.Errorf("WarnTag() = %q, want plain ⚠", got)
	}
}

func TestNO_COLOR(t *testing.T) {
	t.Setenv("NO_COLOR", "1")

	f, err := os.CreateTemp(t.TempDir(), "ui-test-*")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if detectColor(f) {
		t.Error("detectColor should return false when NO_COLOR is set")
	}
}

func TestSection(t *testing.T) {
	SetColorEnabled(false)

	var buf bytes.Buffer
	Section(&buf, "Targets")

	want := "Targets\n───────\n"
	if got := buf.String(); got != want {
		t.Errorf("Section output = %q, want %q", got, want)
	}
}
