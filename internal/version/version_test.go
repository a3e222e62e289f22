package version

import (
	"encoding/json"
	"runtime"
	"strings"
	"testing"
)

func TestGetInfo(t *testing.T) {
	info := GetInfo()

	if info.Application != ApplicationName {
		t.Errorf("expected application %s, got %s", ApplicationName, info.Application)
	}
	if info.Version == "" {
		t.Error("expected non-empty version")
	}
	if info.GoVersion == "" {
		t.Error("expected non-empty go version")
	}
	if !strings.Contains(info.Platform, runtime.GOOS) {
		t.Errorf("expected platform to contain %s, got %s", runtime.GOOS, info.Platform)
	}
	if !strings.Contains(info.Platform, runtime.GOARCH) {
		t.Errorf("expected platform to contain %s, got %s", runtime.GOARCH, info.Platform)
	}
}

func TestString(t *testing.T) {
	s := String()

	if !strings.HasPrefix(s, ApplicationName+" version ") {
		t.Errorf("expected string to start with %q, got %s", ApplicationName+" version ", s)
	}
}

func TestStringWithCommit(t *testing.T) {
	originalVersion, originalCommit, originalDate := Version, Commit, Date
	defer func() {
		Version, Commit, Date = originalVersion, originalCommit, originalDate
	}()

	Version = "1.0.0"
	Commit = "abc123def456789"
	Date = "2026-01-15T10:30:00Z"

	s := String()
	if !strings.Contains(s, "commit: abc123de,") {
		t.Errorf("expected string to contain truncated commit hash, got %s", s)
	}
	if !strings.Contains(s, "built: 2026-01-15T10:30:00Z") {
		t.Errorf("expected string to contain date, got %s", s)
	}
}

func TestShort(t *testing.T) {
	originalVersion, originalCommit := Version, Commit
	defer func() {
		Version, Commit = originalVersion, originalCommit
	}()

	Version = "1.0.0"
	Commit = "unknown"
	if got := Short(); got != "1.0.0" {
		t.Errorf("Short() = %q, want %q", got, "1.0.0")
	}

	Commit = "abc123def456789"
	if got := Short(); got != "1.0.0 (abc123de)" {
		t.Errorf("Short() = %q, want %q", got, "1.0.0 (abc123de)")
	}
}

func TestJSON(t *testing.T) {
	originalVersion, originalCommit, originalDate := Version, Commit, Date
	defer func() {
		Version, Commit, Date = originalVersion, originalCommit, originalDate
	}()

	Version = "1.2.3"
	Commit = "abc123def456789"
	Date = "2026-01-15T10:30:00Z"

	out, err := JSON()
	if err != nil {
		t.Fatalf("JSON() error: %v", err)
	}

	var info Info
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}
	if info.Version != "1.2.3" {
		t.Errorf("expected version 1.2.3, got %s", info.Version)
	}
	if info.Commit != "abc123def456789" {
		t.Errorf("expected full commit, got %s", info.Commit)
	}
	if info.Application != ApplicationName {
		t.Errorf("expected application %s, got %s", ApplicationName, info.Application)
	}
}
