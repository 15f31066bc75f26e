package commands

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestRunMissingConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.yaml")

	_, stderr, code := runCLI(t, "run", "-f", path)
	if code == 0 {
		t.Fatal("expected non-zero exit")
	}
	if !strings.Contains(stderr, "absent.yaml") {
		t.Fatalf("expected config path in error, got: %s", stderr)
	}
}

func TestRunBadYAML(t *testing.T) {
	path := writeTestFile(t, "config.yaml", "room: [oops\n")

	_, stderr, code := runCLI(t, "run", "-f", path)
	if code == 0 {
		t.Fatal("expected non-zero exit")
	}
	if !strings.Contains(stderr, "parse") {
		t.Fatalf("expected parse error, got: %s", stderr)
	}
}

func TestRunRejectsBadRoom(t *testing.T) {
	path := writeTestFile(t, "config.yaml", "room: lobby\npaths:\n  scene_dir: scenes\n")

	_, stderr, code := runCLI(t, "run", "-f", path)
	if code == 0 {
		t.Fatal("expected non-zero exit")
	}
	if !strings.Contains(stderr, "must be room") {
		t.Fatalf("expected room contract error, got: %s", stderr)
	}
}

func TestRunReportsAllConfigProblems(t *testing.T) {
	path := writeTestFile(t, "config.yaml", "mqtt:\n  url: tcp://127.0.0.1:1883\n")

	_, stderr, code := runCLI(t, "run", "-f", path)
	if code == 0 {
		t.Fatal("expected non-zero exit")
	}
	if !strings.Contains(stderr, "room is required") {
		t.Fatalf("expected room error, got: %s", stderr)
	}
	if !strings.Contains(stderr, "scene_dir is required") {
		t.Fatalf("expected scene_dir error, got: %s", stderr)
	}
}
