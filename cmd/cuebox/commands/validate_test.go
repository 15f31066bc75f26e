package commands

import (
	"path/filepath"
	"strings"
	"testing"
)

const chimeScene = `{
  "sceneId": "door-chime",
  "initialState": "chime",
  "states": {
    "chime": {
      "onEnter": [
        {"action": "mqtt", "topic": "room1/light", "message": "ON"},
        {"action": "audio", "message": "PLAY:chime.wav"}
      ],
      "transitions": [
        {"type": "timeout", "delay": 0.5, "goto": "dark"}
      ]
    },
    "dark": {
      "onEnter": [{"action": "mqtt", "topic": "room1/light", "message": "OFF"}],
      "transitions": [{"type": "always", "goto": "END"}]
    }
  }
}`

func TestValidateScene(t *testing.T) {
	path := writeTestFile(t, "door-chime.json", chimeScene)

	stdout, _, code := runCLI(t, "validate", path)
	if code != 0 {
		t.Fatalf("exit %d", code)
	}
	if !strings.Contains(stdout, "OK") || !strings.Contains(stdout, "2 states") {
		t.Fatalf("expected OK with state count, got: %s", stdout)
	}
	if !strings.Contains(stdout, "1 passed") {
		t.Fatalf("expected summary, got: %s", stdout)
	}
}

func TestValidateBrokenScene(t *testing.T) {
	path := writeTestFile(t, "broken.json", `{
  "sceneId": "broken",
  "initialState": "missing",
  "states": {
    "idle": {"transitions": [{"type": "always", "goto": "END"}]}
  }
}`)

	stdout, stderr, code := runCLI(t, "validate", path)
	if code == 0 {
		t.Fatal("expected non-zero exit")
	}
	if !strings.Contains(stdout, "FAIL") {
		t.Fatalf("expected FAIL, got: %s", stdout)
	}
	if !strings.Contains(stdout, "not a defined state") {
		t.Fatalf("expected cause in report, got: %s", stdout)
	}
	if !strings.Contains(stderr, "1 of 1 files failed validation") {
		t.Fatalf("expected failure summary, got: %s", stderr)
	}
}

func TestValidateCommandFile(t *testing.T) {
	path := writeTestFile(t, "blackout.json", `[
  {"action": "mqtt", "topic": "room1/light", "message": "OFF"},
  {"action": "video", "message": "STOP"}
]`)

	stdout, _, code := runCLI(t, "validate", path)
	if code != 0 {
		t.Fatalf("exit %d", code)
	}
	if !strings.Contains(stdout, "command, 2 actions") {
		t.Fatalf("expected command detail, got: %s", stdout)
	}
}

func TestValidateMixed(t *testing.T) {
	good := writeTestFile(t, "good.json", chimeScene)
	bad := writeTestFile(t, "bad.json", `{"sceneId": "", "initialState": "", "states": {}}`)

	stdout, stderr, code := runCLI(t, "validate", good, bad)
	if code == 0 {
		t.Fatal("expected non-zero exit")
	}
	if !strings.Contains(stdout, "1 passed") || !strings.Contains(stdout, "1 failed") {
		t.Fatalf("expected mixed summary, got: %s", stdout)
	}
	if !strings.Contains(stderr, "1 of 2 files failed validation") {
		t.Fatalf("expected failure count, got: %s", stderr)
	}
}

func TestValidateMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.json")

	stdout, _, code := runCLI(t, "validate", path)
	if code == 0 {
		t.Fatal("expected non-zero exit")
	}
	if !strings.Contains(stdout, "FAIL") {
		t.Fatalf("expected FAIL, got: %s", stdout)
	}
}

func TestIsCommandDoc(t *testing.T) {
	if !isCommandDoc([]byte(`  [{"action": "video", "message": "STOP"}]`)) {
		t.Error("leading whitespace before array not recognized")
	}
	if isCommandDoc([]byte(`{"sceneId": "x"}`)) {
		t.Error("scene object taken for a command")
	}
	if isCommandDoc([]byte("   ")) {
		t.Error("blank input taken for a command")
	}
}
