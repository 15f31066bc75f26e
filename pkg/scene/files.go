package scene

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
)

// Load reads, parses and validates a scene file.
func Load(path string) (*Scene, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scene: %w", err)
	}
	return Parse(data)
}

// LoadCommand reads and validates a command file: a bare JSON array of
// actions run outside any scene.
func LoadCommand(path string) ([]Action, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scene: %w", err)
	}
	return ParseCommand(data)
}

// ParseCommand decodes and validates one command document.
func ParseCommand(data []byte) ([]Action, error) {
	var acts []Action
	if err := json.Unmarshal(data, &acts); err != nil {
		return nil, fmt.Errorf("scene: %w", err)
	}
	if len(acts) == 0 {
		return nil, errors.New("scene: command has no actions")
	}
	var errs []error
	for i := range acts {
		validateAction(fmt.Sprintf("command[%d]", i), &acts[i], &errs)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return acts, nil
}

// MediaFiles returns the audio and video files referenced by the scene's
// actions, sorted and deduplicated. The audio list feeds the preload pass
// at scene start.
func (s *Scene) MediaFiles() (audio, video []string) {
	seenAudio := make(map[string]bool)
	seenVideo := make(map[string]bool)
	visit := func(a *Action) {
		switch a.Kind {
		case ActionAudio:
			if f, ok := audioFileFromCommand(string(a.Message)); ok && !seenAudio[f] {
				seenAudio[f] = true
				audio = append(audio, f)
			}
		case ActionVideo:
			if f, ok := videoFileFromCommand(string(a.Message)); ok && !seenVideo[f] {
				seenVideo[f] = true
				video = append(video, f)
			}
		}
	}
	for _, st := range s.States {
		for i := range st.OnEnter {
			visit(&st.OnEnter[i])
		}
		for i := range st.Timeline {
			if st.Timeline[i].Action != nil {
				visit(st.Timeline[i].Action)
			}
			for j := range st.Timeline[i].Actions {
				visit(&st.Timeline[i].Actions[j])
			}
		}
		for i := range st.OnExit {
			visit(&st.OnExit[i])
		}
	}
	slices.Sort(audio)
	slices.Sort(video)
	return audio, video
}

// audioFileFromCommand extracts the filename an audio command plays, if any.
// Understood forms: "PLAY:<file>[:<volume>]" and a bare "<file>".
func audioFileFromCommand(msg string) (string, bool) {
	cmd, rest, _ := strings.Cut(msg, ":")
	switch cmd {
	case "PLAY":
		file, _, _ := strings.Cut(rest, ":")
		return file, file != ""
	case "STOP", "PAUSE", "RESUME", "VOLUME":
		return "", false
	}
	return msg, msg != ""
}

// videoFileFromCommand extracts the filename a video command plays, if any.
// Understood forms: "PLAY_VIDEO:<file>" and a bare "<file>".
func videoFileFromCommand(msg string) (string, bool) {
	cmd, rest, _ := strings.Cut(msg, ":")
	switch cmd {
	case "PLAY_VIDEO":
		return rest, rest != ""
	case "STOP_VIDEO", "PAUSE", "RESUME", "SEEK":
		return "", false
	}
	return msg, msg != ""
}
