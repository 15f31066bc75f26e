package dashboard

import (
	"errors"
	"io"
	"io/fs"
	"net/http"
	"strings"

	"github.com/cuebox/cuebox/pkg/scene"
)

var errBadName = errors.New("invalid scene name")

// sceneName extracts and checks the {name} path value. Names are bare file
// stems; anything that could escape the room directory is rejected.
func sceneName(r *http.Request) (string, error) {
	name := r.PathValue("name")
	switch {
	case name == "" || name == "." || name == "..":
		return "", errBadName
	case strings.ContainsAny(name, `/\`):
		return "", errBadName
	case strings.HasPrefix(name, "."):
		return "", errBadName
	}
	return name, nil
}

// handleSceneList reports the scene names in the store. The device catalog
// and subdirectories (commands, audio, videos) live alongside the scene
// files and are not scenes.
func (s *Server) handleSceneList(w http.ResponseWriter, r *http.Request) {
	files, err := s.scenes.List(r.Context(), ".")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	names := []string{}
	for _, f := range files {
		name, ok := strings.CutSuffix(f, ".json")
		if !ok || name == "devices" {
			continue
		}
		names = append(names, name)
	}
	s.respond(w, http.StatusOK, names)
}

func (s *Server) handleSceneGet(w http.ResponseWriter, r *http.Request) {
	name, err := sceneName(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	b, err := s.scenes.ReadFile(r.Context(), name+".json")
	if errors.Is(err, fs.ErrNotExist) {
		http.Error(w, "scene not found: "+name, http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(b); err != nil {
		s.log.Error("dashboard scene write failed", "scene", name, "error", err)
	}
}

// handleScenePut validates the uploaded document and stores it in canonical
// form, so a GET after a PUT returns exactly what canonicalization produced.
func (s *Server) handleScenePut(w http.ResponseWriter, r *http.Request) {
	name, err := sceneName(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSceneBytes))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sc, err := scene.Parse(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	canonical, err := scene.Canonical(sc)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := s.scenes.WriteFile(r.Context(), name+".json", canonical); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.log.Info("scene saved", "scene", name, "bytes", len(canonical))

	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(canonical); err != nil {
		s.log.Error("dashboard scene write failed", "scene", name, "error", err)
	}
}
