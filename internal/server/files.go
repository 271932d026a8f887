package server

import (
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// FileEntry is a single file or directory in a listing.
type FileEntry struct {
	Name       string `json:"name"`
	Type       string `json:"type"` // "file", "dir" or "symlink"
	Size       int64  `json:"size"`
	ModifiedAt string `json:"modified_at"`
}

// handleFSList handles GET /api/fs/list?path=... It backs the directory
// picker used when registering projects, so it lists local paths directly
// rather than going through a project.
func (s *Server) handleFSList(w http.ResponseWriter, r *http.Request) {
	dir := r.URL.Query().Get("path")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "/"
		}
		dir = home
	}
	if strings.HasPrefix(dir, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			dir = filepath.Join(home, strings.TrimPrefix(dir, "~"))
		}
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid path")
		return
	}

	dirEntries, err := os.ReadDir(abs)
	if err != nil {
		switch {
		case os.IsNotExist(err):
			writeError(w, http.StatusNotFound, "no such directory")
		case os.IsPermission(err):
			writeError(w, http.StatusForbidden, "permission denied")
		default:
			writeError(w, http.StatusBadRequest, "%v", err)
		}
		return
	}

	entries := make([]FileEntry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if strings.HasPrefix(de.Name(), ".") {
			continue
		}
		if len(entries) >= s.config.FSMaxEntries {
			break
		}
		entry := FileEntry{Name: de.Name(), Type: "file"}
		if de.Type()&os.ModeSymlink != 0 {
			entry.Type = "symlink"
		} else if de.IsDir() {
			entry.Type = "dir"
		}
		if info, err := de.Info(); err == nil {
			if entry.Type == "file" {
				entry.Size = info.Size()
			}
			entry.ModifiedAt = info.ModTime().UTC().Format(time.RFC3339)
		}
		entries = append(entries, entry)
	}

	// Directories first, then case-insensitive by name.
	sort.Slice(entries, func(i, j int) bool {
		if (entries[i].Type == "dir") != (entries[j].Type == "dir") {
			return entries[i].Type == "dir"
		}
		return strings.ToLower(entries[i].Name) < strings.ToLower(entries[j].Name)
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"path":    abs,
		"parent":  filepath.Dir(abs),
		"entries": entries,
	})
}
