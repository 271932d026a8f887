package server

import (
	"bytes"
	"context"
	"net/http"
	"os/exec"
	"strconv"
	"strings"

	"github.com/swefoundry/agentd/internal/store"
)

// GitFileStatus is one file from porcelain git status output.
type GitFileStatus struct {
	Path    string `json:"path"`
	Status  string `json:"status"`
	OldPath string `json:"old_path,omitempty"`
}

// GitStatusResponse groups files by staging state.
type GitStatusResponse struct {
	Staged    []GitFileStatus `json:"staged"`
	Unstaged  []GitFileStatus `json:"unstaged"`
	Untracked []GitFileStatus `json:"untracked"`
}

// GitCommit is one entry from the commit log.
type GitCommit struct {
	Hash    string `json:"hash"`
	Author  string `json:"author"`
	Date    string `json:"date"`
	Subject string `json:"subject"`
}

// runGit runs a read-only git command in the project's directory.
func (s *Server) runGit(ctx context.Context, dir string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.GitTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", dir}, args...)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", &gitError{msg: msg}
	}
	return stdout.String(), nil
}

type gitError struct{ msg string }

func (e *gitError) Error() string { return e.msg }

// projectForGit resolves the {id} path segment to a project; on failure it
// writes the error response and returns nil.
func (s *Server) projectForGit(w http.ResponseWriter, r *http.Request) *store.Project {
	project, err := s.store.GetProject(r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return nil
	}
	return project
}

// handleGitStatus handles GET /api/projects/{id}/git/status.
func (s *Server) handleGitStatus(w http.ResponseWriter, r *http.Request) {
	project := s.projectForGit(w, r)
	if project == nil {
		return
	}

	out, err := s.runGit(r.Context(), project.Path, "status", "--porcelain=v1")
	if err != nil {
		writeError(w, http.StatusBadRequest, "git status failed: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, parseGitStatus(out))
}

// handleGitLog handles GET /api/projects/{id}/git/log?limit=N.
func (s *Server) handleGitLog(w http.ResponseWriter, r *http.Request) {
	project := s.projectForGit(w, r)
	if project == nil {
		return
	}

	limit := queryInt(r, "limit", 20)
	if limit <= 0 {
		limit = 20
	}
	out, err := s.runGit(r.Context(), project.Path,
		"log", "--max-count", strconv.Itoa(limit), "--pretty=format:%H%x1f%an%x1f%aI%x1f%s")
	if err != nil {
		writeError(w, http.StatusBadRequest, "git log failed: %v", err)
		return
	}

	commits := []GitCommit{}
	for _, line := range strings.Split(out, "\n") {
		parts := strings.Split(line, "\x1f")
		if len(parts) != 4 {
			continue
		}
		commits = append(commits, GitCommit{
			Hash: parts[0], Author: parts[1], Date: parts[2], Subject: parts[3],
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"commits": commits})
}

// handleGitBranches handles GET /api/projects/{id}/git/branches.
func (s *Server) handleGitBranches(w http.ResponseWriter, r *http.Request) {
	project := s.projectForGit(w, r)
	if project == nil {
		return
	}

	out, err := s.runGit(r.Context(), project.Path,
		"branch", "--format=%(refname:short)%09%(HEAD)")
	if err != nil {
		writeError(w, http.StatusBadRequest, "git branch failed: %v", err)
		return
	}

	branches := []string{}
	current := ""
	for _, line := range strings.Split(out, "\n") {
		name, marker, found := strings.Cut(line, "\t")
		if !found || name == "" {
			continue
		}
		branches = append(branches, name)
		if marker == "*" {
			current = name
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"branches": branches,
		"current":  current,
	})
}

// handleGitDiff handles GET /api/projects/{id}/git/diff?file=...&staged=1.
func (s *Server) handleGitDiff(w http.ResponseWriter, r *http.Request) {
	project := s.projectForGit(w, r)
	if project == nil {
		return
	}

	args := []string{"diff"}
	if r.URL.Query().Get("staged") != "" {
		args = append(args, "--cached")
	}
	if file := r.URL.Query().Get("file"); file != "" {
		if strings.Contains(file, "..") {
			writeError(w, http.StatusBadRequest, "invalid file path")
			return
		}
		args = append(args, "--", file)
	}

	out, err := s.runGit(r.Context(), project.Path, args...)
	if err != nil {
		writeError(w, http.StatusBadRequest, "git diff failed: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"diff": out})
}

// parseGitStatus splits porcelain v1 output into staged, unstaged and
// untracked groups. A file with both index and worktree changes appears in
// both groups.
func parseGitStatus(out string) GitStatusResponse {
	resp := GitStatusResponse{
		Staged:    []GitFileStatus{},
		Unstaged:  []GitFileStatus{},
		Untracked: []GitFileStatus{},
	}

	for _, line := range strings.Split(out, "\n") {
		if len(line) < 4 {
			continue
		}
		index, worktree := line[0], line[1]
		path := line[3:]

		oldPath := ""
		if from, to, found := strings.Cut(path, " -> "); found {
			oldPath, path = from, to
		}

		if index == '?' && worktree == '?' {
			resp.Untracked = append(resp.Untracked, GitFileStatus{Path: path, Status: "??"})
			continue
		}
		if index != ' ' {
			resp.Staged = append(resp.Staged,
				GitFileStatus{Path: path, Status: string(index), OldPath: oldPath})
		}
		if worktree != ' ' {
			resp.Unstaged = append(resp.Unstaged,
				GitFileStatus{Path: path, Status: string(worktree)})
		}
	}
	return resp
}
