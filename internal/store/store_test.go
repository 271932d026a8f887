package store

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func insertTestSession(t *testing.T, s *Store, id, status string) {
	t.Helper()
	err := s.InsertSession(SessionRecord{
		ID: id, Name: "s-" + id, Command: "/bin/bash", Cwd: "/tmp", Pid: 100, Status: "running",
	})
	if err != nil {
		t.Fatalf("InsertSession(%s): %v", id, err)
	}
	if status != "running" {
		if err := s.UpdateSessionState(id, status, time.Now()); err != nil {
			t.Fatalf("UpdateSessionState(%s): %v", id, err)
		}
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	s1.Close()

	// Reopening must not re-apply migrations.
	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	s2.Close()
}

func TestSessionLifecycleRows(t *testing.T) {
	s := openTestStore(t)

	insertTestSession(t, s, "a", "running")

	rec, err := s.GetSession("a")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if rec == nil || rec.Status != "running" {
		t.Fatalf("GetSession = %+v", rec)
	}

	if err := s.UpdateSessionState("a", "idle", time.Now()); err != nil {
		t.Fatalf("UpdateSessionState: %v", err)
	}

	found, err := s.CloseSession("a")
	if err != nil || !found {
		t.Fatalf("CloseSession = %v, %v", found, err)
	}
	// Closing twice still succeeds and still reports the row as known.
	found, err = s.CloseSession("a")
	if err != nil || !found {
		t.Fatalf("second CloseSession = %v, %v", found, err)
	}

	rec, _ = s.GetSession("a")
	if rec.Status != "closed" {
		t.Errorf("status after close = %q", rec.Status)
	}

	found, err = s.CloseSession("never-existed")
	if err != nil {
		t.Fatalf("CloseSession(unknown): %v", err)
	}
	if found {
		t.Error("CloseSession reported an unknown id as found")
	}
}

func TestMarkInterruptedStale(t *testing.T) {
	s := openTestStore(t)

	insertTestSession(t, s, "live", "running")
	insertTestSession(t, s, "idle", "idle")
	insertTestSession(t, s, "done", "closed")

	n, err := s.MarkInterruptedStale()
	if err != nil {
		t.Fatalf("MarkInterruptedStale: %v", err)
	}
	if n != 2 {
		t.Errorf("marked %d rows stale, want 2", n)
	}

	rec, _ := s.GetSession("done")
	if rec.Status != "closed" {
		t.Errorf("closed session was touched: %q", rec.Status)
	}
}

func TestArchivePaginationCoversEachRowOnce(t *testing.T) {
	s := openTestStore(t)

	const total = 7
	for i := 0; i < total; i++ {
		id := fmt.Sprintf("s%d", i)
		insertTestSession(t, s, id, "closed")
		// Distinct updated_at values make the ordering deterministic.
		time.Sleep(2 * time.Millisecond)
		s.UpdateSessionState(id, "closed", time.Now())
	}

	seen := map[string]int{}
	var lastUpdated string
	for offset := 0; ; offset += 3 {
		items, gotTotal, err := s.Archive("closed", 3, offset)
		if err != nil {
			t.Fatalf("Archive(offset=%d): %v", offset, err)
		}
		if gotTotal != total {
			t.Errorf("total = %d, want %d", gotTotal, total)
		}
		if len(items) == 0 {
			break
		}
		for _, item := range items {
			seen[item.ID]++
			if lastUpdated != "" && item.UpdatedAt > lastUpdated {
				t.Errorf("archive not ordered by updated_at desc: %q after %q", item.UpdatedAt, lastUpdated)
			}
			lastUpdated = item.UpdatedAt
		}
	}

	if len(seen) != total {
		t.Errorf("saw %d distinct sessions, want %d", len(seen), total)
	}
	for id, count := range seen {
		if count != 1 {
			t.Errorf("session %s appeared %d times", id, count)
		}
	}
}

func TestArchiveStatusFilterAndAll(t *testing.T) {
	s := openTestStore(t)

	insertTestSession(t, s, "c1", "closed")
	insertTestSession(t, s, "st1", "stale")
	insertTestSession(t, s, "r1", "running")

	items, total, err := s.Archive("stale", 50, 0)
	if err != nil {
		t.Fatalf("Archive(stale): %v", err)
	}
	if total != 1 || len(items) != 1 || items[0].ID != "st1" {
		t.Errorf("stale filter: items=%v total=%d", items, total)
	}

	_, total, err = s.Archive("all", 50, 0)
	if err != nil {
		t.Fatalf("Archive(all): %v", err)
	}
	if total != 3 {
		t.Errorf("all filter total = %d, want 3", total)
	}
}

func TestArchiveCarriesTicketTitles(t *testing.T) {
	s := openTestStore(t)

	project, err := s.CreateProject("proj", t.TempDir(), "", "", "", "", "")
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}

	insertTestSession(t, s, "sess", "closed")

	t1, err := s.CreateTicket(project.ID, "First, with comma", "", "", "", "")
	if err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}
	t2, err := s.CreateTicket(project.ID, "Second", "", "", "", "")
	if err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}
	for _, id := range []string{t1.ID, t2.ID} {
		if _, err := s.AssignTicket(id, "sess"); err != nil {
			t.Fatalf("AssignTicket: %v", err)
		}
	}

	items, _, err := s.Archive("closed", 50, 0)
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("items = %d, want 1", len(items))
	}
	item := items[0]
	if item.TicketCount != 2 {
		t.Errorf("TicketCount = %d, want 2", item.TicketCount)
	}
	if len(item.TicketIDs) != 2 || len(item.TicketTitles) != 2 {
		t.Fatalf("ids=%v titles=%v", item.TicketIDs, item.TicketTitles)
	}
	titles := map[string]bool{}
	for _, title := range item.TicketTitles {
		titles[title] = true
	}
	if !titles["First, with comma"] || !titles["Second"] {
		t.Errorf("titles did not survive round trip: %v", item.TicketTitles)
	}
}

func TestTicketDefaults(t *testing.T) {
	s := openTestStore(t)
	dir := t.TempDir()
	project, err := s.CreateProject("", dir, "", "", "", "", "")
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	if project.Name != filepath.Base(dir) {
		t.Errorf("default project name = %q", project.Name)
	}

	ticket, err := s.CreateTicket(project.ID, "Fix the Thing!", "desc", "", "", "")
	if err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}
	if ticket.Status != TicketPending {
		t.Errorf("status = %q, want pending", ticket.Status)
	}
	wantBranch := fmt.Sprintf("ticket-%s-fix-the-thing", ticket.ID[:8])
	if ticket.BranchName != wantBranch {
		t.Errorf("branch = %q, want %q", ticket.BranchName, wantBranch)
	}
	wantWorktree := filepath.Join(dir, ".worktrees", wantBranch)
	if ticket.WorktreePath != wantWorktree {
		t.Errorf("worktree = %q, want %q", ticket.WorktreePath, wantWorktree)
	}

	if _, err := s.CreateTicket(project.ID, "   ", "", "", "", ""); err == nil {
		t.Error("empty title accepted")
	}
	if _, err := s.CreateTicket("nope", "t", "", "", "", ""); err != ErrNotFound {
		t.Errorf("unknown project err = %v, want ErrNotFound", err)
	}
}

func TestTicketUpdateValidation(t *testing.T) {
	s := openTestStore(t)
	project, _ := s.CreateProject("p", t.TempDir(), "", "", "", "", "")
	ticket, _ := s.CreateTicket(project.ID, "t", "", "", "", "")

	bad := "launched"
	if _, err := s.UpdateTicket(ticket.ID, TicketUpdate{Status: &bad}); err == nil {
		t.Error("invalid status accepted")
	}

	done := TicketDone
	desc := "updated"
	updated, err := s.UpdateTicket(ticket.ID, TicketUpdate{Status: &done, Description: &desc})
	if err != nil {
		t.Fatalf("UpdateTicket: %v", err)
	}
	if updated.Status != TicketDone || updated.Description != "updated" {
		t.Errorf("updated = %+v", updated)
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Fix the Thing!", "fix-the-thing"},
		{"  weird -- spacing  ", "weird-spacing"},
		{"///", "ticket"},
		{"CamelCase123", "camelcase123"},
	}
	for _, tt := range tests {
		if got := Slugify(tt.in); got != tt.want {
			t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestActivityLog(t *testing.T) {
	s := openTestStore(t)
	project, _ := s.CreateProject("p", t.TempDir(), "", "", "", "", "")

	entries, err := s.ListActivity(project.ID, 10)
	if err != nil {
		t.Fatalf("ListActivity: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != "create" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestMemoryCRUD(t *testing.T) {
	s := openTestStore(t)
	project, _ := s.CreateProject("p", t.TempDir(), "", "", "", "", "")

	first, err := s.CreateMemory(project.ID, "decision", "use sqlite")
	if err != nil {
		t.Fatalf("CreateMemory: %v", err)
	}
	second, err := s.CreateMemory(project.ID, "convention", "branch per ticket")
	if err != nil {
		t.Fatalf("CreateMemory: %v", err)
	}

	notes, err := s.ListMemory(project.ID)
	if err != nil {
		t.Fatalf("ListMemory: %v", err)
	}
	if len(notes) != 2 {
		t.Fatalf("len(notes) = %d, want 2", len(notes))
	}
	if notes[0].ID != second.ID || notes[1].ID != first.ID {
		t.Errorf("notes not newest-first: %+v", notes)
	}

	content := "use sqlite in WAL mode"
	updated, err := s.UpdateMemory(first.ID, MemoryUpdate{Content: &content})
	if err != nil {
		t.Fatalf("UpdateMemory: %v", err)
	}
	if updated.Content != content || updated.Type != "decision" {
		t.Errorf("updated = %+v", updated)
	}

	empty := "  "
	if _, err := s.UpdateMemory(first.ID, MemoryUpdate{Type: &empty}); err == nil {
		t.Error("empty type accepted on update")
	}

	if err := s.DeleteMemory(first.ID); err != nil {
		t.Fatalf("DeleteMemory: %v", err)
	}
	if _, err := s.GetMemory(first.ID); err != ErrNotFound {
		t.Errorf("GetMemory after delete = %v, want ErrNotFound", err)
	}
	if err := s.DeleteMemory(first.ID); err != ErrNotFound {
		t.Errorf("second DeleteMemory = %v, want ErrNotFound", err)
	}
}

func TestMemoryValidation(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.CreateMemory("nope", "decision", "x"); err != ErrNotFound {
		t.Errorf("unknown project err = %v, want ErrNotFound", err)
	}

	project, _ := s.CreateProject("p", t.TempDir(), "", "", "", "", "")
	if _, err := s.CreateMemory(project.ID, "   ", "x"); err == nil {
		t.Error("empty type accepted")
	}
}
