package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestReadWriteDelete(t *testing.T) {
	s := NewStore(t.TempDir())

	if rec, err := s.Read("db"); err != nil || rec != nil {
		t.Fatalf("expected missing record, got %+v, %v", rec, err)
	}

	started := time.Now().UTC().Truncate(time.Second)
	if err := s.Write("db", Record{PID: 4242, StartedAt: started}); err != nil {
		t.Fatal(err)
	}

	rec, err := s.Read("db")
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil || rec.PID != 4242 || !rec.StartedAt.Equal(started) {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.LogPath != s.LogPath("db") {
		t.Fatalf("expected log path filled in, got %q", rec.LogPath)
	}

	if err := s.Delete("db"); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete("db"); err != nil {
		t.Fatalf("delete should be idempotent, got %v", err)
	}
	if rec, _ := s.Read("db"); rec != nil {
		t.Fatalf("expected record gone, got %+v", rec)
	}
}

func TestReadRemovesCorruptRecord(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	path := filepath.Join(dir, "pids", "db.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	rec, err := s.Read("db")
	if err != nil || rec != nil {
		t.Fatalf("corrupt record should read as absent, got %+v, %v", rec, err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("corrupt record file should have been removed")
	}
}

func TestReadRejectsNonPositivePID(t *testing.T) {
	s := NewStore(t.TempDir())
	if err := s.Write("db", Record{PID: 0}); err != nil {
		t.Fatal(err)
	}
	if rec, _ := s.Read("db"); rec != nil {
		t.Fatalf("pid 0 record should read as absent, got %+v", rec)
	}
}

func TestListSorted(t *testing.T) {
	s := NewStore(t.TempDir())
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := s.Write(name, Record{PID: 1000}); err != nil {
			t.Fatal(err)
		}
	}
	names, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"alpha", "mid", "zeta"}
	if len(names) != len(want) {
		t.Fatalf("expected %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, names)
		}
	}
}

func TestRenameMovesRecordAndLogs(t *testing.T) {
	s := NewStore(t.TempDir())
	if err := s.Write("old", Record{PID: 777}); err != nil {
		t.Fatal(err)
	}
	f, err := s.OpenLog("old", 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("log line\n"); err != nil {
		t.Fatal(err)
	}
	f.Close()

	if err := s.Rename("old", "new"); err != nil {
		t.Fatal(err)
	}

	rec, err := s.Read("new")
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil || rec.PID != 777 {
		t.Fatalf("record did not move: %+v", rec)
	}
	if rec.LogPath != s.LogPath("new") {
		t.Fatalf("record log path not updated: %q", rec.LogPath)
	}
	if old, _ := s.Read("old"); old != nil {
		t.Fatalf("old record still present: %+v", old)
	}
	if _, err := os.Stat(s.LogPath("new")); err != nil {
		t.Fatalf("log did not move: %v", err)
	}
	if _, err := os.Stat(s.LogPath("old")); !os.IsNotExist(err) {
		t.Fatal("old log still present")
	}
}

func TestRenameWithoutRecord(t *testing.T) {
	s := NewStore(t.TempDir())
	if err := s.Rename("ghost", "other"); err != nil {
		t.Fatalf("rename of absent tunnel should succeed, got %v", err)
	}
}

func TestPurge(t *testing.T) {
	s := NewStore(t.TempDir())
	if err := s.Write("db", Record{PID: 55}); err != nil {
		t.Fatal(err)
	}
	f, err := s.OpenLog("db", 0)
	if err != nil {
		t.Fatal(err)
	}
	f.Close()

	if err := s.Purge("db"); err != nil {
		t.Fatal(err)
	}
	if rec, _ := s.Read("db"); rec != nil {
		t.Fatal("record survived purge")
	}
	if _, err := os.Stat(s.LogPath("db")); !os.IsNotExist(err) {
		t.Fatal("log survived purge")
	}
}

func TestOpenLogRotatesWhenOversized(t *testing.T) {
	s := NewStore(t.TempDir())

	f, err := s.OpenLog("db", 16)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("this line is well past sixteen bytes\n"); err != nil {
		t.Fatal(err)
	}
	f.Close()

	f, err = s.OpenLog("db", 16)
	if err != nil {
		t.Fatal(err)
	}
	f.Close()

	old := oldLogPath(s.LogPath("db"))
	if _, err := os.Stat(old); err != nil {
		t.Fatalf("expected rotated log at %s: %v", old, err)
	}
	info, err := os.Stat(s.LogPath("db"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != 0 {
		t.Fatalf("expected fresh log after rotation, size %d", info.Size())
	}
}

func TestLogsListsTunnelsWithLogFiles(t *testing.T) {
	store := NewStore(t.TempDir())
	for _, name := range []string{"db", "cache"} {
		f, err := store.OpenLog(name, 0)
		if err != nil {
			t.Fatal(err)
		}
		f.Close()
	}
	names, err := store.Logs()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 || names[0] != "cache" || names[1] != "db" {
		t.Fatalf("Logs() = %v", names)
	}

	empty := NewStore(t.TempDir())
	names, err = empty.Logs()
	if err != nil || names != nil {
		t.Fatalf("Logs() on empty store = %v, %v", names, err)
	}
}
