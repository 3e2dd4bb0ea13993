package storage

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func strPtr(s string) *string { return &s }

func TestSettings_SetGetDelete(t *testing.T) {
	store := newTestStore(t)

	if _, ok, err := store.GetSetting("serverUrl"); err != nil || ok {
		t.Fatalf("GetSetting on empty store = ok %v, err %v", ok, err)
	}

	err := store.SetSettings(map[string]*string{
		"serverUrl":         strPtr("ws://host:8080"),
		"reconnectionToken": strPtr("tok"),
		"clientId":          strPtr("cid"),
	})
	if err != nil {
		t.Fatalf("SetSettings failed: %v", err)
	}

	v, ok, err := store.GetSetting("serverUrl")
	if err != nil || !ok || v != "ws://host:8080" {
		t.Errorf("serverUrl = %q ok=%v err=%v", v, ok, err)
	}

	// Overwrite one key and delete another in the same call.
	err = store.SetSettings(map[string]*string{
		"reconnectionToken": strPtr("tok2"),
		"clientId":          nil,
	})
	if err != nil {
		t.Fatalf("SetSettings update failed: %v", err)
	}
	if v, _, _ := store.GetSetting("reconnectionToken"); v != "tok2" {
		t.Errorf("reconnectionToken = %q, want tok2", v)
	}
	if _, ok, _ := store.GetSetting("clientId"); ok {
		t.Error("clientId should be deleted")
	}

	if err := store.SetSettings(map[string]*string{"serverUrl": nil, "reconnectionToken": nil}); err != nil {
		t.Fatalf("SetSettings delete failed: %v", err)
	}
	if _, ok, _ := store.GetSetting("serverUrl"); ok {
		t.Error("serverUrl should be deleted")
	}
}

func TestSettings_PersistAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.db")

	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	if err := store.SetSettings(map[string]*string{"authId": strPtr("pair-1")}); err != nil {
		t.Fatal(err)
	}
	store.Close()

	reopened, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	v, ok, err := reopened.GetSetting("authId")
	if err != nil || !ok || v != "pair-1" {
		t.Errorf("authId after reopen = %q ok=%v err=%v", v, ok, err)
	}
}

func TestEventLog_AppendTrimsToLimit(t *testing.T) {
	store := newTestStore(t)
	base := time.Now()

	for i := 0; i < 7; i++ {
		rec := LogRecord{
			ID:        fmt.Sprintf("id-%d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
			Level:     "info",
			Category:  "connection",
			Message:   fmt.Sprintf("message %d", i),
		}
		if err := store.AppendLogEntry(rec, 5); err != nil {
			t.Fatalf("AppendLogEntry %d failed: %v", i, err)
		}
	}

	all, err := store.ListLogEntries(0)
	if err != nil {
		t.Fatalf("ListLogEntries failed: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("expected 5 entries after trim, got %d", len(all))
	}
	if all[0].ID != "id-2" || all[4].ID != "id-6" {
		t.Errorf("unexpected order: first %s last %s", all[0].ID, all[4].ID)
	}

	tail, err := store.ListLogEntries(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(tail) != 2 || tail[0].ID != "id-5" || tail[1].ID != "id-6" {
		t.Errorf("tail = %+v", tail)
	}

	if err := store.ClearLogEntries(); err != nil {
		t.Fatal(err)
	}
	if all, _ := store.ListLogEntries(0); len(all) != 0 {
		t.Errorf("expected empty log, got %d", len(all))
	}
}

func TestIssuedTokens(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().Truncate(time.Millisecond)

	if _, err := store.GetIssuedToken("missing"); err != ErrTokenNotFound {
		t.Fatalf("expected ErrTokenNotFound, got %v", err)
	}
	if err := store.SaveIssuedToken(nil); err == nil {
		t.Fatal("expected error for nil token")
	}

	for _, id := range []string{"a", "b"} {
		err := store.SaveIssuedToken(&IssuedToken{ClientID: id, TokenHash: "hash-" + id, CreatedAt: now, LastSeen: now})
		if err != nil {
			t.Fatalf("SaveIssuedToken %s failed: %v", id, err)
		}
	}

	got, err := store.GetIssuedToken("a")
	if err != nil {
		t.Fatal(err)
	}
	if got.TokenHash != "hash-a" || !got.CreatedAt.Equal(now) {
		t.Errorf("token a = %+v", got)
	}

	if err := store.DeleteIssuedToken("a"); err != nil {
		t.Fatal(err)
	}
	list, err := store.ListIssuedTokens()
	if err != nil || len(list) != 1 || list[0].ClientID != "b" {
		t.Fatalf("list after delete = %v err=%v", list, err)
	}

	if err := store.DeleteAllIssuedTokens(); err != nil {
		t.Fatal(err)
	}
	if list, _ := store.ListIssuedTokens(); len(list) != 0 {
		t.Errorf("expected no tokens, got %d", len(list))
	}
}

func TestConcurrentSettings(t *testing.T) {
	store := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v := fmt.Sprintf("v%d", i)
			if err := store.SetSettings(map[string]*string{"k": &v}); err != nil {
				t.Errorf("SetSettings: %v", err)
			}
			if _, _, err := store.GetSetting("k"); err != nil {
				t.Errorf("GetSetting: %v", err)
			}
		}(i)
	}
	wg.Wait()
}
