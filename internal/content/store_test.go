package content

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hubenschmidt/lingofit-audio/gateway/internal/level"
	"github.com/hubenschmidt/lingofit-audio/gateway/internal/sqlstore"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), sqlstore.SQLite, filepath.Join(t.TempDir(), "content.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.InsertPlaceholder(ctx, 7, "Morning walk", "Hello.\nGoodbye.")
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if id <= 0 {
		t.Fatalf("id = %d", id)
	}

	got, err := s.Get(ctx, 7, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "Morning walk" || got.ScriptData != "Hello.\nGoodbye." {
		t.Errorf("got %+v", got)
	}
	if got.AudioURL != nil {
		t.Errorf("placeholder audio_url = %q, want nil", *got.AudioURL)
	}
	if got.ResponseJSON != nil {
		t.Errorf("placeholder response_json = %s, want nil", got.ResponseJSON)
	}
}

func TestGetOtherOwner(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.InsertPlaceholder(ctx, 1, "t", "s")
	if err != nil {
		t.Fatal(err)
	}
	if _, err = s.Get(ctx, 2, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestFinalizeMissingRow(t *testing.T) {
	s := openTestStore(t)

	out, err := s.Finalize(context.Background(), 999, "https://cdn/x.mp3", map[string]string{"a": "b"})
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if out != OutcomeNotFound {
		t.Errorf("outcome = %v, want not_found", out)
	}
}

func TestVocabSurvivesFinalize(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.InsertPlaceholder(ctx, 3, "t", "One.\nTwo.")
	if err != nil {
		t.Fatal(err)
	}

	vocab := map[string]any{"sentences": []map[string]any{{"index": 0, "text": "One."}}}
	if out, vErr := s.UpdateVocab(ctx, id, vocab); vErr != nil || out != OutcomeUpdated {
		t.Fatalf("vocab: %v %v", out, vErr)
	}

	resp := map[string]any{"title": "t", "audio_url": "https://cdn/a.mp3"}
	if out, fErr := s.Finalize(ctx, id, "https://cdn/a.mp3", resp); fErr != nil || out != OutcomeUpdated {
		t.Fatalf("finalize: %v %v", out, fErr)
	}

	got, err := s.Get(ctx, 3, id)
	if err != nil {
		t.Fatal(err)
	}
	if got.AudioURL == nil || *got.AudioURL != "https://cdn/a.mp3" {
		t.Errorf("audio_url = %v", got.AudioURL)
	}
	var v struct {
		Sentences []struct {
			Index int    `json:"index"`
			Text  string `json:"text"`
		} `json:"sentences"`
	}
	if err = json.Unmarshal(got.ScriptVocabs, &v); err != nil {
		t.Fatalf("decode vocab: %v", err)
	}
	if len(v.Sentences) != 1 || v.Sentences[0].Text != "One." {
		t.Errorf("vocab = %+v", v)
	}
	if got.Title != "t" || got.ScriptData != "One.\nTwo." {
		t.Errorf("finalize touched title/script: %+v", got)
	}
}

func TestListByOwner(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	s.clock = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	for _, title := range []string{"a", "b", "c"} {
		if _, err := s.InsertPlaceholder(ctx, 5, title, "x"); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.InsertPlaceholder(ctx, 6, "other", "x"); err != nil {
		t.Fatal(err)
	}

	items, total, err := s.ListByOwner(ctx, 5, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}
	if len(items) != 2 || items[0].Title != "c" || items[1].Title != "b" {
		t.Errorf("page 1 = %+v", items)
	}

	items, _, err = s.ListByOwner(ctx, 5, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].Title != "a" {
		t.Errorf("page 2 = %+v", items)
	}
}

func TestProfileRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p, err := s.Profile(ctx, 42)
	if err != nil {
		t.Fatal(err)
	}
	if p != (level.Profile{}) {
		t.Errorf("unknown learner = %+v, want zero", p)
	}

	want := level.Profile{Lexical: 120, Syntactic: 80.5, Speed: 300}
	if err = s.SaveProfile(ctx, 42, want); err != nil {
		t.Fatal(err)
	}
	if err = s.SaveProfile(ctx, 42, level.Profile{Lexical: 130, Syntactic: 80.5, Speed: 400}); err != nil {
		t.Fatal(err)
	}
	got, err := s.Profile(ctx, 42)
	if err != nil {
		t.Fatal(err)
	}
	if got.Lexical != 130 || got.Syntactic != 80.5 || got.Speed != 300 {
		t.Errorf("profile = %+v", got)
	}
}

func TestReopenKeepsSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "content.db")
	ctx := context.Background()

	s, err := Open(ctx, sqlstore.SQLite, path)
	if err != nil {
		t.Fatal(err)
	}
	id, err := s.InsertPlaceholder(ctx, 1, "t", "s")
	if err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = Open(ctx, sqlstore.SQLite, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	if _, err = s.Get(ctx, 1, id); err != nil {
		t.Errorf("get after reopen: %v", err)
	}
}
