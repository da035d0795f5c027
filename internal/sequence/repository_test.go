package sequence

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFromMapOrdersBySeq(t *testing.T) {
	repo := FromMap(map[string][]Entry{
		"s1": {
			{Code: "B", DOK: 2, Seq: 5},
			{Code: "A", DOK: 1, Seq: 1},
			{Code: "C", DOK: 3, Seq: 3},
		},
	})

	got := repo.HistoryFor("s1")
	want := []string{"A", "C", "B"}
	if len(got) != len(want) {
		t.Fatalf("history length=%d, want %d", len(got), len(want))
	}
	for i, code := range want {
		if got[i].Code != code {
			t.Fatalf("history[%d]=%q, want %q", i, got[i].Code, code)
		}
	}
}

func TestKnownAndUnknownStudents(t *testing.T) {
	repo := FromMap(map[string][]Entry{
		"s1": {{Code: "A", Seq: 1}},
		"s2": {},
	})

	if !repo.Known("s1") {
		t.Fatal("s1 should be known")
	}
	if !repo.Known("s2") {
		t.Fatal("s2 has an empty history but is still known")
	}
	if repo.Known("ghost") {
		t.Fatal("ghost should be unknown")
	}
	if h := repo.HistoryFor("ghost"); len(h) != 0 {
		t.Fatalf("unknown student history length=%d, want 0", len(h))
	}
	if got := repo.Students(); got != 2 {
		t.Fatalf("Students=%d, want 2", got)
	}
}

func TestLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sequences.json")
	raw := `{
		"s1": [
			{"canonical_ccss": "3.OA.2", "normalized_dok": 2, "assessment_seq": 2, "score": 0.5},
			{"canonical_ccss": "3.OA.1", "normalized_dok": 1, "assessment_seq": 1}
		]
	}`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	repo, err := LoadJSON(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	h := repo.HistoryFor("s1")
	if len(h) != 2 {
		t.Fatalf("history length=%d, want 2", len(h))
	}
	if h[0].Code != "3.OA.1" || h[1].Code != "3.OA.2" {
		t.Fatalf("history out of sequence order: %q, %q", h[0].Code, h[1].Code)
	}
	if h[0].Score != nil {
		t.Fatalf("entry without score should carry nil, got %v", *h[0].Score)
	}
	if h[1].Score == nil || *h[1].Score != 0.5 {
		t.Fatalf("scored entry lost its score: %v", h[1].Score)
	}
	if h[1].DOK != 2 {
		t.Fatalf("dok=%d, want 2", h[1].DOK)
	}
}

func TestLoadJSONMissingFile(t *testing.T) {
	if _, err := LoadJSON(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadJSONMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := LoadJSON(path); err == nil {
		t.Fatal("expected parse error")
	}
}
