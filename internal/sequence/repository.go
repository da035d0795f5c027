// Package sequence indexes per-student historical assessment entries. The
// index is loaded once at process start and is read-only afterwards.
package sequence

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// Entry is one historical assessment of one student.
type Entry struct {
	// Code is the canonical concept code assessed.
	Code string
	// DOK is the normalized difficulty level of the item.
	DOK int
	// Seq is the position in the student's assessment timeline.
	Seq int
	// Score is the recorded outcome, when known.
	Score *float64
}

// Repository maps student ids to chronologically ordered history entries.
// Immutable after construction; safe for concurrent reads without locking.
type Repository struct {
	students map[string][]Entry
}

// FromMap builds a repository, sorting each student's entries by Seq.
func FromMap(m map[string][]Entry) *Repository {
	students := make(map[string][]Entry, len(m))
	for id, entries := range m {
		es := make([]Entry, len(entries))
		copy(es, entries)
		sort.SliceStable(es, func(i, j int) bool { return es[i].Seq < es[j].Seq })
		students[id] = es
	}
	return &Repository{students: students}
}

// Known reports whether the student id has ever been recorded, regardless of
// how many entries survive filtering.
func (r *Repository) Known(studentID string) bool {
	_, ok := r.students[studentID]
	return ok
}

// HistoryFor returns the student's entries ordered by sequence position. The
// result is empty, not an error, for an unknown student; callers decide
// whether that is acceptable.
func (r *Repository) HistoryFor(studentID string) []Entry {
	return r.students[studentID]
}

// Students returns the number of indexed students.
func (r *Repository) Students() int { return len(r.students) }

type jsonEntry struct {
	CanonicalCCSS string   `json:"canonical_ccss"`
	NormalizedDOK int      `json:"normalized_dok"`
	AssessmentSeq int      `json:"assessment_seq"`
	Score         *float64 `json:"score,omitempty"`
}

// LoadJSON reads the static student-sequence mapping produced by the
// assessment export job: {"student_id": [{canonical_ccss, normalized_dok,
// assessment_seq, score?}, ...], ...}.
func LoadJSON(path string) (*Repository, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sequences: %w", err)
	}
	var raw map[string][]jsonEntry
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("parse sequences %s: %w", path, err)
	}
	m := make(map[string][]Entry, len(raw))
	for id, entries := range raw {
		es := make([]Entry, 0, len(entries))
		for _, e := range entries {
			es = append(es, Entry{
				Code:  e.CanonicalCCSS,
				DOK:   e.NormalizedDOK,
				Seq:   e.AssessmentSeq,
				Score: e.Score,
			})
		}
		m[id] = es
	}
	return FromMap(m), nil
}
