package resolver

import (
	"io"
	"log/slog"
	"slices"
	"testing"

	"github.com/Vortex-9191/slack-question-bot/internal/directory"
)

func newTestResolver() *Resolver {
	return New(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestResolve_StructuredPrefix(t *testing.T) {
	r := newTestResolver()
	dir := []directory.Channel{{ID: "C1", Name: "d1_999_clinic", IsMember: true}}

	got := r.Resolve("999", dir)
	if !got.Matched || got.Channel.ID != "C1" {
		t.Fatalf("Resolve = %+v, want C1", got)
	}
	if got.MatchedBy != "structured_prefix" {
		t.Errorf("MatchedBy = %q", got.MatchedBy)
	}
}

func TestResolve_InfoSuffixPrivate(t *testing.T) {
	r := newTestResolver()
	dir := []directory.Channel{{ID: "G1", Name: "999_info", IsPrivate: true}}

	got := r.Resolve("999", dir)
	if !got.Matched || got.Channel.ID != "G1" {
		t.Fatalf("Resolve = %+v, want G1", got)
	}
	if got.MatchedBy != "info_suffix" {
		t.Errorf("MatchedBy = %q", got.MatchedBy)
	}
}

func TestResolve_PrefersStructuredPrefix(t *testing.T) {
	r := newTestResolver()
	info := directory.Channel{ID: "C_INFO", Name: "999_info"}
	prefix := directory.Channel{ID: "C_PREFIX", Name: "d3_999_ward"}

	// Order of the listing must not matter.
	for _, dir := range [][]directory.Channel{{info, prefix}, {prefix, info}} {
		got := r.Resolve("999", dir)
		if got.Channel.ID != "C_PREFIX" {
			t.Errorf("Resolve(%v) = %s, want C_PREFIX", dir, got.Channel.ID)
		}
	}
}

func TestResolve_NoMatch(t *testing.T) {
	r := newTestResolver()

	tests := []struct {
		name     string
		doctorID string
		dir      []directory.Channel
	}{
		{"empty directory", "123", nil},
		{"empty id", "", []directory.Channel{{ID: "C1", Name: "d1__x"}}},
		{"whitespace id", "   ", []directory.Channel{{ID: "C1", Name: "d1_ _x"}}},
		{"different doctor", "123", []directory.Channel{{ID: "C1", Name: "d1_1234_x"}, {ID: "C2", Name: "1234_info"}}},
		{"missing ward digits", "123", []directory.Channel{{ID: "C1", Name: "d_123_x"}}},
		{"missing trailing underscore", "123", []directory.Channel{{ID: "C1", Name: "d1_123"}}},
		{"info with extra suffix", "123", []directory.Channel{{ID: "C1", Name: "123_info_old"}}},
		{"case differs", "abc", []directory.Channel{{ID: "C1", Name: "d1_ABC_x"}}},
		{"archived only", "123", []directory.Channel{{ID: "C1", Name: "d1_123_x", IsArchived: true}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Resolve(tt.doctorID, tt.dir); got.Matched {
				t.Errorf("Resolve = %+v, want NoMatch", got)
			}
		})
	}
}

func TestResolve_EscapesMetacharacters(t *testing.T) {
	r := newTestResolver()
	dir := []directory.Channel{
		{ID: "C1", Name: "d1_999_clinic"},
		{ID: "C2", Name: "d2_12a_ward"},
		{ID: "C3", Name: "d3_1.2_ward"},
		{ID: "C4", Name: "d4_a+b_ward"},
	}

	tests := []struct {
		doctorID string
		wantID   string // "" = NoMatch
	}{
		{".*", ""},
		{"9+", ""},
		{"12.", ""},
		{"(999)", ""},
		{"999|12a", ""},
		{"[0-9]+", ""},
		{`\d+`, ""},
		{"1.2", "C3"},
		{"a+b", "C4"},
	}
	for _, tt := range tests {
		t.Run(tt.doctorID, func(t *testing.T) {
			got := r.Resolve(tt.doctorID, dir)
			if got.Channel.ID != tt.wantID {
				t.Errorf("Resolve(%q) = %q, want %q", tt.doctorID, got.Channel.ID, tt.wantID)
			}
		})
	}
}

func TestResolve_DeterministicTieBreak(t *testing.T) {
	r := newTestResolver()
	a := directory.Channel{ID: "C9", Name: "d1_999_a"}
	b := directory.Channel{ID: "C1", Name: "d2_999_b"}
	c := directory.Channel{ID: "C5", Name: "d1_999_a"}

	want := r.Resolve("999", []directory.Channel{a, b, c})
	if want.Channel.ID != "C5" || want.Candidates != 3 {
		t.Fatalf("Resolve = %+v, want C5 with 3 candidates", want)
	}

	perms := [][]directory.Channel{{c, b, a}, {b, a, c}, {b, c, a}}
	for _, p := range perms {
		if got := r.Resolve("999", p); got != want {
			t.Errorf("Resolve(%v) = %+v, want %+v", p, got, want)
		}
	}
}

func TestResolve_Idempotent(t *testing.T) {
	r := newTestResolver()
	dir := []directory.Channel{
		{ID: "C1", Name: "999_info"},
		{ID: "C2", Name: "d7_999_x"},
	}
	snapshot := slices.Clone(dir)

	first := r.Resolve("999", dir)
	second := r.Resolve("999", dir)
	if first != second {
		t.Errorf("results differ: %+v vs %+v", first, second)
	}
	if !slices.Equal(dir, snapshot) {
		t.Error("Resolve mutated the snapshot")
	}
}

func TestResolve_TrimsDoctorID(t *testing.T) {
	r := newTestResolver()
	dir := []directory.Channel{{ID: "C1", Name: "d1_999_clinic"}}
	if got := r.Resolve("  999 ", dir); got.Channel.ID != "C1" {
		t.Errorf("Resolve = %+v, want C1", got)
	}
}

func TestResolve_SkipsArchivedForLiveAlternative(t *testing.T) {
	r := newTestResolver()
	dir := []directory.Channel{
		{ID: "C1", Name: "d1_999_a", IsArchived: true},
		{ID: "C2", Name: "999_info"},
	}
	got := r.Resolve("999", dir)
	if got.Channel.ID != "C2" || got.MatchedBy != "info_suffix" {
		t.Errorf("Resolve = %+v, want live info channel", got)
	}
}

func TestResolve_CustomPolicy(t *testing.T) {
	r := New([]Rule{InfoSuffix{}}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	dir := []directory.Channel{{ID: "C1", Name: "d1_999_a"}}
	if got := r.Resolve("999", dir); got.Matched {
		t.Errorf("info-only policy matched %+v", got)
	}
}
