package history

import (
	"context"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/cuebox/cuebox/pkg/kv"
)

func testRecord(scene string, end time.Time) Record {
	return Record{
		Room:      "room1",
		Scene:     scene,
		Trigger:   "button",
		Outcome:   OutcomeCompleted,
		StartedAt: end.Add(-30 * time.Second),
		EndedAt:   end,
		States: []StateVisit{
			{Name: "intro", EnteredAt: end.Add(-30 * time.Second)},
			{Name: "finale", EnteredAt: end.Add(-10 * time.Second)},
		},
	}
}

func sceneNames(recs []Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Scene
	}
	return out
}

func TestHistoryRoundTrip(t *testing.T) {
	s := New(kv.NewMemory(nil))
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	end := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	in := testRecord("intro", end)
	in.Outcome = OutcomeStopped
	in.Reason = "global:room1/STOP"
	if err := s.Append(ctx, in); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	r := got[0]
	if r.ID == "" {
		t.Error("no ID assigned")
	}
	if r.Room != "room1" || r.Scene != "intro" || r.Trigger != "button" {
		t.Errorf("record = %+v", r)
	}
	if r.Outcome != OutcomeStopped || r.Reason != "global:room1/STOP" {
		t.Errorf("outcome = %s, reason = %s", r.Outcome, r.Reason)
	}
	if !r.EndedAt.Equal(end) || !r.StartedAt.Equal(end.Add(-30*time.Second)) {
		t.Errorf("times = %v .. %v", r.StartedAt, r.EndedAt)
	}
	if len(r.States) != 2 || r.States[0].Name != "intro" || r.States[1].Name != "finale" {
		t.Fatalf("states = %+v", r.States)
	}
	if !r.States[1].EnteredAt.Equal(end.Add(-10 * time.Second)) {
		t.Errorf("visit time = %v", r.States[1].EnteredAt)
	}
}

func TestHistoryRecentNewestFirst(t *testing.T) {
	s := New(kv.NewMemory(nil))
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	// Three runs straddling midnight, so ordering crosses day partitions.
	base := time.Date(2026, 3, 14, 23, 59, 0, 0, time.UTC)
	for i := range 3 {
		end := base.Add(time.Duration(i) * 2 * time.Minute)
		if err := s.Append(ctx, testRecord(fmt.Sprintf("scene%d", i), end)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if want := []string{"scene2", "scene1"}; !slices.Equal(sceneNames(got), want) {
		t.Fatalf("Recent(2) = %v, want %v", sceneNames(got), want)
	}

	all, err := s.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if want := []string{"scene2", "scene1", "scene0"}; !slices.Equal(sceneNames(all), want) {
		t.Fatalf("Recent(0) = %v, want %v", sceneNames(all), want)
	}
}

func TestHistoryAssignsUniqueIDs(t *testing.T) {
	s := New(kv.NewMemory(nil))
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	end := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	if err := s.Append(ctx, testRecord("a", end)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Append(ctx, testRecord("b", end.Add(time.Minute))); err != nil {
		t.Fatalf("Append: %v", err)
	}
	keep := testRecord("c", end.Add(2*time.Minute))
	keep.ID = "fixed-id"
	if err := s.Append(ctx, keep); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := s.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].ID != "fixed-id" {
		t.Errorf("explicit ID not preserved: %q", got[0].ID)
	}
	if got[1].ID == "" || got[2].ID == "" || got[1].ID == got[2].ID {
		t.Errorf("generated IDs = %q, %q", got[1].ID, got[2].ID)
	}
}

func TestHistoryStampsMissingEnd(t *testing.T) {
	s := New(kv.NewMemory(nil))
	t.Cleanup(func() { s.Close() })
	fixed := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }
	ctx := context.Background()

	rec := testRecord("intro", time.Time{})
	rec.EndedAt = time.Time{}
	if err := s.Append(ctx, rec); err != nil {
		t.Fatalf("Append: %v", err)
	}
	got, err := s.Recent(ctx, 1)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 1 || !got[0].EndedAt.Equal(fixed) {
		t.Fatalf("EndedAt = %v, want %v", got[0].EndedAt, fixed)
	}
}

func TestHistoryPrune(t *testing.T) {
	s := New(kv.NewMemory(nil))
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	day := time.Date(2026, 3, 12, 10, 0, 0, 0, time.UTC)
	for d := range 3 {
		for i := range 2 {
			end := day.AddDate(0, 0, d).Add(time.Duration(i) * time.Hour)
			if err := s.Append(ctx, testRecord(fmt.Sprintf("d%d-%d", d, i), end)); err != nil {
				t.Fatalf("Append: %v", err)
			}
		}
	}

	removed, err := s.Prune(ctx, day.AddDate(0, 0, 2))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 4 {
		t.Fatalf("removed = %d, want 4", removed)
	}

	got, err := s.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if want := []string{"d2-1", "d2-0"}; !slices.Equal(sceneNames(got), want) {
		t.Fatalf("after prune = %v, want %v", sceneNames(got), want)
	}

	removed, err = s.Prune(ctx, day.AddDate(0, 0, 2))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 0 {
		t.Fatalf("second prune removed = %d, want 0", removed)
	}
}

func TestHistoryBadgerInMemory(t *testing.T) {
	s, err := Open("")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	end := time.Date(2026, 3, 14, 16, 0, 0, 0, time.UTC)
	if err := s.Append(ctx, testRecord("intro", end)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Append(ctx, testRecord("finale", end.Add(time.Minute))); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := s.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if want := []string{"finale", "intro"}; !slices.Equal(sceneNames(got), want) {
		t.Fatalf("recent = %v, want %v", sceneNames(got), want)
	}
}
