package domain

import "testing"

func TestProgressCompleteLessonIsMonotonic(t *testing.T) {
	p := NewProgress("u1", "c1")

	p.CompleteLesson("1-1", 4)
	p.CompleteLesson("1-1", 4)
	p.CompleteLesson("1-2", 4)

	if len(p.CompletedLessons) != 2 {
		t.Fatalf("expected 2 completed lessons, got %d", len(p.CompletedLessons))
	}
	if p.PercentComplete != 50 {
		t.Fatalf("expected 50%%, got %d", p.PercentComplete)
	}
	if p.Status != StatusInProgress {
		t.Fatalf("expected in_progress, got %s", p.Status)
	}
}

func TestProgressCompletesAtHundredPercent(t *testing.T) {
	p := NewProgress("u1", "c1")
	p.CompleteLesson("a", 2)
	p.CompleteLesson("b", 2)

	if p.PercentComplete != 100 || p.Status != StatusCompleted {
		t.Fatalf("expected completed at 100%%, got %d %s", p.PercentComplete, p.Status)
	}
}

func TestProgressNeedsWellnessCheck(t *testing.T) {
	p := NewProgress("u1", "c1")
	p.CompleteLesson("a", 0) // defaults to 20 lessons -> 5%
	if p.NeedsWellnessCheck() {
		t.Fatal("did not expect a wellness check at 5%")
	}

	for _, id := range []string{"b", "c", "d", "e"} {
		p.CompleteLesson(id, 0)
	}
	if !p.NeedsWellnessCheck() {
		t.Fatalf("expected a wellness check at %d%%", p.PercentComplete)
	}

	p.WellnessCheckCompleted = true
	if p.NeedsWellnessCheck() {
		t.Fatal("did not expect a second wellness check")
	}
}
