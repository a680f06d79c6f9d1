package orchestrator

import (
	"testing"

	"github.com/user/vidcompress/pkg/pipeline"
)

func TestProgressReporter(t *testing.T) {
	var got []pipeline.ProgressEvent
	p := newProgressReporter(func(e pipeline.ProgressEvent) { got = append(got, e) })

	p.initializing()
	p.compressing(1, 3)
	p.compressing(2, 3)
	p.compressing(3, 3)
	p.finalizing()
	p.completed()

	want := []pipeline.ProgressEvent{
		{Stage: pipeline.StageInitializing, Progress: 0},
		{Stage: pipeline.StageCompressing, Progress: 27},
		{Stage: pipeline.StageCompressing, Progress: 53},
		{Stage: pipeline.StageCompressing, Progress: 80},
		{Stage: pipeline.StageFinalizing, Progress: 90},
		{Stage: pipeline.StageCompleted, Progress: 100},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d events, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestProgressReporter_NeverDecreases(t *testing.T) {
	var got []int
	p := newProgressReporter(func(e pipeline.ProgressEvent) { got = append(got, e.Progress) })

	p.compressing(5, 10)
	p.compressing(4, 10)
	p.compressing(0, 0)

	if len(got) != 2 || got[0] != 40 || got[1] != 40 {
		t.Errorf("got %v, want [40 40]", got)
	}
}

func TestProgressReporter_NilCallback(t *testing.T) {
	p := newProgressReporter(nil)
	p.initializing()
	p.completed()
}
