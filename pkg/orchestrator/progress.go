package orchestrator

import (
	"math"

	"github.com/user/vidcompress/pkg/pipeline"
)

const (
	compressingWeight = 80
	finalizingPercent = 90
	completedPercent  = 100
)

// progressReporter forwards events to the caller, never letting the
// progress value decrease within a run.
type progressReporter struct {
	fn   pipeline.ProgressFunc
	last int
	sent bool
}

func newProgressReporter(fn pipeline.ProgressFunc) *progressReporter {
	return &progressReporter{fn: fn}
}

func (p *progressReporter) report(stage pipeline.ProgressStage, progress int) {
	if p.fn == nil {
		return
	}
	if progress < p.last {
		progress = p.last
	}
	if progress > completedPercent {
		progress = completedPercent
	}
	p.last = progress
	p.sent = true
	p.fn(pipeline.ProgressEvent{Stage: stage, Progress: progress})
}

func (p *progressReporter) initializing() {
	p.report(pipeline.StageInitializing, 0)
}

// compressing reports round(80 * done / total).
func (p *progressReporter) compressing(done, total int) {
	if total <= 0 {
		return
	}
	p.report(pipeline.StageCompressing, int(math.Round(compressingWeight*float64(done)/float64(total))))
}

func (p *progressReporter) finalizing() {
	p.report(pipeline.StageFinalizing, finalizingPercent)
}

func (p *progressReporter) completed() {
	p.report(pipeline.StageCompleted, completedPercent)
}
