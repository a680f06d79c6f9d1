package main

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/ideamans/go-l10n"
	"github.com/mattn/go-isatty"

	"github.com/user/vidcompress/pkg/pipeline"
)

// progressPrinter renders progress events. On a terminal it redraws one
// line; otherwise it prints a line per stage change.
type progressPrinter struct {
	w     io.Writer
	tty   bool
	quiet bool

	mu        sync.Mutex
	lastStage pipeline.ProgressStage
	lastValue int
	drawn     bool
}

func newProgressPrinter(w io.Writer, quiet bool) *progressPrinter {
	tty := false
	if f, ok := w.(*os.File); ok {
		tty = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &progressPrinter{w: w, tty: tty, quiet: quiet, lastValue: -1}
}

// Report is a pipeline.ProgressFunc.
func (p *progressPrinter) Report(ev pipeline.ProgressEvent) {
	if p.quiet {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if ev.Stage == p.lastStage && ev.Progress == p.lastValue {
		return
	}
	changed := ev.Stage != p.lastStage
	p.lastStage = ev.Stage
	p.lastValue = ev.Progress

	label := l10n.T(string(ev.Stage))
	if p.tty {
		fmt.Fprintf(p.w, "\r%-14s %3d%% %s", label, ev.Progress, bar(ev.Progress, 30))
		p.drawn = true
		return
	}
	if changed {
		fmt.Fprintf(p.w, "%s %d%%\n", label, ev.Progress)
	}
}

// Done terminates the redrawn line.
func (p *progressPrinter) Done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.drawn {
		fmt.Fprintln(p.w)
		p.drawn = false
	}
}

func bar(percent, width int) string {
	filled := percent * width / 100
	b := make([]byte, width)
	for i := range b {
		if i < filled {
			b[i] = '#'
		} else {
			b[i] = '.'
		}
	}
	return "[" + string(b) + "]"
}
