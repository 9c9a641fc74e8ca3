package main

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// ProgressPrinter displays progress messages with elapsed time.
//
// Usage:
//
//	p := NewProgressPrinter(os.Stdout, ...)
//	p.Start()
//	defer p.Stop()
//
// On a terminal the line is redrawn in place every progressUpdateInterval.
// Elsewhere only phase changes and every tenth percent are printed, one per
// line. A ProgressPrinter is single-use.
type ProgressPrinter struct {
	out         io.Writer
	interactive bool

	prefix     string
	phase      atomic.Value        // stores string - current phase name
	percent    atomic.Int32        // -1 until a transfer reports progress
	stopPhases map[string]struct{} // set of phases that trigger a graceful shutdown
	startTime  time.Time
	countUp    bool          // true for count up, false for countdown
	duration   time.Duration // for countdown mode

	mu          sync.Mutex // serialises writes to out
	lastPrinted string
	lastDecile  int32

	ticker   atomic.Pointer[time.Ticker]
	stopChan chan struct{}
	done     chan struct{} // closed when goroutine exits
	started  atomic.Bool
}

func newProgressPrinter(out io.Writer, prefix, phase string, stopPhases []string) *ProgressPrinter {
	stopSet := make(map[string]struct{})
	for _, p := range stopPhases {
		stopSet[p] = struct{}{}
	}
	p := &ProgressPrinter{
		out:         out,
		interactive: isTerminal(out),
		prefix:      prefix,
		stopPhases:  stopSet,
		countUp:     true,
		lastDecile:  -1,
	}
	p.phase.Store(phase)
	p.percent.Store(-1)
	return p
}

// NewProgressPrinter creates a progress printer that counts up (shows elapsed time).
// stopPhases are phase names that will trigger automatic cleanup when set via Callback.
func NewProgressPrinter(out io.Writer, prefix string, phase string, stopPhases ...string) *ProgressPrinter {
	return newProgressPrinter(out, prefix, phase, stopPhases)
}

// NewCountdownProgressPrinter creates a progress printer that counts down from the duration.
func NewCountdownProgressPrinter(out io.Writer, prefix string, phase string, duration time.Duration, stopPhases ...string) *ProgressPrinter {
	p := newProgressPrinter(out, prefix, phase, stopPhases)
	p.countUp = false
	p.duration = duration
	return p
}

// Start begins displaying progress. Panics if called more than once.
func (p *ProgressPrinter) Start() {
	if !p.started.CompareAndSwap(false, true) {
		panic("ProgressPrinter.Start called more than once")
	}

	p.done = make(chan struct{})
	p.stopChan = make(chan struct{})
	p.startTime = time.Now()

	if !p.interactive {
		close(p.done)
		p.printLine(p.phase.Load().(string))
		return
	}

	ticker := time.NewTicker(progressUpdateInterval)
	p.ticker.Store(ticker)
	p.startProgressLoop(ticker)
}

// printLine writes one progress line for non-interactive output, skipping repeats.
func (p *ProgressPrinter) printLine(phase string) {
	line := fmt.Sprintf("%s: %s", p.prefix, phase)
	if pct := p.percent.Load(); pct >= 0 {
		line = fmt.Sprintf("%s %d%%", line, pct)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if line == p.lastPrinted {
		return
	}
	p.lastPrinted = line
	fmt.Fprintln(p.out, line)
}

// printProgress redraws the progress line with optional elapsed/remaining seconds
func (p *ProgressPrinter) printProgress(phase string, seconds int) {
	status := phase
	if pct := p.percent.Load(); pct >= 0 {
		status = fmt.Sprintf("%s %3d%%", phase, pct)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if seconds > 0 {
		fmt.Fprintf(p.out, "\r%s (%s %ds)   ", p.prefix, status, seconds)
	} else {
		fmt.Fprintf(p.out, "\r%s (%s...)   ", p.prefix, status)
	}
}

// startProgressLoop starts the progress display goroutine.
func (p *ProgressPrinter) startProgressLoop(ticker *time.Ticker) {
	p.printProgress(p.phase.Load().(string), 0)

	go func() {
		defer close(p.done)

		for {
			select {
			case <-p.stopChan:
				return
			case <-ticker.C:
				currentPhase := p.phase.Load().(string)
				if _, isStopPhase := p.stopPhases[currentPhase]; isStopPhase {
					return
				}
				p.printProgress(currentPhase, p.seconds())
			}
		}
	}()
}

func (p *ProgressPrinter) seconds() int {
	elapsed := time.Since(p.startTime)
	if p.countUp {
		return int(elapsed.Seconds())
	}
	remaining := p.duration - elapsed
	if remaining <= 0 {
		return 0
	}
	// Round to the nearest second
	return int(remaining.Seconds() + 0.5)
}

// Callback returns a progress callback function that updates the phase.
// If the new phase is a stop phase, Stop() is called automatically.
// Safe to call from multiple goroutines.
func (p *ProgressPrinter) Callback() func(phase string) {
	return func(phase string) {
		p.phase.Store(phase)
		p.percent.Store(-1)
		if !p.interactive && p.started.Load() {
			p.printLine(phase)
		}
		if _, isStopPhase := p.stopPhases[phase]; isStopPhase {
			p.Stop()
		}
	}
}

// SetPercent shows a completion percentage next to the phase.
func (p *ProgressPrinter) SetPercent(pct int) {
	p.percent.Store(int32(pct))
	if p.interactive || !p.started.Load() {
		return
	}

	decile := int32(pct / 10)
	p.mu.Lock()
	report := decile != p.lastDecile
	p.lastDecile = decile
	p.mu.Unlock()
	if report {
		p.printLine(p.phase.Load().(string))
	}
}

// Stop stops the progress display and clears the line.
// Safe to call multiple times and from multiple goroutines.
func (p *ProgressPrinter) Stop() {
	ticker := p.ticker.Swap(nil)
	if ticker == nil {
		return // Already stopped, or never animated
	}

	ticker.Stop()
	close(p.stopChan)
	<-p.done

	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprint(p.out, clearLineSequence)
}

var (
	successColor = color.New(color.FgGreen, color.Bold)
	failureColor = color.New(color.FgRed, color.Bold)
	noticeColor  = color.New(color.FgYellow)
)

// printStatus prints a final status line, coloured on terminals.
func printStatus(out io.Writer, ok bool, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if !isTerminal(out) {
		fmt.Fprintln(out, msg)
		return
	}
	if ok {
		successColor.Fprintln(out, msg)
	} else {
		failureColor.Fprintln(out, msg)
	}
}
