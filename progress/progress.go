// Package progress shows a terminal spinner with the current stage and
// link while the pipeline runs.
package progress

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/briandowns/spinner"
)

// Spinner reports stage progress on a terminal. The spinner stays
// silent when stdout is not a terminal.
type Spinner struct {
	mu    sync.Mutex
	spin  *spinner.Spinner
	links int
}

// NewSpinner returns a spinner writing to w.
func NewSpinner(w io.Writer) *Spinner {
	return &Spinner{
		spin: spinner.New(spinner.CharSets[9], 100*time.Millisecond, spinner.WithWriter(w)),
	}
}

// StageStarted starts spinning for a stage with links links.
func (s *Spinner) StageStarted(name string, links int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.links = links
	s.setSuffix(fmt.Sprintf(" %s: starting (%d links)", name, links))
	s.spin.Start()
}

// LinkStarted updates the spinner with the link being crawled.
func (s *Spinner) LinkStarted(stage string, index, total int, url string) {
	s.setSuffix(fmt.Sprintf(" %s: link %d/%d %s", stage, index+1, total, url))
}

// StageFinished stops the spinner and leaves a one line summary.
func (s *Spinner) StageFinished(name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mark := "✓"
	if err != nil {
		mark = "✗"
	}
	s.spin.Lock()
	s.spin.FinalMSG = fmt.Sprintf("%s %s (%d links)\n", mark, name, s.links)
	s.spin.Unlock()
	s.spin.Stop()
}

// Suffix returns the current status line.
func (s *Spinner) Suffix() string {
	s.spin.Lock()
	defer s.spin.Unlock()
	return s.spin.Suffix
}

func (s *Spinner) setSuffix(suffix string) {
	s.spin.Lock()
	s.spin.Suffix = suffix
	s.spin.Unlock()
}
