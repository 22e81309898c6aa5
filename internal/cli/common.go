package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/text"
)

// FormatError formats an error message for CLI output
func FormatError(err error) string {
	return fmt.Sprintf("%s %v", text.FgRed.Sprint("Error:"), err)
}

// FormatSuccess formats a success message for CLI output
func FormatSuccess(msg string) string {
	return fmt.Sprintf("%s %s", text.FgGreen.Sprint("✓"), msg)
}

// FormatWarning formats a warning message for CLI output
func FormatWarning(msg string) string {
	return fmt.Sprintf("%s %s", text.FgYellow.Sprint("⚠"), msg)
}

// Progress shows a spinner on w while a long-running step is in progress.
// A quiet Progress prints nothing.
type Progress struct {
	s *spinner.Spinner
}

// StartProgress starts a spinner with msg as its suffix.
func StartProgress(w io.Writer, msg string, quiet bool) *Progress {
	if quiet {
		return &Progress{}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(w))
	s.Suffix = " " + msg
	s.Start()
	return &Progress{s: s}
}

// Stop stops the spinner and leaves final, if not empty, in its place.
func (p *Progress) Stop(final string) {
	if p.s == nil {
		return
	}
	if final != "" {
		p.s.FinalMSG = final + "\n"
	}
	p.s.Stop()
}
