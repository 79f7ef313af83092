package ui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"upscalevid/internal/model"
)

// Run launches the full-screen progress view for one job and blocks until
// it finishes. The job's own error comes back unwrapped so the caller can
// map it to an exit code.
func Run(ctx context.Context, input string, opts model.Options) error {
	m := NewModel(ctx, input, opts)
	prog := tea.NewProgram(m, tea.WithContext(ctx))
	final, err := prog.Run()
	if err != nil {
		return err
	}
	fm, ok := final.(Model)
	if !ok {
		return nil
	}
	if fm.jobErr != nil {
		return fm.jobErr
	}
	if fm.started && !fm.done {
		// Quit before the job finished (q or ctrl+c).
		return context.Canceled
	}
	return nil
}
