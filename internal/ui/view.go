package ui

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"upscalevid/internal/util/format"
)

func (m Model) viewHeader() string {
	workers := m.opts.Workers
	if workers < 1 {
		workers = 1
	}
	title := m.styles.Title.Render("upscalevid")
	sub := m.styles.Subtitle.Render(fmt.Sprintf(
		"%s • %dx %s • %d worker(s) • q: quit",
		truncate(filepath.Base(m.input), 48), m.opts.Scale, m.opts.Model, workers,
	))
	out := title + "\n" + sub
	if m.engineWarn != "" {
		out += "\n" + m.styles.Warning.Render("! "+m.engineWarn)
	}
	return out
}

func (m Model) viewStages() string {
	var b strings.Builder
	for _, st := range m.stages {
		b.WriteString(m.viewStage(st))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) viewStage(st *stageState) string {
	label := m.stageStyle(st).Render(fmt.Sprintf("%-8s", st.label))

	var right string
	switch {
	case st.phase == stageDone:
		right = m.styles.Success.Render("✓ done")
	case st.phase == stageFailed:
		right = m.styles.Error.Render("✗ failed")
	case st.phase == stageActive && st.percent >= 0 && st.percent <= 100:
		right = fmt.Sprintf("%s %5.1f%%", st.bar.ViewAs(st.percent/100.0), st.percent)
		if st.eta != nil {
			right += m.styles.Faint.Render("  eta " + format.HumanizeDuration(*st.eta))
		}
	case st.phase == stageActive:
		right = m.styles.Spinner.Render(m.spinner.View()) + " " + m.styles.Info.Render(st.status)
	default:
		right = m.styles.Faint.Render("waiting")
	}

	line := fmt.Sprintf("%s %s", label, right)
	if st.phase == stageActive && st.percent >= 0 && st.status != "" {
		line += "\n" + strings.Repeat(" ", 9) + m.styles.Faint.Render(st.status)
	}
	if st.phase == stageFailed && st.status != "" {
		line += "\n" + strings.Repeat(" ", 9) + m.styles.Error.Render(truncate(st.status, 100))
	}
	return m.styles.Box.Render(line)
}

func (m Model) stageStyle(st *stageState) lipgloss.Style {
	switch st.label {
	case "Probe":
		return m.styles.StageProbe
	case "Extract":
		return m.styles.StageExtract
	case "Upscale":
		return m.styles.StageUpscale
	case "Encode":
		return m.styles.StageEncode
	}
	return m.styles.StageLabel
}

func (m Model) viewSummary() string {
	if !m.done {
		return ""
	}
	var b strings.Builder
	if m.jobErr == nil && m.result != nil && m.result.OutputPath != "" {
		if m.opts.DryRun {
			b.WriteString(m.styles.Success.Render("✓ Planned: " + m.result.OutputPath + " (dry-run)"))
		} else {
			b.WriteString(m.styles.Success.Render(fmt.Sprintf(
				"✓ Saved: %s (%s in %s)",
				m.result.OutputPath,
				format.HumanizeBytes(m.result.Bytes),
				format.HumanizeDuration(m.result.Elapsed),
			)))
		}
		b.WriteString("\n")
		if m.result.Scratch != "" {
			b.WriteString(m.styles.Faint.Render("  frames kept in " + m.result.Scratch))
			b.WriteString("\n")
		}
	}
	if m.jobErr != nil {
		b.WriteString(m.styles.Error.Render("✗ " + m.jobErr.Error()))
		b.WriteString("\n")
	}
	if len(m.logsRing) > 0 {
		tail := m.logsRing
		if len(tail) > 4 {
			tail = tail[len(tail)-4:]
		}
		for _, l := range tail {
			b.WriteString(m.styles.Faint.Render("  " + l))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	if n <= 0 || len([]rune(s)) <= n {
		return s
	}
	rs := []rune(s)
	return string(rs[:n-1]) + "…"
}
