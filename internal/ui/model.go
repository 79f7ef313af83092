package ui

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"upscalevid/internal/model"
	"upscalevid/internal/pipeline"
	"upscalevid/internal/progress"
	"upscalevid/internal/util/deps"
)

// Model drives the single-job pipeline view: one row per stage, with a
// spinner while a stage has no measurable progress and a bar once
// percentages arrive.
type Model struct {
	ctx    context.Context
	cancel context.CancelFunc

	// Tool resolution
	depsChecked bool
	depsErr     error
	ffmpegPath  string
	ffprobePath string
	enginePath  string
	engineWarn  string

	// Job
	input   string
	opts    model.Options
	stages  []*stageState
	started bool
	done    bool
	jobErr  error
	result  *progress.Result

	// UI
	width, height int
	styles        Styles
	spinner       spinner.Model
	logsRing      []string

	// Internal event channel used by the reporter to feed tea messages
	eventCh chan tea.Msg
}

func NewModel(ctx context.Context, input string, opts model.Options) Model {
	c, cancel := context.WithCancel(ctx)
	sty := defaultStyles()

	sp := spinner.New()
	sp.Style = sty.Spinner

	return Model{
		ctx:     c,
		cancel:  cancel,
		input:   input,
		opts:    opts,
		stages:  pipelineStages(),
		styles:  sty,
		spinner: sp,
		eventCh: make(chan tea.Msg, 256),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.listenEventsCmd(),
		m.checkDepsCmd(),
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.cancel()
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height

	case depsCheckedMsg:
		m.depsChecked = true
		m.depsErr = msg.Err
		m.ffmpegPath = msg.FFmpegPath
		m.ffprobePath = msg.FFprobePath
		m.enginePath = msg.EnginePath
		m.engineWarn = msg.EngineWarn
		if m.depsErr != nil {
			m.done = true
			m.jobErr = m.depsErr
			m.stages[0].phase = stageFailed
			m.stages[0].status = m.depsErr.Error()
			return m, tea.Quit
		}
		m.started = true
		return m, m.startJobCmd()

	case jobUpdateMsg:
		m.applyUpdate(msg.U)

	case jobLogMsg:
		line := strings.TrimRight(msg.L.Line, "\r\n")
		if len(m.logsRing) > 200 {
			m.logsRing = m.logsRing[1:]
		}
		m.logsRing = append(m.logsRing, line)

	case jobResultMsg:
		r := msg.R
		m.done = true
		m.jobErr = r.Err
		m.result = &r
		if r.Err != nil {
			for _, st := range m.stages {
				if st.phase == stageActive {
					st.phase = stageFailed
					st.status = r.Err.Error()
				}
			}
		}
		return m, tea.Quit

	case allDoneMsg:
		return m, tea.Quit
	}

	var cmds []tea.Cmd
	var c tea.Cmd
	m.spinner, c = m.spinner.Update(msg)
	if c != nil {
		cmds = append(cmds, c)
	}
	// Keep listening for events
	cmds = append(cmds, m.listenEventsCmd())
	return m, tea.Batch(cmds...)
}

// applyUpdate routes a progress update to its stage row. Reaching a stage
// implies everything before it finished, so earlier rows are closed out
// even if their final 100% update was dropped.
func (m *Model) applyUpdate(u progress.Update) {
	if u.Stage == progress.StageCompleted {
		for _, st := range m.stages {
			if st.phase != stageFailed {
				st.markDone()
			}
		}
		return
	}
	idx := -1
	for i, st := range m.stages {
		if st.id == u.Stage {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	for i, st := range m.stages {
		switch {
		case i < idx:
			st.markDone()
		case i == idx:
			st.phase = stageActive
			st.percent = u.Percent
			st.eta = u.ETA
			if u.Message != "" {
				st.status = u.Message
			}
		}
	}
}

func (m Model) View() string {
	summary := m.viewSummary()
	if summary != "" {
		return m.viewHeader() + "\n\n" + m.viewStages() + "\n" + summary
	}
	return m.viewHeader() + "\n\n" + m.viewStages()
}

func (m Model) listenEventsCmd() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-m.ctx.Done():
			return allDoneMsg{}
		case msg := <-m.eventCh:
			return msg
		}
	}
}

func (m Model) checkDepsCmd() tea.Cmd {
	return func() tea.Msg {
		ff, err := deps.FindFFmpeg(m.opts.FFmpegBinary)
		if err != nil {
			return depsCheckedMsg{Err: err}
		}
		fp, err := deps.FindFFprobe(m.opts.FFprobeBinary)
		if err != nil {
			return depsCheckedMsg{Err: err}
		}
		msg := depsCheckedMsg{FFmpegPath: ff, FFprobePath: fp}
		// The engine is resolved for information only; a missing binary is
		// reported as a warning here and surfaces as a per-frame spawn
		// failure if the job reaches the upscaling stage.
		if eng, err := deps.FindUpscayl(m.opts.UpscaylBinary); err != nil {
			msg.EnginePath = m.opts.UpscaylBinary
			if msg.EnginePath == "" {
				msg.EnginePath = "upscayl"
			}
			msg.EngineWarn = err.Error()
		} else {
			msg.EnginePath = eng
		}
		return msg
	}
}

func (m Model) startJobCmd() tea.Cmd {
	return func() tea.Msg {
		go m.runJob()
		return nil
	}
}

func (m Model) runJob() {
	rep := teaReporter{ch: m.eventCh}
	svc := pipeline.NewService(
		pipeline.WithFFmpegPath(m.ffmpegPath),
		pipeline.WithFFprobePath(m.ffprobePath),
		pipeline.WithEnginePath(m.enginePath),
		pipeline.WithOptions(m.opts),
		pipeline.WithReporter(rep),
	)
	// On success the service emits its own Result; only failures need
	// forwarding here.
	if _, err := svc.RunJob(m.ctx, m.input); err != nil {
		rep.Result(progress.Result{Err: err})
	}
}

type teaReporter struct {
	ch chan tea.Msg
}

func (r teaReporter) Update(u progress.Update) {
	// Block on completion messages to ensure they're delivered
	if u.Stage == progress.StageCompleted || u.Stage == progress.StageError {
		r.ch <- jobUpdateMsg{U: u}
		return
	}
	select {
	case r.ch <- jobUpdateMsg{U: u}:
	default:
	}
}
func (r teaReporter) Log(l progress.Log) {
	select {
	case r.ch <- jobLogMsg{L: l}:
	default:
	}
}
func (r teaReporter) Result(res progress.Result) {
	// Always block on Result messages - they're critical
	r.ch <- jobResultMsg{R: res}
}
