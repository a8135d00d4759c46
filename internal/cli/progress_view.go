package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/alexanderramin/defectlens/internal/cli/formatter"
	"github.com/alexanderramin/defectlens/internal/domain"
	"github.com/alexanderramin/defectlens/internal/pipeline"
)

type transitionMsg pipeline.Transition

type analysisDoneMsg struct {
	rec *domain.DefectAnalysisRecord
	err error
}

var progressSteps = []struct {
	stage pipeline.Stage
	label string
}{
	{pipeline.StageClassification, "Classifying defect"},
	{pipeline.StageRootCause, "Analyzing root cause"},
	{pipeline.StageReport, "Writing report"},
}

// stepOf maps a state to the index of the step it belongs to. Pending is
// before the first step and completed is past the last.
func stepOf(s pipeline.State) int {
	switch s {
	case pipeline.StateClassifying:
		return 0
	case pipeline.StateRootCauseAnalyzing, pipeline.StateSkippingRootCause:
		return 1
	case pipeline.StateReporting:
		return 2
	case pipeline.StateCompleted:
		return len(progressSteps)
	default:
		return -1
	}
}

func stageStep(st pipeline.Stage) int {
	for i, s := range progressSteps {
		if s.stage == st {
			return i
		}
	}
	return -1
}

// progressModel shows the live state of one analysis run.
type progressModel struct {
	spinner spinner.Model
	quit    key.Binding
	cancel  context.CancelFunc

	subject    string
	current    int
	skippedRCA bool
	failedStep int
	cancelling bool

	done bool
	rec  *domain.DefectAnalysisRecord
	err  error
}

func newProgressModel(subject string, cancel context.CancelFunc) progressModel {
	return progressModel{
		spinner: spinner.New(
			spinner.WithSpinner(spinner.Dot),
			spinner.WithStyle(formatter.StylePurple),
		),
		quit: key.NewBinding(
			key.WithKeys("ctrl+c", "q", "esc"),
			key.WithHelp("q", "cancel"),
		),
		cancel:     cancel,
		subject:    subject,
		current:    -1,
		failedStep: -1,
	}
}

func (m progressModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if key.Matches(msg, m.quit) && !m.cancelling {
			m.cancelling = true
			m.cancel()
		}
		return m, nil

	case transitionMsg:
		switch msg.To {
		case pipeline.StateFailed:
			m.failedStep = stageStep(msg.Stage)
		case pipeline.StateSkippingRootCause:
			m.skippedRCA = true
			m.current = stepOf(msg.To)
		default:
			m.current = stepOf(msg.To)
		}
		return m, nil

	case analysisDoneMsg:
		m.done = true
		m.rec, m.err = msg.rec, msg.err
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m progressModel) View() string {
	if m.done {
		return ""
	}

	var b strings.Builder
	b.WriteString(formatter.Bold("Analyzing "+m.subject) + "\n\n")
	for i, step := range progressSteps {
		b.WriteString("  " + m.stepLine(i, step.label) + "\n")
	}
	b.WriteString("\n")
	if m.cancelling {
		b.WriteString(formatter.Dim("cancelling..."))
	} else {
		b.WriteString(formatter.Dim(fmt.Sprintf("%s %s", m.quit.Help().Key, m.quit.Help().Desc)))
	}
	return b.String() + "\n"
}

func (m progressModel) stepLine(i int, label string) string {
	switch {
	case i == m.failedStep:
		return formatter.StyleRed.Render("✖ " + label)
	case i == 1 && m.skippedRCA:
		return formatter.Dim("- " + label + " (skipped, no defect)")
	case i < m.current:
		return formatter.StyleGreen.Render("✔ ") + label
	case i == m.current && m.failedStep < 0:
		return m.spinner.View() + " " + label
	default:
		return formatter.Dim("○ " + label)
	}
}

// runWithProgress runs one analysis while rendering its state machine on
// out. Cancelling the view cancels the run.
func runWithProgress(ctx context.Context, app *App, req pipeline.Request, out io.Writer) (*domain.DefectAnalysisRecord, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	prog := tea.NewProgram(newProgressModel(req.ImageRef, cancel), tea.WithOutput(out))
	analyzer, err := app.NewAnalyzer(pipeline.ObserverFunc(func(t pipeline.Transition) {
		prog.Send(transitionMsg(t))
	}))
	if err != nil {
		return nil, err
	}

	go func() {
		rec, err := analyzer.Run(ctx, req)
		prog.Send(analysisDoneMsg{rec: rec, err: err})
	}()

	final, err := prog.Run()
	if err != nil {
		return nil, fmt.Errorf("progress view: %w", err)
	}
	m := final.(progressModel)
	return m.rec, m.err
}
