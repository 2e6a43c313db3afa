package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/bnema/rexd/internal/adapters/transport/rpc"
)

var (
	progressSpinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("69"))
	progressDetailStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

type executeDoneMsg struct {
	err error
}

// executeProgress shows which session an in-flight execute call targets and
// how long it has been running.
type executeProgress struct {
	spinner spinner.Model
	target  string
	started time.Time
	now     func() time.Time
	call    tea.Cmd
	err     error
	done    bool
}

func newExecuteProgress(meta rpc.Metadata, now func() time.Time, call tea.Cmd) executeProgress {
	return executeProgress{
		spinner: spinner.New(spinner.WithSpinner(spinner.MiniDot), spinner.WithStyle(progressSpinnerStyle)),
		target:  describeTarget(meta),
		started: now(),
		now:     now,
		call:    call,
	}
}

// describeTarget names the session an execute call resolves to, as far as
// the client can tell from its metadata.
func describeTarget(meta rpc.Metadata) string {
	var parts []string
	switch {
	case meta.ExplicitSessionID != "":
		parts = append(parts, "session "+meta.ExplicitSessionID)
	case meta.ScopeID == "" && meta.JobID == "":
		parts = append(parts, "unscoped")
	default:
		parts = append(parts, "scope "+orDefault(meta.ScopeName, orDefault(meta.ScopeID, "-")), "job "+orDefault(meta.JobID, "-"))
	}

	switch {
	case meta.WantsRetentionOfPages:
		parts = append(parts, "keep pages")
	case meta.WantsRetentionOfContext:
		parts = append(parts, "keep context")
	default:
		parts = append(parts, "ephemeral")
	}
	if meta.ExplicitContextName != "" {
		parts = append(parts, "context "+meta.ExplicitContextName)
	}
	return strings.Join(parts, ", ")
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func (m executeProgress) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.call)
}

func (m executeProgress) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case executeDoneMsg:
		m.done = true
		m.err = msg.err
		return m, tea.Quit
	default:
		return m, nil
	}
}

func (m executeProgress) View() string {
	if m.done {
		return ""
	}
	elapsed := m.now().Sub(m.started).Truncate(time.Second)
	return fmt.Sprintf("%s Executing fragment %s", m.spinner.View(),
		progressDetailStyle.Render(fmt.Sprintf("(%s) %s", m.target, elapsed)))
}

// runExecuteWithProgress renders progress on output until call returns.
func runExecuteWithProgress(ctx context.Context, output io.Writer, meta rpc.Metadata, now func() time.Time, call func(context.Context) error) error {
	model := newExecuteProgress(meta, now, func() tea.Msg {
		return executeDoneMsg{err: call(ctx)}
	})

	p := tea.NewProgram(model,
		tea.WithInput(nil),
		tea.WithOutput(output),
		tea.WithContext(ctx),
	)

	final, err := p.Run()
	if err != nil {
		return err
	}

	result, ok := final.(executeProgress)
	if !ok {
		return fmt.Errorf("unexpected final progress model type %T", final)
	}
	return result.err
}
