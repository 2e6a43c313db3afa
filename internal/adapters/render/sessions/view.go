package sessions

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/bnema/rexd/internal/adapters/transport/rpc"
)

type RenderOptions struct {
	Now  time.Time
	Addr string
}

func renderView(sessions []rpc.SessionSummary, opts RenderOptions, s styles) string {
	header := fmt.Sprintf("sessions: %d", len(sessions))
	if opts.Addr != "" {
		header += "  server: " + opts.Addr
	}

	lines := []string{
		s.title.Render("rexd sessions"),
		s.header.Render(header),
	}

	if len(sessions) == 0 {
		lines = append(lines, s.empty.Render("No live sessions."))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}

	for _, session := range sessions {
		lines = append(lines, s.section.Render(renderSession(session, opts, s)))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func renderSession(session rpc.SessionSummary, opts RenderOptions, s styles) string {
	title := s.ephemeral.Render("ephemeral")
	if session.ID != "" {
		title = s.id.Render(session.ID)
	}

	state := s.live.Render("live")
	if !session.Live {
		state = s.dead.Render("dead")
	}

	headline := []string{title, " ", state}
	if session.Persistent {
		headline = append(headline, " ", s.tag.Render("[persistent]"))
	}

	parts := []string{
		lipgloss.JoinHorizontal(lipgloss.Top, headline...),
		s.detail.Render(identityLine(session)),
		s.detail.Render(fmt.Sprintf("contexts: %d  pages: %d", session.Contexts, session.Pages)),
	}
	if len(session.NamedContexts) > 0 {
		parts = append(parts, s.detail.Render("named: "+strings.Join(session.NamedContexts, ", ")))
	}
	parts = append(parts, s.header.Render(fmt.Sprintf("created %s, last used %s",
		formatAge(session.CreatedAt, opts.Now), formatAge(session.LastUsedAt, opts.Now))))

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func identityLine(session rpc.SessionSummary) string {
	line := fmt.Sprintf("scope: %s  job: %s", orDash(session.ScopeID), orDash(session.JobID))
	if session.LastJobID != "" && session.LastJobID != session.JobID {
		line += "  last job: " + session.LastJobID
	}
	return line
}

func formatAge(at time.Time, now time.Time) string {
	if at.IsZero() {
		return "never"
	}
	if now.IsZero() {
		return at.Format(time.RFC3339)
	}

	age := now.Sub(at)
	switch {
	case age < time.Minute:
		return "just now"
	case age < time.Hour:
		return fmt.Sprintf("%dm ago", int(age.Minutes()))
	case age < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(age.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(age.Hours()/24))
	}
}

func orDash(value string) string {
	if value == "" {
		return "-"
	}
	return value
}
