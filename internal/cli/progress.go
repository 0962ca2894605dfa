package cli

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/forPelevin/ytclipper/internal/events"
)

// progress renders pipeline events as one styled line each. Styles come
// from a renderer bound to the output, so pipes and files get plain text.
type progress struct {
	w     io.Writer
	step  lipgloss.Style
	muted lipgloss.Style
	ok    lipgloss.Style
	warn  lipgloss.Style
	err   lipgloss.Style
}

func newProgress(w io.Writer) *progress {
	r := lipgloss.NewRenderer(w)
	return &progress{
		w:     w,
		step:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("212")),
		muted: r.NewStyle().Foreground(lipgloss.Color("245")),
		ok:    r.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		warn:  r.NewStyle().Foreground(lipgloss.Color("214")),
		err:   r.NewStyle().Foreground(lipgloss.Color("203")).Bold(true),
	}
}

func (p *progress) consume(ch <-chan events.Event) {
	for e := range ch {
		if line := p.render(e); line != "" {
			fmt.Fprintln(p.w, line)
		}
	}
}

func (p *progress) render(e events.Event) string {
	switch e.Kind {
	case events.KindStageStarted:
		if marker := e.Stage.Marker(); marker != "" {
			return "\n" + p.step.Render(marker) + " " + e.Message
		}
		return e.Message
	case events.KindStageSkipped, events.KindSegmentSkipped:
		return p.muted.Render("skip: " + e.Message)
	case events.KindStageDone, events.KindSegmentDone:
		return p.ok.Render("ok") + " " + e.Message
	case events.KindSegmentStarted:
		return "  " + e.Message
	case events.KindSegmentFailed:
		return p.warn.Render("failed: " + e.Message)
	case events.KindRunFailed:
		return p.err.Render("error: " + e.Message)
	case events.KindRunDone:
		return ""
	default:
		return p.muted.Render(e.Message)
	}
}
