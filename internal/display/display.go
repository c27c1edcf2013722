// Package display renders decoder output to the terminal: a static
// ranked-hypothesis table for a one-shot decode, and (for the CLI's
// -watch flag) a live Bubble Tea view of the beam frontier updating
// frame by frame. Styling follows the teacher's lipgloss palette and
// Program-driven render loop, trimmed down from a persistent
// status-bar-plus-input chat UI to a single scrolling results view —
// this program has no input to echo and nothing to type into.
package display

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/beamctc/beamctc/internal/decoder"
)

// ── Styles ───────────────────────────────────────────────────────

var (
	// BannerStyle — muted slate for the startup banner.
	BannerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#94a3b8"))

	primaryStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#d4d4d8"))

	secondaryStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#71717a"))

	urgentStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#fca5a5"))

	stepStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#bbf7d0"))

	sepLineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#3f3f46"))

	rankOneStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#fde68a")).
			Bold(true)

	scoreStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#94a3b8"))
)

// ── Static results table ───────────────────────────────────────────

// RenderResults renders beams (already ranked best-first) as a fixed
// table: rank, combined score, acoustic-only score, and text.
func RenderResults(beams []decoder.OutputBeam) string {
	if len(beams) == 0 {
		return urgentStyle.Render("(no surviving hypotheses)")
	}

	var b strings.Builder
	b.WriteString(stepStyle.Render(fmt.Sprintf("%-4s %10s %10s  %s", "#", "lm_score", "logit", "text")))
	b.WriteByte('\n')
	b.WriteString(sepLineStyle.Render(strings.Repeat("─", 60)))
	b.WriteByte('\n')

	for i, beam := range beams {
		rank := fmt.Sprintf("%-4d", i+1)
		scores := fmt.Sprintf("%10.3f %10.3f", beam.LMScore, beam.LogitScore)
		text := beam.Text
		if text == "" {
			text = secondaryStyle.Render("(empty)")
		}

		if i == 0 {
			b.WriteString(rankOneStyle.Render(rank))
			b.WriteString(" ")
			b.WriteString(scoreStyle.Render(scores))
			b.WriteString("  ")
			b.WriteString(primaryStyle.Render(text))
		} else {
			b.WriteString(secondaryStyle.Render(rank))
			b.WriteString(" ")
			b.WriteString(scoreStyle.Render(scores))
			b.WriteString("  ")
			b.WriteString(primaryStyle.Render(text))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// RenderWords renders one beam's per-word frame alignment, the detail
// view behind a result row.
func RenderWords(beam decoder.OutputBeam) string {
	if len(beam.Words) == 0 {
		return secondaryStyle.Render("(no words)")
	}
	var b strings.Builder
	for _, w := range beam.Words {
		b.WriteString(fmt.Sprintf("  %-20s frames [%d, %d)\n", w.Word, w.Frames.Start, w.Frames.End))
	}
	return b.String()
}

// ── Live watch-mode view ────────────────────────────────────────────

// WatchUI drives a Bubble Tea program that repaints the current beam
// frontier once per frame, for the CLI's -watch flag. Construct with
// NewWatchUI, call Send after every decoder frame callback and Finish
// with the final result, and Run to block until the user quits (q, esc
// or ctrl+c) or Quit is called; Finish leaves the program running.
type WatchUI struct {
	program *tea.Program
}

// NewWatchUI constructs a WatchUI for totalFrames input frames.
func NewWatchUI(totalFrames int) *WatchUI {
	m := watchModel{totalFrames: totalFrames}
	return &WatchUI{program: tea.NewProgram(m)}
}

// Send pushes one frame's top beams to the running program. Safe to call
// from the goroutine driving decoder.Decode's FrameObserver.
func (w *WatchUI) Send(frame int, top []decoder.OutputBeam) {
	w.program.Send(frontierMsg{frame: frame, top: top})
}

// Finish tells the program the decode is complete and the final result
// is ready to display, then leaves it running until the user quits.
func (w *WatchUI) Finish(final []decoder.OutputBeam) {
	w.program.Send(finalMsg{beams: final})
}

// Run starts the Bubble Tea event loop. Blocks until the user quits.
func (w *WatchUI) Run() error {
	_, err := w.program.Run()
	return err
}

// Quit stops the event loop programmatically.
func (w *WatchUI) Quit() { w.program.Quit() }

type frontierMsg struct {
	frame int
	top   []decoder.OutputBeam
}

type finalMsg struct {
	beams []decoder.OutputBeam
}

type watchModel struct {
	totalFrames int
	frame       int
	top         []decoder.OutputBeam
	final       []decoder.OutputBeam
	done        bool
}

func (m watchModel) Init() tea.Cmd { return nil }

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case frontierMsg:
		m.frame = msg.frame
		m.top = msg.top
	case finalMsg:
		m.done = true
		m.final = msg.beams
	}
	return m, nil
}

func (m watchModel) View() string {
	var b strings.Builder

	if m.done {
		b.WriteString(stepStyle.Render("decode complete"))
		b.WriteString("\n\n")
		b.WriteString(RenderResults(m.final))
		b.WriteString("\n")
		b.WriteString(secondaryStyle.Render("press q to exit"))
		b.WriteByte('\n')
		return b.String()
	}

	b.WriteString(stepStyle.Render(fmt.Sprintf("frame %d / %d", m.frame+1, m.totalFrames)))
	b.WriteString("\n\n")
	b.WriteString(RenderResults(m.top))
	b.WriteString("\n")
	b.WriteString(secondaryStyle.Render("press q to quit"))
	b.WriteByte('\n')
	return b.String()
}
