package main

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/rivo/uniseg"

	"github.com/osa030/musicisland/internal/api/islandv1"
)

const (
	tickInterval  = 100 * time.Millisecond
	pillWidth     = 36
	expandedWidth = 52
	waveBars      = 12
	sendTimeout   = 2 * time.Second
)

// controller forwards input to the daemon.
type controller interface {
	Gesture(ctx context.Context, gesture string) error
	Transport(ctx context.Context, command string) error
}

type (
	frameMsg  islandv1.Frame
	tickMsg   time.Time
	errMsg    struct{ err error }
	streamEnd struct{ err error }
)

// model renders the latest frame and reports input back.
type model struct {
	ctrl       controller
	frame      islandv1.Frame
	receivedAt time.Time
	now        time.Time
	connected  bool
	lastErr    error
	help       help.Model
}

func newModel(ctrl controller, now time.Time) model {
	return model{ctrl: ctrl, now: now, frame: islandv1.Frame{State: "hidden"}, help: help.New()}
}

func (m model) Init() tea.Cmd {
	return tickCmd()
}

func tickCmd() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case frameMsg:
		m.frame = islandv1.Frame(msg)
		m.receivedAt = m.now
		m.connected = true
		m.lastErr = nil
		return m, nil

	case tickMsg:
		m.now = time.Time(msg)
		return m, tickCmd()

	case tea.WindowSizeMsg:
		m.help.Width = msg.Width
		return m, nil

	case errMsg:
		m.lastErr = msg.err
		return m, nil

	case streamEnd:
		m.connected = false
		m.lastErr = msg.err
		return m, tea.Quit

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Quit):
		m.lastErr = nil
		return m, tea.Quit
	case key.Matches(msg, keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	case key.Matches(msg, keys.Tap):
		return m, m.gesture("tap")
	case key.Matches(msg, keys.SwipeUp):
		return m, m.gesture("swipe_up")
	case key.Matches(msg, keys.Open):
		return m, m.gesture("long_press")
	case key.Matches(msg, keys.Toggle):
		return m, m.transport(islandv1.CommandToggle)
	case key.Matches(msg, keys.Next):
		return m, m.transport(islandv1.CommandNext)
	case key.Matches(msg, keys.Previous):
		return m, m.transport(islandv1.CommandPrevious)
	}
	return m, nil
}

func (m model) gesture(name string) tea.Cmd {
	if m.frame.State == "hidden" {
		return nil
	}
	return m.send(func(ctx context.Context) error { return m.ctrl.Gesture(ctx, name) })
}

func (m model) transport(command string) tea.Cmd {
	return m.send(func(ctx context.Context) error { return m.ctrl.Transport(ctx, command) })
}

func (m model) send(fn func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			return errMsg{err: err}
		}
		return nil
	}
}

// elapsed extrapolates the frame position while playing.
func (m model) elapsed() time.Duration {
	d := time.Duration(m.frame.ElapsedMs) * time.Millisecond
	if m.frame.Phase == "playing" && !m.receivedAt.IsZero() && m.now.After(m.receivedAt) {
		d += m.now.Sub(m.receivedAt)
	}
	if total := time.Duration(m.frame.DurationMs) * time.Millisecond; total > 0 && d > total {
		d = total
	}
	return d
}

func (m model) View() string {
	var body string
	switch m.frame.State {
	case "pill":
		body = m.renderPill()
	case "expanded":
		body = m.renderExpanded()
	default:
		body = hiddenStyle.Render("island hidden")
	}

	status := "connected"
	if !m.connected {
		status = "waiting for daemon"
	}
	footer := hintStyle.Render(status) + "\n" + m.help.View(keys)
	if m.lastErr != nil {
		footer += "\n" + errorStyle.Render(m.lastErr.Error())
	}
	return lipgloss.JoinVertical(lipgloss.Center, body, "", footer)
}

var (
	hiddenStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Italic(true)
	hintStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// palette resolves the frame colours with neutral defaults.
func (m model) palette() (bg, on, accent colorful.Color) {
	bg = parseHex(m.frame.Background, "#1c1c1e")
	on = parseHex(m.frame.OnBackground, "#ffffff")
	accent = parseHex(m.frame.Accent, "#0a84ff")
	return bg, on, accent
}

func parseHex(s, fallback string) colorful.Color {
	c, err := colorful.Hex(s)
	if err != nil {
		c, _ = colorful.Hex(fallback)
	}
	return c
}

func (m model) container(width int) lipgloss.Style {
	bg, on, accent := m.palette()
	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 2).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(accent.Hex())).
		Background(lipgloss.Color(bg.Hex())).
		Foreground(lipgloss.Color(on.Hex()))
}

func (m model) renderPill() string {
	_, _, accent := m.palette()
	wave := m.renderWave(6)
	title := truncate(m.frame.Title, pillWidth-lipgloss.Width(wave)-6)
	icon := lipgloss.NewStyle().Foreground(lipgloss.Color(accent.Hex())).Render(phaseIcon(m.frame.Phase))
	return m.container(pillWidth).Render(icon + " " + title + "  " + wave)
}

func (m model) renderExpanded() string {
	_, on, accent := m.palette()
	inner := expandedWidth - 6
	muted := lipgloss.NewStyle().Foreground(lipgloss.Color(on.BlendHcl(accent, 0.4).Clamped().Hex()))

	lines := []string{
		lipgloss.NewStyle().Bold(true).Render(truncate(m.frame.Title, inner)),
		muted.Render(truncate(strings.Join(m.frame.Artists, ", "), inner)),
	}
	if m.frame.Album != "" {
		lines = append(lines, muted.Render(truncate(m.frame.Album, inner)))
	}

	elapsed := m.elapsed()
	total := time.Duration(m.frame.DurationMs) * time.Millisecond
	times := fmt.Sprintf(" %s / %s", formatDuration(elapsed), formatDuration(total))
	bar := progressBar(elapsed, total, inner-lipgloss.Width(times), accent, on)

	lines = append(lines,
		"",
		m.renderWave(waveBars),
		bar+times,
		muted.Render(fmt.Sprintf("⏮  %s  ⏭   %s", phaseIcon(m.frame.Phase), m.frame.Player)),
	)
	return m.container(expandedWidth).Render(strings.Join(lines, "\n"))
}

var barGlyphs = []rune("▁▂▃▄▅▆▇█")

// renderWave draws the wave variant. It animates only while playing.
func (m model) renderWave(n int) string {
	_, on, accent := m.palette()
	playing := m.frame.Phase == "playing"
	t := float64(m.now.UnixMilli()) / 1000

	levels := make([]float64, n)
	for i := range levels {
		if !playing {
			levels[i] = 0.1
			continue
		}
		x := float64(i) / float64(n)
		switch m.frame.Wave {
		case "voice":
			levels[i] = 0.5 + 0.45*math.Sin(2*math.Pi*(x*1.5+t*0.8))*math.Sin(math.Pi*x)
		case "heartbeat":
			phase := math.Mod(t*1.2-x, 1)
			levels[i] = 0.15 + 0.85*math.Exp(-40*phase*phase)
		default:
			levels[i] = 0.5 + 0.5*math.Abs(math.Sin(2*math.Pi*(t*0.9+x*2.3)+float64(i)))
		}
	}

	var b strings.Builder
	for i, level := range levels {
		level = math.Max(0, math.Min(1, level))
		glyph := barGlyphs[int(level*float64(len(barGlyphs)-1))]
		c := accent.BlendHcl(on, float64(i)/float64(max(n-1, 1))).Clamped()
		b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color(c.Hex())).Render(string(glyph)))
	}
	return b.String()
}

func progressBar(elapsed, total time.Duration, width int, fill, track colorful.Color) string {
	if width < 1 {
		return ""
	}
	filled := 0
	if total > 0 {
		filled = int(float64(width) * float64(elapsed) / float64(total))
	}
	filled = max(0, min(width, filled))
	done := lipgloss.NewStyle().Foreground(lipgloss.Color(fill.Hex())).Render(strings.Repeat("━", filled))
	rest := lipgloss.NewStyle().Foreground(lipgloss.Color(track.BlendRgb(fill, 0.7).Clamped().Hex())).Render(strings.Repeat("─", width-filled))
	return done + rest
}

func phaseIcon(phase string) string {
	switch phase {
	case "playing", "buffering":
		return "▶"
	case "paused":
		return "⏸"
	default:
		return "■"
	}
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "0:00"
	}
	s := int(d / time.Second)
	return fmt.Sprintf("%d:%02d", s/60, s%60)
}

// truncate shortens s to width cells, cutting on grapheme boundaries.
func truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	if uniseg.StringWidth(s) <= width {
		return s
	}
	var b strings.Builder
	used := 0
	g := uniseg.NewGraphemes(s)
	for g.Next() {
		w := g.Width()
		if used+w+1 > width {
			break
		}
		b.WriteString(g.Str())
		used += w
	}
	return b.String() + "…"
}
