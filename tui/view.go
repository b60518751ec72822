package tui

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	figure "github.com/common-nighthawk/go-figure"

	"totari/model"
)

var (
	titleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true)
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	faintStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("231")).Background(lipgloss.Color("62"))
	textStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	recStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	warnStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	statusColors  = map[model.Status]string{
		model.StatusRecording:    "196",
		model.StatusTranscribing: "214",
		model.StatusTranscribed:  "42",
		model.StatusImproved:     "39",
		model.StatusError:        "160",
		model.StatusPending:      "245",
	}
)

const eyeWidth = 24

func banner() string {
	fig := figure.NewFigure("totari", "small", true)
	return strings.TrimRight(fig.String(), "\n")
}

func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}
	var body string
	if m.view == viewThreads {
		body = m.threadsView()
	} else {
		body = m.messagesView()
	}
	return lipgloss.JoinVertical(lipgloss.Left, body, m.footer())
}

func (m Model) footer() string {
	var lines []string
	if m.inputMode != inputNone {
		lines = append(lines, m.input.View())
	}
	if m.recording {
		line := recStyle.Render(fmt.Sprintf("● REC %.1fs", m.elapsed.Seconds()))
		if m.silent || (m.elapsed > time.Second && m.peakLevel < voiceLevel) {
			line += warnStyle.Render("  ⚠ no voice detected")
		}
		lines = append(lines, line)
	} else if m.status != "" {
		lines = append(lines, dimStyle.Render(m.status))
	}
	if m.view == viewThreads {
		lines = append(lines, m.help.View(threadKeys{m.keys}))
	} else {
		lines = append(lines, m.help.View(messageKeys{m.keys}))
	}
	return strings.Join(lines, "\n")
}

func (m Model) footerHeight() int {
	h := 2
	if m.inputMode != inputNone {
		h++
	}
	if m.help.ShowAll {
		h += 3
	}
	return h
}

func (m Model) threadsView() string {
	var b strings.Builder
	if m.height > 16 {
		b.WriteString(titleStyle.Render(banner()))
		b.WriteString("\n")
	}
	who := "not signed in"
	if m.user != nil {
		who = m.user.DisplayName
	}
	info := who
	if m.opts.DeviceLine != "" {
		info += " · " + m.opts.DeviceLine
	}
	if m.opts.ModeLine != "" {
		info += " · " + m.opts.ModeLine
	}
	b.WriteString(dimStyle.Render(info))
	b.WriteString("\n\n")

	switch {
	case m.loading && len(m.threads) == 0:
		b.WriteString(dimStyle.Render("loading threads..."))
	case len(m.threads) == 0:
		b.WriteString(dimStyle.Render("No threads yet. Press n to start one."))
	default:
		for i, t := range m.threads {
			line := fmt.Sprintf("%-*s %s", max(m.width-20, 10), truncate(t.Title, max(m.width-20, 10)), formatTime(t.UpdatedAt))
			if i == m.cursor {
				b.WriteString(selectedStyle.Render(line))
			} else {
				b.WriteString(textStyle.Render(line))
			}
			b.WriteString("\n")
		}
	}
	return lipgloss.NewStyle().Height(max(m.height-m.footerHeight(), 1)).Render(b.String())
}

func (m *Model) resizeViewport() {
	w := m.width
	if w > eyeWidth+40 {
		w -= eyeWidth
	}
	m.vp.Width = max(w, 10)
	m.vp.Height = max(m.height-m.footerHeight()-2, 1)
}

// refreshViewport re-renders the message list and keeps the selected
// message in view.
func (m *Model) refreshViewport() {
	if m.vp.Width == 0 {
		return
	}
	var b strings.Builder
	selTop, selBottom := 0, 0
	line := 0
	if len(m.messages) == 0 {
		b.WriteString(dimStyle.Render("No messages. Press space to record or a to add a note."))
	}
	for i, msg := range m.messages {
		block := renderMessage(msg, m.vp.Width-2, i == m.msgCursor)
		if i == m.msgCursor {
			selTop = line
			selBottom = line + strings.Count(block, "\n")
		}
		b.WriteString(block)
		b.WriteString("\n")
		line += strings.Count(block, "\n") + 1
	}
	m.vp.SetContent(b.String())
	if selTop < m.vp.YOffset {
		m.vp.SetYOffset(selTop)
	} else if selBottom >= m.vp.YOffset+m.vp.Height {
		m.vp.SetYOffset(selBottom - m.vp.Height + 1)
	}
}

func renderMessage(msg model.Message, width int, selected bool) string {
	var head strings.Builder
	head.WriteString(formatTime(msg.CreatedAt))
	head.WriteString(" ")
	head.WriteString(string(msg.Kind))
	head.WriteString(" · ")
	head.WriteString(string(msg.Source))
	header := dimStyle.Render(head.String())
	if msg.Status != model.StatusNone {
		st := lipgloss.NewStyle().Foreground(lipgloss.Color(statusColors[msg.Status]))
		header += " " + st.Render("["+string(msg.Status)+"]")
	}
	if selected {
		header = selectedStyle.Render("▸") + " " + header
	} else {
		header = "  " + header
	}

	var lines []string
	lines = append(lines, header)
	text := msg.Payload.Preview()
	if msg.Status == model.StatusError && msg.Error != "" {
		text = msg.Error
	}
	if text != "" {
		style := textStyle
		if msg.Status == model.StatusError {
			style = warnStyle
		}
		for _, l := range wrapText(text, width-2) {
			lines = append(lines, "    "+style.Render(l))
		}
	}
	if tr := msg.Payload.Transcript; tr != nil && tr.Confidence != nil && msg.Payload.Audio != nil {
		meta := fmt.Sprintf("%ds · %s · %.0f%%", msg.Payload.Audio.DurationSec, tr.LanguageCode, *tr.Confidence*100)
		lines = append(lines, "    "+faintStyle.Render(meta))
	}
	return strings.Join(lines, "\n")
}

func (m Model) messagesView() string {
	title := "thread"
	if m.current != nil {
		title = m.current.Title
	}
	head := titleStyle.Render(truncate(title, max(m.width-2, 10)))
	if m.loading {
		head += " " + dimStyle.Render("loading...")
	}
	list := m.vp.View()

	if m.width > eyeWidth+40 {
		eye := renderEye(m.frame, m.level, m.recording)
		eyePanel := lipgloss.NewStyle().Width(eyeWidth).Render(eye)
		list = lipgloss.JoinHorizontal(lipgloss.Top, list, eyePanel)
	}
	body := lipgloss.JoinVertical(lipgloss.Left, head, "", list)
	return lipgloss.NewStyle().Height(max(m.height-m.footerHeight(), 1)).Render(body)
}

func formatTime(ms int64) string {
	if ms == 0 {
		return "--:--"
	}
	t := time.UnixMilli(ms)
	if time.Since(t) > 24*time.Hour {
		return t.Format("02 Jan 15:04")
	}
	return t.Format("15:04")
}

func truncate(s string, width int) string {
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	if width <= 1 {
		return string(r[:width])
	}
	return string(r[:width-1]) + "…"
}

// wrapText breaks text at spaces so no line exceeds width runes.
func wrapText(text string, width int) []string {
	if text == "" {
		return []string{""}
	}
	if width <= 0 {
		width = 1
	}
	var lines []string
	for _, para := range strings.Split(text, "\n") {
		r := []rune(para)
		for len(r) > width {
			splitAt := width
			for i := width; i > 0; i-- {
				if r[i] == ' ' {
					splitAt = i
					break
				}
			}
			lines = append(lines, string(r[:splitAt]))
			r = []rune(strings.TrimLeft(string(r[splitAt:]), " "))
		}
		lines = append(lines, string(r))
	}
	return lines
}

var (
	eyeColorsRec  = []string{"", "226", "214", "208", "196", "160", "124", "88", "236"}
	eyeColorsIdle = []string{"", "231", "217", "210", "160", "124", "88", "52", "236"}
)

// renderEye draws a small pulsing iris in half-block characters. Its rings
// swell with the input level while recording.
func renderEye(frame int, level float64, recording bool) string {
	const charsW = eyeWidth - 2
	const charsH = 8
	const pixH = charsH * 2

	colors := eyeColorsIdle
	breathe := math.Sin(float64(frame)*0.08)*0.02 - 0.05
	if recording {
		colors = eyeColorsRec
		breathe = math.Sin(float64(frame)*0.10)*0.03 + level*8.0 - 0.05
	}

	rings := []struct {
		radius, react float64
	}{
		{0.5, 0.10}, {1.2, 0.15}, {2.0, 0.35}, {2.8, 0.40},
		{3.6, 0.30}, {4.4, 0.15}, {5.4, 0.0}, {7.0, 0.0},
	}

	cx, cy := float64(charsW)/2, float64(pixH)/2
	pixel := func(x, y int) int {
		dx, dy := float64(x)-cx, float64(y)-cy
		dist := math.Sqrt(dx*dx + dy*dy)
		for i, r := range rings {
			radius := min(r.radius+breathe*r.react*14, 7.0)
			if dist < radius {
				return i + 1
			}
		}
		return 0
	}

	var b strings.Builder
	for row := 0; row < charsH; row++ {
		for x := 0; x < charsW; x++ {
			top, bot := pixel(x, row*2), pixel(x, row*2+1)
			switch {
			case top == 0 && bot == 0:
				b.WriteString(" ")
			case top == bot:
				b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color(colors[top])).Render("█"))
			case bot == 0:
				b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color(colors[top])).Render("▀"))
			case top == 0:
				b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color(colors[bot])).Render("▄"))
			default:
				b.WriteString(lipgloss.NewStyle().
					Foreground(lipgloss.Color(colors[top])).
					Background(lipgloss.Color(colors[bot])).
					Render("▀"))
			}
		}
		b.WriteString("\n")
	}
	state := dimStyle.Render("○ STANDBY")
	if recording {
		state = recStyle.Render("● LISTENING")
	}
	b.WriteString(state)
	return b.String()
}
