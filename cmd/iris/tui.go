package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"iris/internal/scheduler"
)

// outputSink adapts the scheduler's OutputSink contract onto a buffered
// channel the bubbletea program drains. Sends are non-blocking: the tick
// loop must never stall waiting for the terminal to catch up (mirroring
// the teacher's non-blocking ReportStatus).
type outputSink struct {
	ch chan string
}

func newOutputSink() *outputSink {
	return &outputSink{ch: make(chan string, 64)}
}

func (o *outputSink) Send(text string) {
	select {
	case o.ch <- text:
	default:
	}
}

var (
	userStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#8BC34A"))
	irisStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#101F38"))
	systemStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#7a7a7a")).Italic(true)
	headerStyle    = lipgloss.NewStyle().Bold(true).Padding(0, 1).Background(lipgloss.Color("#101F38")).Foreground(lipgloss.Color("#f2f2f2"))
	textareaBorder = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#2a3850")).Padding(0, 1)
)

type outputMsg string

// model is the interactive session's bubbletea state: a scrolling
// transcript viewport, an input textarea, and a reference to the
// scheduler that owns the actual tick loop (spec §6: one process, one
// terminal UI, no other surface).
type model struct {
	sched    *scheduler.Scheduler
	sink     *outputSink
	textarea textarea.Model
	viewport viewport.Model
	renderer *glamour.TermRenderer
	history  []string
	width    int
	height   int
	ready    bool
}

func newProgram(sched *scheduler.Scheduler, sink *outputSink) *tea.Program {
	ta := textarea.New()
	ta.Placeholder = "Say something..."
	ta.Focus()
	ta.CharLimit = 4000
	ta.ShowLineNumbers = false
	ta.SetHeight(3)

	renderer, _ := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)

	m := model{
		sched:    sched,
		sink:     sink,
		textarea: ta,
		renderer: renderer,
	}
	return tea.NewProgram(m, tea.WithAltScreen())
}

func waitForOutput(sink *outputSink) tea.Cmd {
	return func() tea.Msg {
		return outputMsg(<-sink.ch)
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, waitForOutput(m.sink))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var taCmd, vpCmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		headerHeight := 1
		inputHeight := 5
		vpHeight := msg.Height - headerHeight - inputHeight
		if vpHeight < 3 {
			vpHeight = 3
		}
		if !m.ready {
			m.viewport = viewport.New(msg.Width, vpHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = vpHeight
		}
		m.textarea.SetWidth(msg.Width - 4)
		m.renderHistory()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			if msg.Alt {
				break
			}
			text := strings.TrimSpace(m.textarea.Value())
			if text == "" {
				return m, nil
			}
			m.history = append(m.history, userStyle.Render("You")+"\n"+text)
			m.sched.SubmitExternal(text)
			m.textarea.Reset()
			m.renderHistory()
			m.viewport.GotoBottom()
			return m, nil
		}

	case outputMsg:
		text := string(msg)
		if strings.HasPrefix(text, "[") {
			m.history = append(m.history, systemStyle.Render(text))
		} else {
			m.history = append(m.history, irisStyle.Render("Iris")+"\n"+m.safeRenderMarkdown(text))
		}
		m.renderHistory()
		m.viewport.GotoBottom()
		return m, waitForOutput(m.sink)
	}

	m.textarea, taCmd = m.textarea.Update(msg)
	m.viewport, vpCmd = m.viewport.Update(msg)
	return m, tea.Batch(taCmd, vpCmd)
}

func (m *model) safeRenderMarkdown(content string) (result string) {
	defer func() {
		if r := recover(); r != nil {
			result = content
		}
	}()
	if m.renderer == nil || content == "" {
		return content
	}
	rendered, err := m.renderer.Render(content)
	if err != nil {
		return content
	}
	return rendered
}

func (m *model) renderHistory() {
	m.viewport.SetContent(strings.Join(m.history, "\n"))
}

func (m model) View() string {
	if !m.ready {
		return "starting up...\n"
	}
	header := headerStyle.Render(fmt.Sprintf("iris — %s", time.Now().Format("15:04:05")))
	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.viewport.View(),
		textareaBorder.Render(m.textarea.View()),
	)
}
