package tui

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"corpus/internal/pipeline"
	"corpus/internal/rules"
	"corpus/internal/service"
)

// ChatPort is the TUI-facing subset of the RAG service.
type ChatPort interface {
	QueryStream(ctx context.Context, tenantID, question string, opts ...pipeline.QueryOption) <-chan service.Event
}

type turn struct {
	question   string
	answer     strings.Builder
	confidence rules.Confidence
	failed     bool
}

// Model is the Bubble Tea model for the chat view.
type Model struct {
	service  ChatPort
	tenantID string
	opts     []pipeline.QueryOption

	input    textinput.Model
	viewport viewport.Model
	turns    []*turn
	sources  []service.SourceRef
	cursor   int
	status   string
	ready    bool

	events <-chan service.Event
	cancel context.CancelFunc
}

// eventMsg carries one stream event. ok is false once the stream is closed.
type eventMsg struct {
	from  <-chan service.Event
	event service.Event
	ok    bool
}

// New creates a chat model bound to one tenant.
func New(svc ChatPort, tenantID string, opts ...pipeline.QueryOption) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	return Model{
		service:  svc,
		tenantID: tenantID,
		opts:     opts,
		input:    ti,
		viewport: vp,
		status:   fmt.Sprintf("Tenant %s. Esc stops an answer, up/down browse sources.", tenantID),
	}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

func waitForEvent(events <-chan service.Event) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-events
		return eventMsg{from: events, event: e, ok: ok}
	}
}

// Streaming reports whether an answer is being generated.
func (m Model) Streaming() bool { return m.events != nil }

// Update handles key, window and stream events and updates the view state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, ch := chatBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 1 + 1 + qh + 1 + 3 // header, status, spacer, sources
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved-ch)
		m.refresh()
		return m, nil
	case eventMsg:
		return m.handleEvent(msg)
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			m.stop()
			return m, tea.Quit
		}
		switch msg.String() {
		case "esc":
			if m.Streaming() {
				m.stop()
				m.status = "Stopped."
				return m, nil
			}
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q != "" && !m.Streaming() {
				return m.ask(q)
			}
			return m, nil
		case "down":
			if len(m.sources) > 0 {
				m.cursor = (m.cursor + 1) % len(m.sources)
				return m, nil
			}
		case "up":
			if len(m.sources) > 0 {
				m.cursor = (m.cursor - 1 + len(m.sources)) % len(m.sources)
				return m, nil
			}
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) ask(q string) (tea.Model, tea.Cmd) {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.events = m.service.QueryStream(ctx, m.tenantID, q, m.opts...)
	m.turns = append(m.turns, &turn{question: q})
	m.sources = nil
	m.cursor = 0
	m.input.SetValue("")
	m.status = "Thinking..."
	m.refresh()
	return m, waitForEvent(m.events)
}

func (m Model) handleEvent(msg eventMsg) (tea.Model, tea.Cmd) {
	// Events from a stopped stream are dropped.
	if msg.from != m.events || len(m.turns) == 0 {
		return m, nil
	}
	if !msg.ok {
		m.stop()
		return m, nil
	}
	cur := m.turns[len(m.turns)-1]
	e := msg.event
	switch e.Type {
	case service.EventToken:
		cur.answer.WriteString(e.Token)
		m.status = "Answering..."
	case service.EventSources:
		m.sources = e.Sources
	case service.EventDone:
		cur.answer.Reset()
		cur.answer.WriteString(e.Answer.Text)
		cur.confidence = e.Answer.Confidence
		m.sources = e.Answer.Sources
		m.status = fmt.Sprintf("%d source(s), confidence %s, %s", len(e.Answer.Sources), e.Answer.Confidence, e.Answer.Latency.Round(time.Millisecond))
	case service.EventError:
		cur.answer.Reset()
		cur.answer.WriteString(e.Answer.Text)
		cur.confidence = e.Answer.Confidence
		cur.failed = true
		m.status = "Error: " + e.Err.Error()
	}
	m.refresh()
	return m, waitForEvent(m.events)
}

// stop cancels the running stream. Its remaining events are drained by the
// pending waitForEvent command and dropped.
func (m *Model) stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.cancel = nil
	m.events = nil
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

// View renders the chat layout.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("Corpus chat")
	chat := chatBoxStyle.Render(m.viewport.View())
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	return header + "\n" + chat + "\n" + m.renderSource() + "\n" + input + "\n" + status
}

func (m Model) renderTranscript() string {
	if len(m.turns) == 0 {
		return "No questions yet."
	}
	var b strings.Builder
	for i, t := range m.turns {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(questionStyle.Render("You: " + t.question))
		b.WriteString("\n")
		answer := t.answer.String()
		switch {
		case t.failed:
			b.WriteString(errorStyle.Render(answer))
		case answer == "":
			b.WriteString(mutedStyle.Render("..."))
		default:
			b.WriteString(answer)
		}
		if t.confidence != "" {
			b.WriteString(mutedStyle.Render(fmt.Sprintf("  [%s]", t.confidence)))
		}
	}
	return b.String()
}

func (m Model) renderSource() string {
	if len(m.sources) == 0 {
		return mutedStyle.Render("No sources.")
	}
	s := m.sources[m.cursor]
	question := ""
	if len(m.turns) > 0 {
		question = m.turns[len(m.turns)-1].question
	}
	title := mutedStyle.Render(fmt.Sprintf("Source %d/%d  %s  score=%.3f", m.cursor+1, len(m.sources), s.DocumentSource, s.Score))
	return title + "\n" + highlightBestSentence(s.Excerpt, question)
}

var (
	chatBoxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	questionStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	mutedStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	unicodeWordRe  = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
	sentenceRe     = regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`)
)

func highlightBestSentence(text, query string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	sentences := sentenceRe.FindAllString(text, -1)
	if len(sentences) == 0 {
		sentences = []string{strings.TrimSpace(text)}
	}
	qTokens := toTokenSet(query)
	if len(qTokens) == 0 {
		return strings.Join(sentences, " ")
	}
	bestIdx := 0
	bestScore := -1
	for i, s := range sentences {
		score := tokenOverlapScore(qTokens, s)
		if score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}
	for i := range sentences {
		sent := strings.TrimSpace(sentences[i])
		if i == bestIdx {
			sentences[i] = highlightStyle.Render(sent)
		} else {
			sentences[i] = sent
		}
	}
	return strings.Join(sentences, " ")
}

func toTokenSet(s string) map[string]struct{} {
	tokens := unicodeWordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

func tokenOverlapScore(queryTokens map[string]struct{}, sentence string) int {
	score := 0
	tokens := unicodeWordRe.FindAllString(strings.ToLower(sentence), -1)
	seen := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := queryTokens[t]; ok {
			score++
		}
	}
	return score
}
