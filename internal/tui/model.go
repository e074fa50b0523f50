package tui

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"docrag/internal/synthesizer"
)

// SourcePreviewLength is the number of characters shown per source.
const SourcePreviewLength = 300

const helpText = "Commands: sources (show the sources of the last answer), reset (clear the knowledge base), help, quit/exit/bye"

// QAPort is the TUI-facing subset of the document QA service.
type QAPort interface {
	Query(ctx context.Context, question string) (synthesizer.Answer, error)
	Reset(ctx context.Context) error
}

type answerMsg struct {
	question string
	answer   synthesizer.Answer
	err      error
}

type resetMsg struct{ err error }

// Model is the Bubble Tea model for the TUI application.
type Model struct {
	ctx         context.Context
	service     QAPort
	input       textinput.Model
	viewport    viewport.Model
	answer      *synthesizer.Answer
	showSources bool
	summary     string
	status      string
	cursor      int
	ready       bool
	busy        bool
	lastQuery   string
}

// New creates a new TUI model instance.
func New(ctx context.Context, service QAPort, summary string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question, or type help"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	return Model{ctx: ctx, service: service, input: ti, viewport: vp, summary: summary, status: "Documents loaded. Ask a question."}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key and window events and updates the view state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		// account for frames around result and query boxes
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		totalHeaderLines := 2                                    // header + summary
		totalFooterLines := 1                                    // status
		reserved := totalHeaderLines + totalFooterLines + qh + 1 // 1 spacer
		vh := max(3, msg.Height-reserved)
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, vh-rh)
		m.viewport.SetContent(m.renderContent())
		return m, nil

	case answerMsg:
		m.busy = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			m.answer = nil
		} else {
			m.answer = &msg.answer
			m.lastQuery = msg.question
			m.showSources = false
			m.cursor = 0
			m.status = fmt.Sprintf("Answer for %q (%s, %d sources)", msg.question, msg.answer.Mode, len(msg.answer.Sources))
			if !msg.answer.Success {
				m.status = fmt.Sprintf("Query failed for %q", msg.question)
			}
		}
		m.viewport.SetContent(m.renderContent())
		return m, nil

	case resetMsg:
		m.busy = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
		} else {
			m.answer = nil
			m.summary = ""
			m.showSources = false
			m.status = "Knowledge base cleared."
		}
		m.viewport.SetContent(m.renderContent())
		return m, nil

	case tea.KeyMsg:
		// Global quits
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q == "" || m.busy {
				return m, nil
			}
			m.input.SetValue("")
			return m.command(q)
		case "down":
			if m.showSources && m.answer != nil && len(m.answer.Sources) > 0 {
				m.cursor = (m.cursor + 1) % len(m.answer.Sources)
				m.viewport.SetContent(m.renderContent())
				return m, nil
			}
		case "up":
			if m.showSources && m.answer != nil && len(m.answer.Sources) > 0 {
				m.cursor = (m.cursor - 1 + len(m.answer.Sources)) % len(m.answer.Sources)
				m.viewport.SetContent(m.renderContent())
				return m, nil
			}
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) command(input string) (tea.Model, tea.Cmd) {
	switch strings.ToLower(input) {
	case "quit", "exit", "q", "bye":
		return m, tea.Quit
	case "help":
		m.status = helpText
		return m, nil
	case "sources":
		if m.answer == nil || len(m.answer.Sources) == 0 {
			m.status = "No sources available. Ask a question first."
			return m, nil
		}
		m.showSources = !m.showSources
		m.cursor = 0
		m.status = fmt.Sprintf("%d sources, use up/down", len(m.answer.Sources))
		m.viewport.SetContent(m.renderContent())
		return m, nil
	case "reset":
		m.busy = true
		m.status = "Clearing knowledge base..."
		ctx, svc := m.ctx, m.service
		return m, func() tea.Msg { return resetMsg{err: svc.Reset(ctx)} }
	}
	m.busy = true
	m.status = fmt.Sprintf("Searching for %q...", input)
	ctx, svc := m.ctx, m.service
	return m, func() tea.Msg {
		answer, err := svc.Query(ctx, input)
		return answerMsg{question: input, answer: answer, err: err}
	}
}

// View renders the TUI layout and current answer.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("Document QA")
	summary := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(m.summary)
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	results := resultBoxStyle.Render(m.viewport.View())
	return header + "\n" + summary + "\n" + results + "\n" + input + "\n" + status
}

func (m Model) renderContent() string {
	if m.answer == nil {
		return "No answer yet."
	}
	if !m.showSources {
		return m.answer.Text
	}
	previews := m.answer.Previews(SourcePreviewLength)
	p := previews[m.cursor]
	title := fmt.Sprintf("Source %d/%d", m.cursor+1, len(previews))
	if p.Page != "" {
		title += "  page " + p.Page
	}
	body := highlightBestSentence(p.Preview, m.lastQuery)
	return title + "\n\n" + body + "\n\n" + sourceStyle.Render("From: "+p.Source)
}

var (
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	sourceStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
	unicodeWordRe  = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
	sentenceRe     = regexp.MustCompile(`[^.!?]+(?:[.!?]+|$)`)
)

// highlightBestSentence emphasises the sentence sharing the most words with the query.
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
		return strings.TrimSpace(strings.Join(sentences, ""))
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
