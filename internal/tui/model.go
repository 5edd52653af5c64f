package tui

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/classifier"
	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/domain"
	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/model"
)

// ClassifierPort is the TUI-facing subset of the classification service.
type ClassifierPort interface {
	Fit(ctx context.Context, classes []string) (*model.Model, error)
	ClassifyPaths(ctx context.Context, patterns []string) ([]classifier.BatchItem, error)
	Model() *model.Model
}

type phase int

const (
	phaseBuilding phase = iota
	phaseReady
	phaseClassifying
)

type (
	progressMsg   domain.Progress
	fitDoneMsg    struct{ err error }
	classifiedMsg struct {
		items []classifier.BatchItem
		err   error
	}
)

// Model is the Bubble Tea model for the TUI application.
type Model struct {
	ctx      context.Context
	service  ClassifierPort
	classes  []string
	updates  <-chan domain.Progress
	phase    phase
	spinner  spinner.Model
	bar      progress.Model
	done     int
	total    int
	current  string
	input    textinput.Model
	viewport viewport.Model
	results  []classifier.BatchItem
	status   string
	cursor   int
	ready    bool
}

// New creates a TUI. When classes is non-empty the model is fitted first and
// updates, if not nil, feeds the progress bar; otherwise the service must
// already hold a model.
func New(ctx context.Context, service ClassifierPort, classes []string, updates <-chan domain.Progress) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Image path, directory or glob, then Enter"
	ti.CharLimit = 0
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	m := Model{
		ctx:      ctx,
		service:  service,
		classes:  classes,
		updates:  updates,
		spinner:  sp,
		bar:      progress.New(progress.WithDefaultGradient()),
		input:    ti,
		viewport: viewport.New(0, 0),
	}
	if len(classes) == 0 {
		m.phase = phaseReady
		m.input.Focus()
		m.status = m.readyStatus()
	} else {
		m.phase = phaseBuilding
		m.status = fmt.Sprintf("Building prototypes for %d classes...", len(classes))
	}
	return m
}

// Init starts the fit when one is pending and the cursor blink.
func (m Model) Init() tea.Cmd {
	if m.phase != phaseBuilding {
		return textinput.Blink
	}
	return tea.Batch(m.spinner.Tick, m.fit(), waitProgress(m.updates))
}

func (m Model) fit() tea.Cmd {
	return func() tea.Msg {
		_, err := m.service.Fit(m.ctx, m.classes)
		return fitDoneMsg{err: err}
	}
}

func (m Model) classify(patterns []string) tea.Cmd {
	return func() tea.Msg {
		items, err := m.service.ClassifyPaths(m.ctx, patterns)
		return classifiedMsg{items: items, err: err}
	}
}

func waitProgress(ch <-chan domain.Progress) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		p, ok := <-ch
		if !ok {
			return nil
		}
		return progressMsg(p)
	}
}

// Update handles key and window events and updates the view state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 2 + 1 + qh + 1 + 1 // header + model line, status, input box, spacer
		vh := msg.Height - reserved
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, vh-rh)
		m.bar.Width = max(10, min(60, msg.Width-4))
		m.viewport.SetContent(m.renderCurrentResult())
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD || msg.Type == tea.KeyEsc {
			return m, tea.Quit
		}
		if m.phase != phaseReady {
			return m, nil
		}
		switch msg.String() {
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q != "" {
				m.phase = phaseClassifying
				m.status = fmt.Sprintf("Classifying %q...", q)
				return m, tea.Batch(m.spinner.Tick, m.classify(strings.Fields(q)))
			}
		case "down":
			if len(m.results) > 0 {
				m.cursor = (m.cursor + 1) % len(m.results)
				m.viewport.SetContent(m.renderCurrentResult())
				return m, nil
			}
		case "up":
			if len(m.results) > 0 {
				m.cursor = (m.cursor - 1 + len(m.results)) % len(m.results)
				m.viewport.SetContent(m.renderCurrentResult())
				return m, nil
			}
		}
	case progressMsg:
		switch msg.Stage {
		case domain.StageClassStarted:
			m.total = msg.ClassCount * msg.Rounds
			m.current = msg.Class
		case domain.StageRoundDone:
			m.done++
		}
		return m, waitProgress(m.updates)
	case fitDoneMsg:
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			return m, nil
		}
		m.phase = phaseReady
		m.input.Focus()
		m.status = m.readyStatus()
		return m, textinput.Blink
	case classifiedMsg:
		m.phase = phaseReady
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			m.results = nil
		} else {
			m.results = msg.items
			m.cursor = 0
			m.status = summarize(msg.items)
			m.input.SetValue("")
		}
		m.viewport.SetContent(m.renderCurrentResult())
		return m, nil
	case spinner.TickMsg:
		if m.phase == phaseReady {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the TUI layout and current result.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("What do you see?")
	status := statusStyle.Render(m.status)
	if m.phase == phaseBuilding {
		pct := 0.0
		if m.total > 0 {
			pct = float64(m.done) / float64(m.total)
		}
		line := fmt.Sprintf("%s %s", m.spinner.View(), m.current)
		return header + "\n\n" + line + "\n" + m.bar.ViewAs(pct) + "\n\n" + status
	}
	info := mutedStyle.Render(m.modelLine())
	results := resultBoxStyle.Render(m.viewport.View())
	input := queryBoxStyle.Render(m.input.View())
	if m.phase == phaseClassifying {
		status = m.spinner.View() + " " + status
	}
	return header + "\n" + info + "\n" + results + "\n" + input + "\n" + status
}

func (m Model) modelLine() string {
	cur := m.service.Model()
	if cur == nil {
		return "no model"
	}
	return fmt.Sprintf("%d classes, D=%d: %s", cur.NumClasses(), cur.Dimension(), strings.Join(cur.ClassNames(), ", "))
}

func (m Model) readyStatus() string {
	return "Ready. Enter image paths to classify; up/down to browse results."
}

func (m Model) renderCurrentResult() string {
	if len(m.results) == 0 {
		return "No results yet."
	}
	it := m.results[m.cursor]
	title := fmt.Sprintf("Image %d/%d  %s", m.cursor+1, len(m.results), filepath.Base(it.Image.ID))
	if it.Err != nil {
		return title + "\n\n" + errorStyle.Render(it.Err.Error())
	}
	return title + "\n\n" + renderResult(it.Result)
}

func renderResult(r *classifier.Result) string {
	var sb strings.Builder
	sb.WriteString(classStyle.Render(r.Class))
	sb.WriteString("\n\n")
	top := 0.0
	if len(r.Ranking) > 0 {
		top = r.Ranking[0].Score
	}
	for _, s := range r.Ranking {
		line := fmt.Sprintf("%-16s %7.4f  %s", s.Class, s.Score, bar(s.Score, top, 24))
		if s.Index == r.Index {
			line = highlightStyle.Render(line)
		}
		sb.WriteString(line + "\n")
	}
	sb.WriteString("\n" + mutedStyle.Render("predicted: "+r.Prediction))
	sb.WriteString("\n" + mutedStyle.Render("described: "+r.Description))
	return sb.String()
}

// bar draws score relative to the top score.
func bar(score, top float64, width int) string {
	if top <= 0 || score <= 0 {
		return ""
	}
	n := int(score / top * float64(width))
	return strings.Repeat("█", n)
}

func summarize(items []classifier.BatchItem) string {
	failed := 0
	for _, it := range items {
		if it.Err != nil {
			failed++
		}
	}
	if failed == 0 {
		return fmt.Sprintf("Classified %d images.", len(items))
	}
	return fmt.Sprintf("Classified %d images, %d failed.", len(items)-failed, failed)
}

var (
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	classStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	mutedStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)
