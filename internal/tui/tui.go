package tui

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tatianab/storyforge/internal/config"
	"github.com/tatianab/storyforge/internal/engine"
	"github.com/tatianab/storyforge/internal/game"
	"github.com/tatianab/storyforge/internal/models"
	"github.com/tatianab/storyforge/internal/storage"
)

type sessionState int

const (
	stateIdentity sessionState = iota
	stateStyle
	stateDifficulty
	stateGenerating
	statePlaying
)

type model struct {
	state     sessionState
	session   *game.Session
	game      *models.GameState
	textInput textinput.Model
	viewport  viewport.Model
	spinner   spinner.Model
	width     int
	height    int

	identity  string // chosen while setting up a new game
	style     string

	pending   string       // action being generated
	streamed  string       // narrative received so far for pending
	stream    chan tea.Msg // open while generating
	notice    string
	noticeErr bool
}

var (
	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EEEEEE")).
			Background(lipgloss.Color("#5F5F87")).
			Bold(true).
			PaddingLeft(1)

	gameStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			Italic(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5F5F"))

	statePanelStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(lipgloss.Color("#3C3C3C")).
			PaddingLeft(2).
			Foreground(lipgloss.Color("#AAAAAA"))

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFA500")).
			Bold(true).
			Underline(true)
)

const help = "Commands: /new, /save [name], /load <name>, /saves, /delete <name>, /key <api key>, " +
	"/audio on|off, /images on|off, /model <name>, /budget <0-4096>, /voice <name>, /costs, /quit. " +
	"Esc cancels generation."

const identityPlaceholder = "Describe your character, or leave empty..."

func NewModel(s *game.Session) model {
	ti := textinput.New()
	ti.Placeholder = identityPlaceholder
	ti.Focus()
	ti.CharLimit = 512
	ti.Width = 60

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return model{
		state:     stateIdentity,
		session:   s,
		textInput: ti,
		spinner:   sp,
	}
}

func (m model) Init() tea.Cmd {
	return textinput.Blink
}

type chunkMsg struct {
	chunk engine.Chunk
}

type turnProcessedMsg struct {
	res *engine.Result
	err error
}

// submit starts generating action and returns a command reading the first
// message of the stream.
func (m *model) submit(action string) tea.Cmd {
	ch := make(chan tea.Msg, 64)
	m.stream = ch
	m.pending = action
	m.streamed = ""
	m.state = stateGenerating

	session := m.session
	go func() {
		defer close(ch)
		res, err := session.SubmitAction(context.Background(), action, func(c engine.Chunk) {
			ch <- chunkMsg{c}
		})
		ch <- turnProcessedMsg{res, err}
	}()
	return tea.Batch(waitFor(ch), m.spinner.Tick)
}

func waitFor(ch <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return msg
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			m.session.CancelGeneration()
			return m, tea.Quit

		case tea.KeyEsc:
			if m.state == stateGenerating && m.session.CancelGeneration() {
				m.setNotice("Cancelling...", false)
			}
			return m, nil

		case tea.KeyEnter:
			switch m.state {
			case stateIdentity:
				m.identity = strings.TrimSpace(m.textInput.Value())
				m.textInput.Reset()
				m.notice = ""
				m.state = stateStyle
				m.textInput.Placeholder = "Number or name, empty for the first"
				return m, nil
			case stateStyle:
				style, ok := choose(m.textInput.Value(), m.session.Styles())
				m.textInput.Reset()
				if !ok {
					m.setNotice("Pick one of the listed styles.", true)
					return m, nil
				}
				m.style, m.notice = style, ""
				m.state = stateDifficulty
				return m, nil
			case stateDifficulty:
				difficulty, ok := choose(m.textInput.Value(), m.session.Difficulties())
				m.textInput.Reset()
				if !ok {
					m.setNotice("Pick one of the listed difficulties.", true)
					return m, nil
				}
				return m, m.startGame(difficulty)
			case statePlaying:
				input := strings.TrimSpace(m.textInput.Value())
				if input == "" {
					return m, nil
				}
				m.textInput.Reset()
				if strings.HasPrefix(input, "/") {
					return m.command(input)
				}
				if m.game.Finished() {
					m.setNotice("The adventure has ended. Use /new or /load.", true)
					return m, nil
				}
				cmd := m.submit(input)
				m.refresh()
				return m, cmd
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		logWidth := int(float64(msg.Width) * 0.75)
		if m.viewport.Width == 0 {
			m.viewport = viewport.New(logWidth, msg.Height-7)
		}
		m.viewport.Width = logWidth
		m.viewport.Height = msg.Height - 7
		m.refresh()

	case spinner.TickMsg:
		if m.state != stateGenerating {
			return m, nil
		}
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case chunkMsg:
		if msg.chunk.Reset {
			m.streamed = ""
		}
		m.streamed += msg.chunk.Text
		m.refresh()
		return m, waitFor(m.stream)

	case turnProcessedMsg:
		m.state = statePlaying
		m.stream = nil
		m.pending, m.streamed = "", ""
		m.game = m.session.State()
		switch {
		case msg.err != nil:
			m.setNotice(msg.err.Error(), true)
		case msg.res.Err != nil:
			m.setNotice(msg.res.Err.UserMessage(), true)
		case len(msg.res.SubFailures) > 0:
			var calls []string
			for _, f := range msg.res.SubFailures {
				calls = append(calls, f.Call)
			}
			m.setNotice("Story continues without "+strings.Join(calls, " and ")+": "+msg.res.SubFailures[0].Err.UserMessage(), true)
		default:
			m.notice = ""
		}
		m.textInput.Placeholder = "What do you do?"
		m.refresh()
		return m, nil
	}

	if m.state != stateGenerating {
		m.textInput, cmd = m.textInput.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *model) startGame(difficulty string) tea.Cmd {
	state, err := m.session.NewGame(models.NewGameOptions{
		Identity:   m.identity,
		Style:      m.style,
		Difficulty: difficulty,
	})
	if err != nil {
		m.state = stateIdentity
		m.textInput.Placeholder = identityPlaceholder
		m.setNotice(err.Error(), true)
		return nil
	}
	m.game = state
	m.notice = ""
	return m.submit("")
}

func (m model) command(input string) (tea.Model, tea.Cmd) {
	name, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/quit":
		return m, tea.Quit

	case "/new":
		m.state = stateIdentity
		m.game = nil
		m.notice = ""
		m.identity, m.style = "", ""
		m.textInput.Placeholder = identityPlaceholder
		return m, nil

	case "/save":
		if arg == "" {
			arg = m.game.ID
		}
		if err := m.session.SaveGame(m.session.SlotPath(arg)); err != nil {
			m.setNotice(userMessage(err), true)
		} else {
			m.setNotice("Saved to slot "+arg+".", false)
		}

	case "/load":
		if arg == "" {
			m.setNotice("Usage: /load <name>. See /saves.", true)
			break
		}
		state, err := m.session.LoadGame(m.session.SlotPath(arg))
		if err != nil {
			m.setNotice(userMessage(err), true)
			break
		}
		m.game = state
		m.setNotice("Loaded slot "+arg+".", false)

	case "/saves":
		m.setNotice(m.listSaves(), false)

	case "/delete":
		if err := m.session.DeleteSave(arg); err != nil {
			m.setNotice(userMessage(err), true)
		} else {
			m.setNotice("Deleted slot "+arg+".", false)
		}

	case "/key":
		// The probe is a short network call; blocking the UI for it is acceptable.
		if err := m.session.UpdateCredential(context.Background(), arg); err != nil {
			m.setNotice("API key not accepted: "+err.Error(), true)
		} else {
			m.setNotice("API key updated.", false)
		}

	case "/audio", "/images":
		on := arg == "on"
		if !on && arg != "off" {
			m.setNotice("Usage: "+name+" on|off", true)
			break
		}
		err := m.session.UpdateSettings(func(s *config.Settings) {
			if name == "/audio" {
				s.AudioEnabled = on
			} else {
				s.ImageEnabled = on
			}
		})
		if err != nil {
			m.setNotice(err.Error(), true)
		} else {
			m.setNotice(fmt.Sprintf("%s %s.", strings.TrimPrefix(name, "/"), arg), false)
		}

	case "/model", "/voice":
		if arg == "" {
			s := m.session.Settings()
			m.setNotice(fmt.Sprintf("Text model: %s  Voice: %s", s.TextModel, s.NarrationVoice), false)
			break
		}
		err := m.session.UpdateSettings(func(s *config.Settings) {
			if name == "/model" {
				s.TextModel = arg
			} else {
				s.NarrationVoice = arg
			}
		})
		if err != nil {
			m.setNotice(err.Error(), true)
		} else {
			m.setNotice(fmt.Sprintf("%s set to %s.", strings.TrimPrefix(name, "/"), arg), false)
		}

	case "/budget":
		budget, err := strconv.Atoi(arg)
		if err != nil {
			m.setNotice(fmt.Sprintf("Usage: /budget <%d-%d>", config.MinThinkingBudget, config.MaxThinkingBudget), true)
			break
		}
		if err := m.session.UpdateSettings(func(s *config.Settings) { s.ThinkingBudget = budget }); err != nil {
			m.setNotice(err.Error(), true)
		} else {
			m.setNotice(fmt.Sprintf("Thinking budget set to %d.", budget), false)
		}

	case "/costs":
		r := m.session.Report()
		m.setNotice(fmt.Sprintf("Turns: %d  Text: $%.4f  Audio: $%.4f  Images: $%.4f  Total: $%.4f  Per turn: $%.4f",
			r.Usage.Turns, r.TextCost, r.AudioCost, r.ImageCost, r.Total, r.PerTurn), false)

	default:
		m.setNotice("Unknown command "+name+".", true)
	}
	m.refresh()
	return m, nil
}

// choose resolves input against options by number or name. Empty input picks
// the first option.
func choose(input string, options []string) (string, bool) {
	input = strings.TrimSpace(input)
	if len(options) == 0 {
		return "", false
	}
	if input == "" {
		return options[0], true
	}
	if n, err := strconv.Atoi(input); err == nil {
		if n < 1 || n > len(options) {
			return "", false
		}
		return options[n-1], true
	}
	for _, o := range options {
		if strings.EqualFold(o, input) {
			return o, true
		}
	}
	return "", false
}

func (m model) listSaves() string {
	saves, err := m.session.ListSaves()
	if err != nil {
		return userMessage(err)
	}
	if len(saves) == 0 {
		return "No saves yet."
	}
	var b strings.Builder
	for _, s := range saves {
		if s.Err != nil {
			fmt.Fprintf(&b, "%s (unreadable)  ", s.Name)
			continue
		}
		fmt.Fprintf(&b, "%s: %s at %s, %d turns  ", s.Name, s.Character, s.Location, s.Turns)
	}
	return b.String()
}

func userMessage(err error) string {
	var se *storage.Error
	if errors.As(err, &se) {
		return se.UserMessage()
	}
	return err.Error()
}

func (m *model) setNotice(text string, isErr bool) {
	m.notice, m.noticeErr = text, isErr
}

func (m *model) refresh() {
	if m.viewport.Width == 0 {
		return
	}
	m.viewport.SetContent(m.renderLog())
	m.viewport.GotoBottom()
}

func (m model) View() string {
	var s string

	switch m.state {
	case stateIdentity:
		s = fmt.Sprintf(
			"Welcome to Storyforge!\n\n%s\n\n%s",
			"Who are you? Describe your character:",
			m.textInput.View(),
		)
		if m.notice != "" {
			s += "\n\n" + errorStyle.Render(m.notice)
		}

	case stateStyle, stateDifficulty:
		prompt, options := "Choose the style of your world:", m.session.Styles()
		if m.state == stateDifficulty {
			prompt, options = "Choose a difficulty:", m.session.Difficulties()
		}
		var b strings.Builder
		for i, o := range options {
			fmt.Fprintf(&b, "%d. %s\n", i+1, o)
		}
		s = fmt.Sprintf("%s\n\n%s\n%s", titleStyle.Render(prompt), b.String(), m.textInput.View())
		if m.notice != "" {
			s += "\n\n" + errorStyle.Render(m.notice)
		}

	case statePlaying, stateGenerating:
		mainView := lipgloss.JoinHorizontal(lipgloss.Top,
			m.viewport.View(),
			m.renderState(),
		)

		input := m.textInput.View()
		if m.state == stateGenerating {
			input = m.spinner.View() + " The story unfolds..."
		}
		notice := ""
		if m.notice != "" {
			style := helpStyle
			if m.noticeErr {
				style = errorStyle
			}
			notice = style.Width(m.viewport.Width).Render(m.notice)
		}

		s = lipgloss.JoinVertical(lipgloss.Left,
			mainView,
			"\n"+input,
			notice,
			helpStyle.Render(help),
		)
	}

	return "\n" + s + "\n"
}

func (m model) renderState() string {
	if m.game == nil {
		return ""
	}
	state := m.game
	pos := state.Player.Position

	var b strings.Builder
	b.WriteString(titleStyle.Render("LOCATION") + "\n")
	fmt.Fprintf(&b, "%s\nDay %d, %s\n\n", orNone(pos.Location), pos.Day, orNone(pos.Time))

	b.WriteString(titleStyle.Render("ATTRIBUTES") + "\n")
	writeMapping(&b, state.Player.Attributes)

	b.WriteString(titleStyle.Render("INVENTORY") + "\n")
	if len(state.Player.Inventory) == 0 {
		b.WriteString("(empty)\n")
	}
	for _, item := range state.Player.Inventory {
		mark := "-"
		if item.Equipped {
			mark = "*"
		}
		fmt.Fprintf(&b, "%s %s\n", mark, item.Name)
	}
	b.WriteString("\n")

	if len(state.Player.Perks) > 0 {
		b.WriteString(titleStyle.Render("PERKS") + "\n")
		for _, p := range state.Player.Perks {
			fmt.Fprintf(&b, "- %s (%s)\n", p.Name, p.Degree)
		}
		b.WriteString("\n")
	}

	if len(state.Options) > 0 {
		b.WriteString(titleStyle.Render("OPTIONS") + "\n")
		for i, o := range state.Options {
			fmt.Fprintf(&b, "%d. %s\n", i+1, o)
		}
	}
	if state.Finished() {
		fmt.Fprintf(&b, "\nThe adventure is over: you %s.\n", state.Status)
	}

	stateWidth := int(float64(m.width) * 0.23)
	return statePanelStyle.Width(stateWidth).Height(m.viewport.Height).Render(b.String())
}

func writeMapping(b *strings.Builder, m map[string]string) {
	if len(m) == 0 {
		b.WriteString("(none)\n\n")
		return
	}
	for _, k := range slices.Sorted(maps.Keys(m)) {
		fmt.Fprintf(b, "%s: %s\n", k, m[k])
	}
	b.WriteString("\n")
}

func orNone(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func (m model) renderLog() string {
	width := m.viewport.Width
	var b strings.Builder
	if m.game != nil {
		for _, t := range m.game.NarrativeLog {
			if t.Action != "" {
				b.WriteString(userStyle.Width(width).Render("> "+t.Action) + "\n\n")
			}
			b.WriteString(gameStyle.Width(width).Render(t.Narrative) + "\n\n")
		}
	}
	if m.state == stateGenerating {
		if m.pending != "" {
			b.WriteString(userStyle.Width(width).Render("> "+m.pending) + "\n\n")
		}
		b.WriteString(gameStyle.Width(width).Render(m.streamed))
	}
	return b.String()
}

func Run(s *game.Session) error {
	p := tea.NewProgram(NewModel(s), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
