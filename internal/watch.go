package internal

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// WatchModel holds the bubbletea state for the presence dashboard: a login
// prompt, the running agent, and the live online list.
type WatchModel struct {
	baseURL   string
	wsPath    string
	textInput textinput.Model
	mode      watchMode
	username  string
	password  string
	token     string
	agent     *Agent
	online    []string
	notices   []string
	err       error
}

type watchMode int

const (
	modeUsername watchMode = iota
	modePassword
	modeWatching
)

// bubbletea messages for the asynchronous parts: login, agent notifications.
type (
	loggedInMsg   struct{ result *LoginResult }
	loginFailMsg  struct{ err error }
	agentEventMsg AgentEvent
)

var (
	watchTitleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).Padding(0, 1)
	watchHintStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).MarginTop(1)
	watchBoxStyle     = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(1, 2).MarginTop(1)
	watchInputStyle   = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1).MarginTop(1)
	onlineUserStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	offlineNoteStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Italic(true)
	noticeStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("109"))
	watchErrorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true).MarginTop(1)
	statusReadyStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	statusRetryStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("178")).Italic(true)
	statusClosedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

const maxNotices = 8

// NewWatchModel builds the dashboard model. Empty username/password start the
// interactive prompt.
func NewWatchModel(baseURL, wsPath, username, password string) *WatchModel {
	input := textinput.New()
	input.Prompt = "user> "
	input.Placeholder = "username"
	input.Focus()

	model := &WatchModel{
		baseURL:   strings.TrimRight(baseURL, "/"),
		wsPath:    wsPath,
		textInput: input,
		username:  username,
		password:  password,
	}
	switch {
	case username == "":
		model.mode = modeUsername
	case password == "":
		model.mode = modePassword
		model.preparePasswordInput()
	default:
		model.mode = modeWatching
	}
	return model
}

func (m *WatchModel) preparePasswordInput() {
	m.textInput.SetValue("")
	m.textInput.Prompt = "pass> "
	m.textInput.Placeholder = "password"
	m.textInput.EchoMode = textinput.EchoPassword
	m.textInput.Focus()
}

func (m *WatchModel) Init() tea.Cmd {
	if m.mode == modeWatching {
		return m.loginCmd()
	}
	return textinput.Blink
}

func (m *WatchModel) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := message.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyEsc && m.mode != modeWatching {
			m.teardown()
			return m, tea.Quit
		}
		if msg.String() == "q" && m.mode == modeWatching {
			m.teardown()
			return m, tea.Quit
		}
		switch m.mode {
		case modeUsername:
			if msg.Type == tea.KeyEnter {
				trimmed := strings.TrimSpace(m.textInput.Value())
				if trimmed == "" {
					return m, nil
				}
				m.username = trimmed
				m.mode = modePassword
				m.preparePasswordInput()
				return m, textinput.Blink
			}
			var cmd tea.Cmd
			m.textInput, cmd = m.textInput.Update(msg)
			return m, cmd
		case modePassword:
			if msg.Type == tea.KeyEnter {
				trimmed := strings.TrimSpace(m.textInput.Value())
				if trimmed == "" {
					return m, nil
				}
				m.password = trimmed
				m.mode = modeWatching
				m.textInput.Blur()
				return m, m.loginCmd()
			}
			var cmd tea.Cmd
			m.textInput, cmd = m.textInput.Update(msg)
			return m, cmd
		}
		return m, nil

	case loggedInMsg:
		m.token = msg.result.Token
		m.username = msg.result.Username
		wsURL, err := WebSocketURL(m.baseURL, m.wsPath)
		if err != nil {
			m.err = err
			return m, tea.Quit
		}
		m.agent = NewAgent(AgentConfig{ServerURL: wsURL, Token: m.token})
		if err := m.agent.Connect(); err != nil {
			m.err = err
			return m, tea.Quit
		}
		m.addNotice(fmt.Sprintf("logged in as %s", m.username))
		return m, m.waitEventCmd()

	case loginFailMsg:
		m.err = msg.err
		return m, tea.Quit

	case agentEventMsg:
		switch msg.Kind {
		case AgentEventReady:
			m.addNotice("presence synchronized")
		case AgentEventPeerOnline:
			m.addNotice(fmt.Sprintf("%s came online", msg.UserID))
		case AgentEventPeerOffline:
			m.addNotice(fmt.Sprintf("%s went offline", msg.UserID))
		case AgentEventDropped:
			m.addNotice("connection lost, reconnecting...")
		case AgentEventClosed:
			if msg.Err != nil {
				m.err = msg.Err
			}
			m.teardown()
			return m, tea.Quit
		}
		m.online = m.agent.Online()
		sort.Strings(m.online)
		return m, m.waitEventCmd()
	}
	return m, nil
}

func (m *WatchModel) View() string {
	title := watchTitleStyle.Render("Skillhub Presence")

	switch m.mode {
	case modeUsername, modePassword:
		hint := watchHintStyle.Render("Log in to watch who is online. Esc or Ctrl+C to quit.")
		return lipgloss.JoinVertical(lipgloss.Left, title, hint, watchInputStyle.Render(m.textInput.View()))
	}

	var status string
	if m.agent != nil {
		switch m.agent.State() {
		case AgentReady:
			status = statusReadyStyle.Render("Live")
		case AgentReconnecting, AgentConnecting, AgentAwaitingAuth:
			status = statusRetryStyle.Render("Connecting...")
		default:
			status = statusClosedStyle.Render("Disconnected")
		}
	}

	var userLines []string
	for _, userID := range m.online {
		marker := "●"
		if userID == m.username {
			marker = "◉"
		}
		userLines = append(userLines, onlineUserStyle.Render(marker+" "+userID))
	}
	if len(userLines) == 0 {
		userLines = append(userLines, offlineNoteStyle.Render("nobody online"))
	}
	onlineView := watchBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, userLines...))

	sections := []string{title, status, onlineView}
	if len(m.notices) > 0 {
		var rendered []string
		for _, notice := range m.notices {
			rendered = append(rendered, noticeStyle.Render(notice))
		}
		sections = append(sections, watchBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rendered...)))
	}
	if m.err != nil {
		sections = append(sections, watchErrorStyle.Render("Error: "+m.err.Error()))
	}
	sections = append(sections, watchHintStyle.Render("Press q to quit."))

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m *WatchModel) addNotice(notice string) {
	stamped := fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), notice)
	m.notices = append(m.notices, stamped)
	if len(m.notices) > maxNotices {
		m.notices = m.notices[len(m.notices)-maxNotices:]
	}
}

func (m *WatchModel) teardown() {
	if m.agent != nil {
		m.agent.Close()
	}
	if m.token != "" {
		_ = Logout(m.baseURL, m.token)
	}
}

func (m *WatchModel) loginCmd() tea.Cmd {
	return func() tea.Msg {
		result, err := Login(m.baseURL, m.username, m.password)
		if err != nil {
			return loginFailMsg{err: err}
		}
		return loggedInMsg{result: result}
	}
}

// waitEventCmd delivers one agent notification at a time; we schedule it
// repeatedly to keep listening.
func (m *WatchModel) waitEventCmd() tea.Cmd {
	return func() tea.Msg {
		return agentEventMsg(<-m.agent.Events())
	}
}

// RunWatch launches the bubbletea program.
func RunWatch(baseURL, wsPath, username, password string) error {
	program := tea.NewProgram(NewWatchModel(baseURL, wsPath, username, password))
	_, err := program.Run()
	return err
}
