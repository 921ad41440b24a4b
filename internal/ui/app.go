// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/dotnetfactory/model-faceoff/internal/model"
	"github.com/dotnetfactory/model-faceoff/internal/orchestrator"
	"github.com/dotnetfactory/model-faceoff/internal/provider"
	"github.com/dotnetfactory/model-faceoff/internal/storage"
	"github.com/dotnetfactory/model-faceoff/internal/util"
)

// =============================================================================
// VIEW MODES
// =============================================================================

type viewMode int

const (
	viewChat viewMode = iota
	viewPicker
	viewHistory
)

// =============================================================================
// APP MODEL
// =============================================================================

// App is the top-level Bubble Tea model.
type App struct {
	width  int
	height int
	ready  bool

	orch  *orchestrator.Orchestrator
	store *storage.Store
	cache *provider.ModelCache

	input textarea.Model
	panes [orchestrator.PanelCount]viewport.Model
	spin  spinner.Model

	// renderer renders finished assistant replies as markdown; nil until
	// the first window size arrives.
	renderer *glamour.TermRenderer

	mode    viewMode
	picker  *pickerState
	history *historyState

	status string
}

// New builds the App around an orchestrator and its collaborators.
func New(orch *orchestrator.Orchestrator, store *storage.Store, cache *provider.ModelCache) App {
	ta := textarea.New()
	ta.Placeholder = "Ask all panels... (enter to send, alt+1..3 to pick models)"
	ta.Focus()
	ta.CharLimit = 8192
	ta.SetHeight(3)
	ta.ShowLineNumbers = false

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return App{
		orch:  orch,
		store: store,
		cache: cache,
		input: ta,
		spin:  sp,
	}
}

// Init implements tea.Model.
func (m App) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.spin.Tick)
}

// =============================================================================
// UPDATE
// =============================================================================

// Update implements tea.Model.
func (m App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch m.mode {
	case viewPicker:
		return m.updatePicker(msg)
	case viewHistory:
		return m.updateHistory(msg)
	}
	return m.updateChat(msg)
}

func (m App) updateChat(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.orch.StopAll()
			return m, tea.Quit

		case "enter":
			return m.submit()

		case "esc":
			m.orch.StopAll()
			m.status = "stopped all streams"
			m.refreshPanes()
			return m, nil

		case "ctrl+l":
			m.orch.Clear()
			m.status = "cleared"
			m.refreshPanes()
			return m, nil

		case "ctrl+h":
			m.mode = viewHistory
			m.history = newHistoryState(m.width, m.height)
			return m, loadHistory(m.store)

		case "alt+1", "alt+2", "alt+3":
			panel := int(msg.String()[4] - '1')
			m.mode = viewPicker
			m.picker = newPickerState(panel, m.width, m.height)
			return m, loadModels(m.cache)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		m.ready = true
		m.refreshPanes()
		return m, nil

	case ChunkMsg:
		m.orch.HandleEvent(model.ChunkEvent(msg))
		m.refreshPanes()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// submit dispatches the prompt to every panel with a model.
func (m App) submit() (tea.Model, tea.Cmd) {
	prompt := strings.TrimSpace(m.input.Value())
	if prompt == "" {
		return m, nil
	}

	if err := m.orch.Submit(context.Background(), prompt); err != nil {
		m.status = err.Error()
		return m, nil
	}

	m.input.Reset()
	m.status = ""
	m.refreshPanes()
	return m, nil
}

// layout sizes the panes and input for the current terminal dimensions.
func (m *App) layout() {
	paneWidth := m.width/orchestrator.PanelCount - 2
	paneHeight := m.height - 9
	if paneWidth < 10 {
		paneWidth = 10
	}
	if paneHeight < 3 {
		paneHeight = 3
	}

	for i := range m.panes {
		m.panes[i] = viewport.New(paneWidth, paneHeight)
	}
	m.input.SetWidth(m.width - 4)

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(paneWidth),
	)
	if err == nil {
		m.renderer = renderer
	}
}

// refreshPanes rebuilds every panel's viewport content.
func (m *App) refreshPanes() {
	for i := range m.panes {
		m.panes[i].SetContent(m.paneContent(i))
		m.panes[i].GotoBottom()
	}
}

// paneContent renders one panel's conversation: finished assistant replies
// as markdown, the in-flight buffer raw.
func (m *App) paneContent(index int) string {
	panel := m.orch.Panel(index)
	if panel == nil {
		return ""
	}
	if !panel.HasModel() {
		return dimStyle.Render("no model selected\n\nalt+" + fmt.Sprint(index+1) + " to choose")
	}

	var sb strings.Builder
	for _, msg := range panel.History {
		switch msg.Role {
		case model.RoleUser:
			sb.WriteString(titleStyle.Render("You"))
			sb.WriteString("\n")
			sb.WriteString(msg.Content)
			sb.WriteString("\n\n")
		case model.RoleAssistant:
			sb.WriteString(dimStyle.Render(panel.ModelID))
			sb.WriteString("\n")
			sb.WriteString(m.renderMarkdown(msg.Content))
			sb.WriteString("\n")
		}
	}

	if panel.Streaming && panel.Buffer != "" {
		sb.WriteString(dimStyle.Render(panel.ModelID))
		sb.WriteString("\n")
		sb.WriteString(panel.Buffer)
		sb.WriteString("\n")
	}
	if panel.LastErr != "" {
		sb.WriteString(errorStyle.Render("error: " + panel.LastErr))
		sb.WriteString("\n")
	}
	return sb.String()
}

func (m *App) renderMarkdown(content string) string {
	if m.renderer == nil {
		return content
	}
	out, err := m.renderer.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimRight(out, "\n") + "\n"
}

// =============================================================================
// VIEW
// =============================================================================

// View implements tea.Model.
func (m App) View() string {
	if !m.ready {
		return "Loading faceoff..."
	}

	switch m.mode {
	case viewPicker:
		return m.picker.render(m.spin)
	case viewHistory:
		return m.history.render()
	}

	var cols []string
	for i := range m.panes {
		cols = append(cols, m.renderPane(i))
	}
	main := lipgloss.JoinHorizontal(lipgloss.Top, cols...)

	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderTitle(),
		main,
		m.renderStatus(),
		inputBorder.Width(m.width-2).Render(m.input.View()),
	)
}

func (m App) renderPane(index int) string {
	panel := m.orch.Panel(index)
	border := panelBorder
	if panel != nil && panel.Streaming {
		border = focusedPanelBorder
	}
	return border.Render(lipgloss.JoinVertical(lipgloss.Left,
		m.renderPaneHeader(index),
		m.panes[index].View(),
	))
}

// renderPaneHeader shows the model id plus streaming/accounting state.
func (m App) renderPaneHeader(index int) string {
	panel := m.orch.Panel(index)
	width := m.panes[index].Width

	name := "empty"
	if panel.HasModel() {
		name = panel.ModelID
	}
	header := titleStyle.Render(util.TruncateWidth(name, width-12))

	switch {
	case panel.Streaming:
		header += " " + m.spin.View()
	case panel.LastErr != "":
		header += " " + errorStyle.Render("failed")
	case panel.LastUsage != nil:
		info := fmt.Sprintf("%d tok", panel.LastUsage.TotalTokens)
		if panel.LastCost != nil {
			info += fmt.Sprintf(" $%.6f", *panel.LastCost)
		}
		header += " " + costStyle.Render(info)
	}
	return header
}

func (m App) renderTitle() string {
	left := titleStyle.Render(" FACEOFF ")
	conv := ""
	if id := m.orch.ConversationID(); id != "" {
		conv = dimStyle.Render(" conversation " + util.TruncateRunes(id, 8))
	}
	return left + conv
}

func (m App) renderStatus() string {
	keys := dimStyle.Render(" enter:send  esc:stop  ctrl+l:clear  ctrl+h:history  alt+1..3:models  ctrl+c:quit")
	if m.status == "" {
		return keys
	}
	return errorStyle.Render(" "+m.status) + "  " + keys
}
