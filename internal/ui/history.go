// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/dotnetfactory/model-faceoff/internal/model"
	"github.com/dotnetfactory/model-faceoff/internal/storage"
	"github.com/dotnetfactory/model-faceoff/internal/util"
)

// =============================================================================
// HISTORY BROWSER
// =============================================================================

// historyLoadedMsg carries the saved conversation listing.
type historyLoadedMsg struct {
	conversations []*model.Conversation
	err           error
}

func loadHistory(store *storage.Store) tea.Cmd {
	return func() tea.Msg {
		convs, err := store.ListConversations()
		return historyLoadedMsg{conversations: convs, err: err}
	}
}

// historyState is the overlay listing saved conversations.
type historyState struct {
	width   int
	height  int
	loading bool
	err     error

	conversations []*model.Conversation
	cursor        int
}

func newHistoryState(width, height int) *historyState {
	return &historyState{width: width, height: height, loading: true}
}

func (m App) updateHistory(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case historyLoadedMsg:
		m.history.loading = false
		m.history.err = msg.err
		m.history.conversations = msg.conversations
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.history.width = msg.Width
		m.history.height = msg.Height
		m.layout()
		return m, nil

	case tea.KeyMsg:
		h := m.history
		switch msg.String() {
		case "esc", "ctrl+c", "ctrl+h":
			m.mode = viewChat
			m.history = nil
			return m, nil

		case "up", "k":
			if h.cursor > 0 {
				h.cursor--
			}
			return m, nil

		case "down", "j":
			if h.cursor < len(h.conversations)-1 {
				h.cursor++
			}
			return m, nil

		case "enter":
			if h.cursor >= 0 && h.cursor < len(h.conversations) {
				conv := h.conversations[h.cursor]
				if err := m.orch.LoadConversation(conv.ID); err != nil {
					m.status = "load failed: " + err.Error()
				} else {
					m.status = "loaded " + conv.DisplayTitle()
				}
			}
			m.mode = viewChat
			m.history = nil
			m.refreshPanes()
			return m, nil

		case "d":
			if h.cursor >= 0 && h.cursor < len(h.conversations) {
				conv := h.conversations[h.cursor]
				if err := m.store.DeleteConversation(conv.ID); err != nil {
					h.err = err
					return m, nil
				}
				return m, loadHistory(m.store)
			}
			return m, nil
		}
	}
	return m, nil
}

func (h *historyState) render() string {
	header := titleStyle.Render(" Conversations ")

	var body string
	switch {
	case h.loading:
		body = dimStyle.Render("loading...")
	case h.err != nil:
		body = errorStyle.Render(h.err.Error())
	case len(h.conversations) == 0:
		body = dimStyle.Render("no saved conversations")
	default:
		body = h.renderList()
	}

	help := dimStyle.Render("enter:load  d:delete  esc:back")
	return lipgloss.JoinVertical(lipgloss.Left, header, "", body, "", help)
}

func (h *historyState) renderList() string {
	visible := h.height - 6
	if visible < 3 {
		visible = 3
	}
	start := 0
	if h.cursor >= visible {
		start = h.cursor - visible + 1
	}
	end := start + visible
	if end > len(h.conversations) {
		end = len(h.conversations)
	}

	var sb strings.Builder
	for i := start; i < end; i++ {
		conv := h.conversations[i]
		title := util.TruncateWidth(conv.DisplayTitle(), h.width-40)
		meta := dimStyle.Render(fmt.Sprintf("  %s  %s",
			conv.UpdatedAt.Format("2006-01-02 15:04"),
			strings.Join(conv.ModelIDs, ", ")))
		line := "  " + title + meta
		if i == h.cursor {
			line = selectedItemStyle.Render("> "+title) + meta
		}
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	return sb.String()
}
