// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/dotnetfactory/model-faceoff/internal/provider"
	"github.com/dotnetfactory/model-faceoff/internal/util"
)

// =============================================================================
// MODEL PICKER
// =============================================================================

// modelsLoadedMsg carries the model listing fetched for the picker.
type modelsLoadedMsg struct {
	models []provider.ModelInfo
	err    error
}

// loadModels fetches the model listing through the cache.
func loadModels(cache *provider.ModelCache) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		models, err := cache.Models(ctx)
		return modelsLoadedMsg{models: models, err: err}
	}
}

// pickerState is the overlay for choosing one panel's model.
type pickerState struct {
	panel   int
	width   int
	height  int
	loading bool
	err     error

	all      []provider.ModelInfo
	filtered []provider.ModelInfo
	filter   string
	cursor   int
}

func newPickerState(panel, width, height int) *pickerState {
	return &pickerState{panel: panel, width: width, height: height, loading: true}
}

func (p *pickerState) setModels(models []provider.ModelInfo) {
	p.loading = false
	p.all = models
	sort.Slice(p.all, func(i, j int) bool { return p.all[i].ID < p.all[j].ID })
	p.applyFilter()
}

func (p *pickerState) applyFilter() {
	needle := strings.ToLower(p.filter)
	p.filtered = p.filtered[:0]
	for _, m := range p.all {
		if needle == "" || strings.Contains(strings.ToLower(m.ID), needle) ||
			strings.Contains(strings.ToLower(m.Name), needle) {
			p.filtered = append(p.filtered, m)
		}
	}
	if p.cursor >= len(p.filtered) {
		p.cursor = 0
	}
}

func (p *pickerState) selected() *provider.ModelInfo {
	if p.cursor < 0 || p.cursor >= len(p.filtered) {
		return nil
	}
	return &p.filtered[p.cursor]
}

func (m App) updatePicker(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case modelsLoadedMsg:
		if msg.err != nil {
			m.picker.loading = false
			m.picker.err = msg.err
			return m, nil
		}
		m.picker.setModels(msg.models)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.picker.width = msg.Width
		m.picker.height = msg.Height
		m.layout()
		return m, nil

	case tea.KeyMsg:
		p := m.picker
		switch msg.String() {
		case "esc", "ctrl+c":
			m.mode = viewChat
			m.picker = nil
			return m, nil

		case "enter":
			if sel := p.selected(); sel != nil {
				m.orch.SetPanelModel(p.panel, sel.ID)
				m.status = fmt.Sprintf("panel %d: %s", p.panel+1, sel.ID)
			}
			m.mode = viewChat
			m.picker = nil
			m.refreshPanes()
			return m, nil

		case "up", "ctrl+p":
			if p.cursor > 0 {
				p.cursor--
			}
			return m, nil

		case "down", "ctrl+n":
			if p.cursor < len(p.filtered)-1 {
				p.cursor++
			}
			return m, nil

		case "backspace":
			if p.filter != "" {
				p.filter = p.filter[:len(p.filter)-1]
				p.applyFilter()
			}
			return m, nil

		default:
			// Printable runes extend the filter.
			if msg.Type == tea.KeyRunes {
				p.filter += string(msg.Runes)
				p.applyFilter()
			}
			return m, nil
		}
	}
	return m, nil
}

func (p *pickerState) render(spin spinner.Model) string {
	header := titleStyle.Render(fmt.Sprintf(" Pick model for panel %d ", p.panel+1))
	filterLine := dimStyle.Render("filter: ") + p.filter + "▌"

	var body string
	switch {
	case p.loading:
		body = spin.View() + " loading models..."
	case p.err != nil:
		body = errorStyle.Render("failed to load models: " + p.err.Error())
	case len(p.filtered) == 0:
		body = dimStyle.Render("no models match")
	default:
		body = p.renderList()
	}

	help := dimStyle.Render("enter:select  esc:cancel  type to filter")
	return lipgloss.JoinVertical(lipgloss.Left, header, filterLine, "", body, "", help)
}

func (p *pickerState) renderList() string {
	visible := p.height - 8
	if visible < 3 {
		visible = 3
	}
	start := 0
	if p.cursor >= visible {
		start = p.cursor - visible + 1
	}
	end := start + visible
	if end > len(p.filtered) {
		end = len(p.filtered)
	}

	var sb strings.Builder
	for i := start; i < end; i++ {
		m := p.filtered[i]
		line := util.TruncateWidth(m.ID, p.width-20)
		if m.IsFree() {
			line += " " + headerFreeStyle.Render("free")
		}
		if i == p.cursor {
			line = selectedItemStyle.Render("> " + line)
		} else {
			line = "  " + line
		}
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	if end < len(p.filtered) {
		sb.WriteString(dimStyle.Render(fmt.Sprintf("  ... %d more", len(p.filtered)-end)))
	}
	return sb.String()
}
