// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/dotnetfactory/model-faceoff/internal/model"
)

// ChunkMsg wraps a stream chunk event as a Bubble Tea message.
type ChunkMsg model.ChunkEvent

// Forward pumps registry events into the program. One goroutine for all
// streams keeps per-stream delivery order intact.
func Forward(p *tea.Program, events <-chan model.ChunkEvent) {
	go func() {
		for ev := range events {
			p.Send(ChunkMsg(ev))
		}
	}()
}
