// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import (
	"github.com/dotnetfactory/model-faceoff/internal/model"
)

// replayHistories rebuilds per-panel message histories from persisted
// messages by positional join: the i-th user turn pairs with each panel's
// i-th assistant reply. A panel with fewer replies than user turns (a
// failed exchange) simply gets no assistant entry for that turn.
//
// The join assumes reply order tracks turn order per panel. That holds as
// long as the dispatch set stayed stable across turns; it is best-effort,
// not a guaranteed-correct reconstruction.
func replayHistories(msgs []*model.Message, panelCount int) [][]model.ChatMessage {
	var userTurns []string
	replies := make([][]string, panelCount)

	for _, msg := range msgs {
		switch msg.Role {
		case model.RoleUser:
			userTurns = append(userTurns, msg.Content)
		case model.RoleAssistant:
			if msg.PanelIndex == nil {
				continue
			}
			idx := *msg.PanelIndex
			if idx < 0 || idx >= panelCount {
				continue
			}
			replies[idx] = append(replies[idx], msg.Content)
		}
	}

	histories := make([][]model.ChatMessage, panelCount)
	for p := 0; p < panelCount; p++ {
		var history []model.ChatMessage
		for i, turn := range userTurns {
			history = append(history, model.NewUserMessage(turn))
			if i < len(replies[p]) {
				history = append(history, model.NewAssistantMessage(replies[p][i]))
			}
		}
		histories[p] = history
	}
	return histories
}
