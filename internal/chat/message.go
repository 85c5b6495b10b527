package chat

import (
	"strings"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser   Role = "user"
	RoleAI     Role = "ai"
	RoleSystem Role = "system"
)

// Message is one entry of the chat log. ID is stable for the lifetime of
// the message, even when its text is replaced.
type Message struct {
	ID   uuid.UUID `json:"id"`
	Role Role      `json:"role"`
	Text string    `json:"text"`
}

func NewMessage(role Role, text string) Message {
	return Message{ID: uuid.New(), Role: role, Text: text}
}

// window walks the log backwards, skipping system messages, and keeps
// messages until a user message pushes the kept byte count over budget.
// The result is in chronological order.
func window(log []Message, budget int) []Message {
	var kept []Message
	size := 0
	for i := len(log) - 1; i >= 0; i-- {
		m := log[i]
		if m.Role == RoleSystem {
			continue
		}
		kept = append(kept, m)
		size += len(m.Text)
		if m.Role == RoleUser && size > budget {
			break
		}
	}
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return kept
}

// renderPrompt joins the instruction, the examples and the window, one
// prefixed message per line.
func renderPrompt(cfg TurnConfig, kept []Message) string {
	lines := make([]string, 0, len(cfg.Examples)+len(kept))
	for _, group := range [][]Message{cfg.Examples, kept} {
		for _, m := range group {
			switch m.Role {
			case RoleUser:
				lines = append(lines, cfg.UserPrefix+m.Text)
			case RoleAI:
				lines = append(lines, cfg.AIPrefix+m.Text)
			}
		}
	}
	return cfg.Instruction + strings.Join(lines, "\n")
}
