package chat

import (
	"ragcompare/backend/go/internal/apperr"
	"ragcompare/backend/go/internal/models"
)

// Memory is the ordered log of a session's conversation turns, oldest first.
// It is not safe for concurrent use; Engine serializes access to it.
type Memory struct {
	turns []models.Turn
}

// NewMemory returns an empty Memory.
func NewMemory() *Memory {
	return &Memory{}
}

// Append adds a turn at the end of the log.
func (m *Memory) Append(role models.SpeakerRole, text string) error {
	if !role.Valid() {
		return apperr.New(apperr.KindInput, "unknown speaker role %q", role)
	}
	m.turns = append(m.turns, models.Turn{Role: role, Text: text})
	return nil
}

// Turns returns a copy of every turn in insertion order.
func (m *Memory) Turns() []models.Turn {
	out := make([]models.Turn, len(m.turns))
	copy(out, m.turns)
	return out
}

// Last returns a copy of the n most recent turns, oldest first.
func (m *Memory) Last(n int) []models.Turn {
	if n <= 0 {
		return nil
	}
	start := max(len(m.turns)-n, 0)
	out := make([]models.Turn, len(m.turns)-start)
	copy(out, m.turns[start:])
	return out
}

// Clear drops every turn.
func (m *Memory) Clear() {
	m.turns = nil
}

// Len returns the number of turns.
func (m *Memory) Len() int {
	return len(m.turns)
}
