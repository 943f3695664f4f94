package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"finsight/internal/logging"
	"finsight/internal/types"
)

// SaveSession checkpoints conversation state under its thread id.
func (s *Store) SaveSession(threadID string, state *types.ConversationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("serialize session %s: %w", threadID, err)
	}

	_, err = s.db.Exec(`
		INSERT INTO session_state (thread_id, state, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(thread_id) DO UPDATE SET
			state = excluded.state,
			updated_at = CURRENT_TIMESTAMP`,
		threadID, string(data))
	if err != nil {
		return fmt.Errorf("save session %s: %w", threadID, err)
	}

	logging.Session("Checkpointed thread %s (%d bytes)", threadID, len(data))
	return nil
}

// LoadSession restores conversation state for a thread id. Returns
// (nil, nil) when no checkpoint exists.
func (s *Store) LoadSession(threadID string) (*types.ConversationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var data string
	err := s.db.QueryRow("SELECT state FROM session_state WHERE thread_id = ?", threadID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", threadID, err)
	}

	var state types.ConversationState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, fmt.Errorf("parse session %s: %w", threadID, err)
	}

	logging.Session("Restored thread %s (%d turns)", threadID, len(state.Turns))
	return &state, nil
}
