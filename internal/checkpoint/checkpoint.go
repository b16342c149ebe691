// Package checkpoint persists batch progress so an interrupted run resumes
// without redoing completed units.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/tnroll/voterscan/constants"
)

// State is the durable progress marker for one batch. LastUnit is the highest
// contiguously-completed unit index in the current phase (-1 = none); it only
// increases, and is advanced only after the corresponding output is durable.
type State struct {
	BatchID  uuid.UUID       `json:"batch_id"`
	Phase    constants.Phase `json:"phase"`
	LastUnit int             `json:"last_unit"`
	Elapsed  float64         `json:"elapsed_seconds"` // accumulated across resumes
	SavedAt  time.Time       `json:"saved_at"`
}

// Manager reads and writes one batch's checkpoint file. The file is plain
// JSON so an operator can inspect or overwrite it for a forced reset.
type Manager struct {
	path   string
	logger *slog.Logger
	state  State
}

func NewManager(path string, batchID uuid.UUID, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		path:   path,
		logger: logger,
		state: State{
			BatchID:  batchID,
			Phase:    constants.PhaseSegmenting,
			LastUnit: -1,
		},
	}
}

func (m *Manager) State() State { return m.state }
func (m *Manager) Path() string { return m.path }

// Load reads an existing checkpoint. A missing file returns (false, nil); a
// corrupted file is deleted and treated as absent so the batch starts fresh
// rather than wedging.
func (m *Manager) Load() (bool, error) {
	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read checkpoint: %w", err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		m.logger.Warn("checkpoint corrupted; starting fresh", "path", m.path, "error", err)
		_ = os.Remove(m.path)
		return false, nil
	}
	if st.BatchID != m.state.BatchID {
		m.logger.Warn("checkpoint belongs to another batch; starting fresh",
			"path", m.path, "found", st.BatchID, "want", m.state.BatchID)
		return false, nil
	}

	m.state = st
	m.logger.Info("checkpoint loaded", "phase", st.Phase, "last_unit", st.LastUnit)
	return true, nil
}

// Save writes the checkpoint via a temp file + rename so a crash mid-write
// never leaves a truncated marker.
func (m *Manager) Save() error {
	m.state.SavedAt = time.Now().UTC()
	data, err := json.MarshalIndent(m.state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace checkpoint: %w", err)
	}
	return nil
}

// Advance records completion of unit within phase. Called only after the
// unit's output is durably persisted; a crash between persist and Advance
// reprocesses at most that unit. Regressions are rejected.
func (m *Manager) Advance(phase constants.Phase, unit int) error {
	if phase == m.state.Phase && unit < m.state.LastUnit {
		return fmt.Errorf("checkpoint regression: %s unit %d < %d", phase, unit, m.state.LastUnit)
	}
	if phase != m.state.Phase {
		m.state.Phase = phase
		m.state.LastUnit = -1
	}
	if unit > m.state.LastUnit {
		m.state.LastUnit = unit
	}
	return m.Save()
}

// EnterPhase moves to the next phase with no units completed yet.
func (m *Manager) EnterPhase(phase constants.Phase) error {
	m.state.Phase = phase
	m.state.LastUnit = -1
	return m.Save()
}

// AddElapsed accumulates wall-clock time so the completion notification
// reports total time across resumed sessions.
func (m *Manager) AddElapsed(d time.Duration) {
	m.state.Elapsed += d.Seconds()
}

// Delete removes the checkpoint after a successful finalize.
func (m *Manager) Delete() error {
	err := os.Remove(m.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
