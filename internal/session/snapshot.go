package session

import (
	"encoding/json"
)

// Snapshot is the serializable blob produced by Store.Snapshot. Only
// completed stages are captured; an in-flight stage restores as idle
// (spec §4.1). Field order and json tags are fixed so that
// snapshot -> restore -> snapshot round-trips byte-for-byte (spec §8).
type Snapshot struct {
	Session Session               `json:"session"`
	Stages  map[string]StageState `json:"stages"`
}

// Snapshot produces a serializable blob of sessionID's current state.
// In-flight (processing) stages are recorded as idle; everything else
// carries over as-is.
func (s *Store) Snapshot(sessionID string) ([]byte, error) {
	e := s.lockEntry(sessionID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, nil
	}
	snap := Snapshot{
		Session: *e.session.Clone(),
		Stages:  map[string]StageState{},
	}
	if e.run != nil {
		for id, st := range e.run.StageStates {
			if st.Status == StageProcessing {
				snap.Stages[id] = StageState{Status: StageIdle}
				continue
			}
			snap.Stages[id] = *st
		}
	} else {
		for id, st := range e.restoredStages {
			snap.Stages[id] = st
		}
	}
	return json.Marshal(snap)
}

// Restore rebuilds a Session (and a non-current, completed-only Run view)
// from a blob produced by Snapshot. The restored run is not installed as
// the session's active run — restoring resumes identity, not a live
// execution, matching spec §4.1 ("only completed stages are restored").
func Restore(blob []byte) (*Session, map[string]StageState, error) {
	var snap Snapshot
	if err := json.Unmarshal(blob, &snap); err != nil {
		return nil, nil, err
	}
	sess := snap.Session
	return &sess, snap.Stages, nil
}

// RestoreInto installs a restored snapshot into the store as the
// session's resting state (no active run), so a subsequent StartRun
// resumes on top of it.
func (s *Store) RestoreInto(blob []byte) (*Session, error) {
	sess, stages, err := Restore(blob)
	if err != nil {
		return nil, err
	}
	e := s.lockEntry(sess.ID)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.session = sess.Clone()
	if e.session.StageOutputs == nil {
		e.session.StageOutputs = map[string]any{}
	}
	for id, st := range stages {
		if st.Status == StageComplete && st.Data != nil {
			e.session.StageOutputs[id] = st.Data
		}
	}
	e.run = nil
	e.restoredStages = stages
	return e.session.Clone(), nil
}
