package store

import (
	"encoding/json"
	"fmt"

	"runbot/internal/model"
)

// Store is the run repository: create/get/update/list keyed by run id.
// Last-writer-wins per run id; no cross-run transactions. Get reports absence
// through the bool, not an error.
type Store interface {
	Create(run model.RunSession) (model.RunSession, error)
	Get(runID string) (model.RunSession, bool, error)
	Update(run model.RunSession) (model.RunSession, error)
	List() ([]model.RunSession, error)
}

// cloneRun deep-copies a run through its JSON form so callers never share
// slices with the store.
func cloneRun(run model.RunSession) (model.RunSession, error) {
	raw, err := json.Marshal(run)
	if err != nil {
		return model.RunSession{}, fmt.Errorf("marshal run %s: %w", run.ID, err)
	}
	var out model.RunSession
	if err := json.Unmarshal(raw, &out); err != nil {
		return model.RunSession{}, fmt.Errorf("unmarshal run %s: %w", run.ID, err)
	}
	return out, nil
}
