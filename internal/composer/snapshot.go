package composer

import (
	"github.com/mohamedkhairy/vpa-engine/internal/models"
)

// State is the serializable snapshot of the live instance pool, used by
// the checkpoint store to resume a run without replaying history.
type State struct {
	Instances []Instance `json:"instances"`
}

// Snapshot captures the live pool in definition order.
func (c *Composer) Snapshot() State {
	return State{Instances: c.Live()}
}

// Restore replaces the live pool with the snapshot's instances. Terminal
// instances in the snapshot are ignored; unknown setup ids are dropped.
func (c *Composer) Restore(s State) {
	c.live = make(map[models.SetupID]*Instance, len(s.Instances))
	for i := range s.Instances {
		inst := s.Instances[i]
		if inst.State.Terminal() {
			continue
		}
		if !c.knownSetup(inst.Setup) {
			continue
		}
		c.live[inst.Setup] = &inst
	}
}

func (c *Composer) knownSetup(id models.SetupID) bool {
	for i := range c.defs {
		if c.defs[i].ID == id {
			return true
		}
	}
	return false
}
