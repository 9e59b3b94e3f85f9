package pump

import (
	"context"
	"time"
)

// State is the last applied configuration of a pump, merged from every
// acknowledged command.
type State struct {
	PumpID    int       `json:"pump_id"`
	Enable    bool      `json:"enable"`
	Direction bool      `json:"direction"`
	RPM       int       `json:"rpm"`
	Microstep int       `json:"microstep"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Apply returns s with the present fields of cmd applied.
func (s State) Apply(cmd Command, at time.Time) State {
	s.PumpID = cmd.PumpID
	if cmd.Enable != nil {
		s.Enable = *cmd.Enable
	}
	if cmd.Direction != nil {
		s.Direction = *cmd.Direction
	}
	if cmd.RPM != nil {
		s.RPM = *cmd.RPM
	}
	if cmd.Microstep != nil {
		s.Microstep = *cmd.Microstep
	}
	s.UpdatedAt = at
	return s
}

// StateStore keeps the latest State per pump. Load returns
// errors.ErrKeyNotFound for a pump that has never been acknowledged.
type StateStore interface {
	Load(ctx context.Context, id int) (State, error)
	Save(ctx context.Context, state State) error
}
