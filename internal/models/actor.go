package models

import "time"

// Role identifies who is acting on an aggregate.
type Role string

const (
	RoleCustomer Role = "cliente"
	RoleAdmin    Role = "administrador"
	RoleSystem   Role = "sistema"
)

// Actor is the attributable identity behind every transition and movement.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// SystemActor is used by scheduled sweeps and compensations.
var SystemActor = Actor{ID: "system", Role: RoleSystem}

// Event is one entry in an aggregate's append-only history.
type Event struct {
	At      time.Time `json:"at"`
	Type    string    `json:"type"`
	From    string    `json:"from,omitempty"`
	To      string    `json:"to,omitempty"`
	ActorID string    `json:"actor_id,omitempty"`
	Role    Role      `json:"role,omitempty"`
	Note    string    `json:"note,omitempty"`
}

// appendEvent keeps history strictly time-ordered: an event stamped earlier
// than the last recorded one is moved up to the last timestamp.
func appendEvent(history []Event, ev Event) []Event {
	if n := len(history); n > 0 && ev.At.Before(history[n-1].At) {
		ev.At = history[n-1].At
	}
	return append(history, ev)
}
