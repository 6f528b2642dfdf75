package core

import "time"

// OCOState is the lifecycle stage of a pending-order pair
type OCOState string

const (
	OCOActive    OCOState = "ACTIVE"
	OCOTriggered OCOState = "TRIGGERED"
	OCOCancelled OCOState = "CANCELLED"
	OCOFailed    OCOState = "FAILED"
)

// Terminal reports whether the state ends monitoring
func (s OCOState) Terminal() bool {
	return s != OCOActive
}

// OCOPair links two pending orders so that the fill of one cancels the
// other. Pairs are persisted at arming and on every state change.
type OCOPair struct {
	GroupID      string   `json:"group_id"`
	Symbol       string   `json:"symbol"`
	OrderATicket int64    `json:"order_a_ticket"`
	OrderBTicket int64    `json:"order_b_ticket"`
	SideA        Side     `json:"side_a"`
	SideB        Side     `json:"side_b"`
	State        OCOState `json:"state"`
	// FilledTicket records which leg became a position on TRIGGERED.
	FilledTicket   int64     `json:"filled_ticket,omitempty"`
	CancelAttempts int       `json:"cancel_attempts,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// OtherLeg returns the ticket paired with the given one
func (p *OCOPair) OtherLeg(ticket int64) int64 {
	if ticket == p.OrderATicket {
		return p.OrderBTicket
	}
	return p.OrderATicket
}

// HasLeg reports whether the ticket belongs to this pair
func (p *OCOPair) HasLeg(ticket int64) bool {
	return ticket == p.OrderATicket || ticket == p.OrderBTicket
}
