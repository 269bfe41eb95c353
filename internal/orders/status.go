package orders

import "sort"

type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
	StatusRefunded  Status = "refunded"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// HoldsStock reports whether an order in this status has stock reserved.
func (s Status) HoldsStock() bool {
	return s == StatusPending || s == StatusPaid
}

type Action string

const (
	ActionPay    Action = "pay"
	ActionCancel Action = "cancel"
	ActionRefund Action = "refund"
	ActionReopen Action = "reopen"
)

// Effect is the ledger work a transition requires.
type Effect int

const (
	EffectNone Effect = iota
	EffectReserve
	EffectRelease
)

func (e Effect) String() string {
	switch e {
	case EffectReserve:
		return "reserve"
	case EffectRelease:
		return "release"
	}
	return "none"
}

// actionTarget is the status every action leads to, whatever the source.
var actionTarget = map[Action]Status{
	ActionPay:    StatusPaid,
	ActionCancel: StatusCancelled,
	ActionRefund: StatusRefunded,
	ActionReopen: StatusPending,
}

type edge struct {
	to     Status
	effect Effect
}

// validNext is the only transition table in the system. Callers that need to
// know what is possible ask AllowedActions instead of keeping a copy.
var validNext = map[Status]map[Action]edge{
	StatusPending: {
		ActionPay:    {StatusPaid, EffectNone},
		ActionCancel: {StatusCancelled, EffectRelease},
	},
	StatusPaid: {
		ActionRefund: {StatusRefunded, EffectRelease},
	},
	StatusCancelled: {
		ActionReopen: {StatusPending, EffectReserve},
	},
	StatusRefunded: {
		ActionReopen: {StatusPending, EffectReserve},
	},
}

func ParseAction(s string) (Action, error) {
	a := Action(s)
	if _, ok := actionTarget[a]; !ok {
		return "", ErrUnknownAction
	}
	return a, nil
}

// Next validates action against the current status and returns the target status
// together with the ledger effect.
func Next(from Status, a Action) (Status, Effect, error) {
	to, ok := actionTarget[a]
	if !ok {
		return "", EffectNone, ErrUnknownAction
	}
	e, ok := validNext[from][a]
	if !ok {
		return "", EffectNone, &IllegalTransitionError{From: from, To: to}
	}
	return e.to, e.effect, nil
}

func CanTransition(from, to Status) bool {
	for _, e := range validNext[from] {
		if e.to == to {
			return true
		}
	}
	return false
}

// AllowedActions lists the actions legal from s, sorted for stable output.
func AllowedActions(s Status) []Action {
	out := make([]Action, 0, len(validNext[s]))
	for a := range validNext[s] {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
