// README: Trip lifecycle statuses, transition table and transition errors.
package trip

import (
	"errors"
	"fmt"

	"tricykol/internal/modules/settlement"
)

type Status string

const (
	StatusAccepted   Status = "accepted"
	StatusOnTheWay   Status = "on_the_way"
	StatusArrived    Status = "arrived"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// AllowedTransitions is the strictly forward trip lifecycle.
var AllowedTransitions = map[Status][]Status{
	StatusAccepted:   {StatusOnTheWay},
	StatusOnTheWay:   {StatusArrived},
	StatusArrived:    {StatusInProgress},
	StatusInProgress: {StatusCompleted},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

func (s Status) Valid() bool {
	switch s {
	case StatusAccepted, StatusOnTheWay, StatusArrived, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

var (
	ErrInvalidTransition    = errors.New("invalid trip transition")
	ErrOutOfProximity       = errors.New("too far from target")
	ErrConcurrentTransition = errors.New("another transition is in progress")
	ErrRemoteWriteFailed    = errors.New("remote write failed")
	ErrNoActiveTrip         = errors.New("no active trip")
	ErrConflict             = errors.New("trip status changed remotely")
)

// OutOfProximityError reports how far the driver is from the pickup or
// dropoff point.
type OutOfProximityError struct {
	Target         string
	DistanceMeters float64
	RadiusMeters   float64
}

func (e *OutOfProximityError) Error() string {
	return fmt.Sprintf("%.0fm from %s, must be within %.0fm", e.DistanceMeters, e.Target, e.RadiusMeters)
}

func (e *OutOfProximityError) Is(target error) bool {
	return target == ErrOutOfProximity
}

func (e *OutOfProximityError) Gap() float64 {
	return e.DistanceMeters - e.RadiusMeters
}

type Result struct {
	From    Status              `json:"from"`
	To      Status              `json:"to"`
	Noop    bool                `json:"noop"`
	Receipt *settlement.Receipt `json:"receipt,omitempty"`
	// AlreadySettled is set when completion found the trip closed by an
	// earlier settlement. There is no receipt in that case.
	AlreadySettled bool `json:"alreadySettled,omitempty"`
}

const (
	targetPickup  = "pickup"
	targetDropoff = "dropoff"
)

// proximityState de-duplicates proximity notices: a notice is only
// published when the target or the inside/outside verdict changes.
type proximityState struct {
	set            bool
	target         string
	within         bool
	distanceMeters float64
}

func (s *proximityState) update(target string, within bool, distance float64) bool {
	changed := !s.set || s.target != target || s.within != within
	s.set = true
	s.target = target
	s.within = within
	s.distanceMeters = distance
	return changed
}

func (s *proximityState) reset() {
	*s = proximityState{}
}
