package input

import (
	"errors"
	"fmt"

	"github.com/ayusman/kinectkart/internal/pose"
)

// Next computes the input state wanted for the given features and the
// transitions needed to get there from s. Only keys whose state changes
// produce a transition. Releases come before presses on each axis.
//
// A foot height difference of exactly zero leaves the action keys alone.
func Next(s State, f pose.Features) (State, []Transition) {
	var ts []Transition
	set := func(k Key, held bool) {
		if s.Held(k) != held {
			s = s.With(k, held)
			ts = append(ts, Transition{Key: k, Press: held})
		}
	}

	switch {
	case f.LeanAngle > pose.LeanThreshold:
		set(Left, false)
		set(Right, true)
	case f.LeanAngle < -pose.LeanThreshold:
		set(Right, false)
		set(Left, true)
	default:
		set(Left, false)
		set(Right, false)
	}

	switch {
	case f.FootHeightDiff > 0:
		set(A, false)
		set(Z, true)
	case f.FootHeightDiff < 0:
		set(Z, false)
		set(A, true)
	}

	return s, ts
}

// ReleaseAll returns the empty state and releases for every held key.
func ReleaseAll(s State) (State, []Transition) {
	var ts []Transition
	for _, k := range Keys {
		if s.Held(k) {
			ts = append(ts, Release(k))
		}
	}
	return State{}, ts
}

// Injector sends synthetic key events to the OS.
type Injector interface {
	Press(k Key) error
	Release(k Key) error
}

// Apply sends transitions through inj and returns the state that reflects
// what actually reached the OS. A failed transition is skipped along with
// the rest of its axis in this batch, so a failed release never leaves two
// exclusive keys held. Failures are joined into the returned error.
func Apply(inj Injector, s State, ts []Transition) (State, error) {
	var errs []error
	var broken [2]bool

	for _, t := range ts {
		ax := t.Key.axis()
		if broken[ax] {
			continue
		}

		var err error
		if t.Press {
			err = inj.Press(t.Key)
		} else {
			err = inj.Release(t.Key)
		}
		if err != nil {
			broken[ax] = true
			errs = append(errs, fmt.Errorf("%s: %w", t, err))
			continue
		}

		s = s.With(t.Key, t.Press)
	}

	return s, errors.Join(errs...)
}
