package domain

import (
	"errors"
	"fmt"
)

// Failure reasons recorded on fingerprints so later runs retry the right stage.
const (
	ReasonSynthesisError = "synthesis_error"
	ReasonPublishError   = "publish_error"
)

// ErrInvalidTransition guards against state regressions and stage skips in
// the fingerprint store. It indicates a programming or state-corruption bug,
// not an operational failure.
var ErrInvalidTransition = errors.New("invalid fingerprint state transition")

// FetchError means the news source was unreachable or rate-limited. It aborts
// the run before any state mutation; the next run retries from scratch.
type FetchError struct {
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch news: %v", e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// SynthesisError is a per-group generation failure. Only the affected group's
// fingerprints are marked failed.
type SynthesisError struct {
	Reason string
	Err    error
}

func (e *SynthesisError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("synthesize article: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("synthesize article: %s", e.Reason)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// PublicationError is a per-target publish failure. It is recorded and never
// blocks sibling targets.
type PublicationError struct {
	Target string
	Reason string
	Err    error
}

func (e *PublicationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("publish to %s: %s: %v", e.Target, e.Reason, e.Err)
	}
	return fmt.Sprintf("publish to %s: %s", e.Target, e.Reason)
}

func (e *PublicationError) Unwrap() error { return e.Err }
