// Package ipc implements the binary-payload publisher onto the shared
// transport (spec C5) and the in-process order recovery buffer that rides
// alongside it.
package ipc

import "errors"

// Outcome mirrors the venue-agnostic result of an offer attempt, matching
// the original AeronPublisher::publish / Aeron Publication::offer result
// vocabulary (spec §4.4, §6).
type Outcome int

const (
	// OutcomeSuccess means the payload was accepted by the transport.
	OutcomeSuccess Outcome = iota
	// OutcomeBackPressured means the downstream subscriber has not caught
	// up; the publisher retries a bounded number of times.
	OutcomeBackPressured
	// OutcomeNotConnected means no subscriber is currently attached; also
	// retried a bounded number of times.
	OutcomeNotConnected
	// OutcomeFailure is any other non-success outcome; not retried, only
	// counted.
	OutcomeFailure
)

// Transport is the minimal contract the publisher requires of the
// shared-memory media driver: connect, offer a payload, and report
// connectivity. It deliberately says nothing about how the bytes travel,
// matching spec §9's instruction to model the singleton media driver as an
// owned handle rather than mutable global state.
type Transport interface {
	// Connect establishes the publication, retrying internally up to the
	// transport's own bound. It returns an error only on unrecoverable
	// failure to connect at all.
	Connect() error
	// Offer attempts to append payload atomically, returning the outcome
	// of a single attempt (no retry inside Offer itself — retries are the
	// Publisher's responsibility).
	Offer(payload []byte) Outcome
	// Connected reports current connectivity.
	Connected() bool
	// Close releases the transport's resources.
	Close() error
}

// ErrConnectTimedOut is returned by a Transport.Connect implementation when
// the bounded wait for publication availability expires.
var ErrConnectTimedOut = errors.New("ipc: transport connect timed out")
