package session

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestNextHappyPath(t *testing.T) {
	c := qt.New(t)
	state := StateIdle
	for _, step := range []struct {
		event EventType
		want  State
	}{
		{EventStart, StateParsingDocument},
		{EventDocumentParsed, StateFetchingRemoteData},
		{EventRemoteDataFetched, StateValidatingDocument},
		{EventDocumentValidated, StateEstablishingSecureChannel},
		{EventPeerConnected, StateAwaitingRemoteReadiness},
		{EventSessionAccepted, StateReadyToProve},
		{EventProofGenerationStarted, StateProving},
		{EventProofGenerated, StatePostProving},
		{EventProofVerified, StateCompleted},
	} {
		next, ok := Next(state, step.event)
		c.Assert(ok, qt.IsTrue, qt.Commentf("event %s from %s", step.event, state))
		c.Assert(next, qt.Equals, step.want)
		state = next
	}
	c.Assert(state.Terminal(), qt.IsTrue)
}

func TestNextFailureFromAnyNonTerminal(t *testing.T) {
	c := qt.New(t)
	nonTerminal := []State{
		StateIdle, StateParsingDocument, StateFetchingRemoteData,
		StateValidatingDocument, StateEstablishingSecureChannel,
		StateAwaitingRemoteReadiness, StateReadyToProve, StateProving,
		StatePostProving,
	}
	for _, s := range nonTerminal {
		next, ok := Next(s, EventProofGenerationFailed)
		c.Assert(ok, qt.IsTrue, qt.Commentf("state %s", s))
		c.Assert(next, qt.Equals, StateFailure)
	}
}

func TestNextDiscardsOutOfOrderEvents(t *testing.T) {
	c := qt.New(t)
	// A proofVerified before postProving is discarded.
	_, ok := Next(StateProving, EventProofVerified)
	c.Assert(ok, qt.IsFalse)
	// The prover can start without an explicit acceptance.
	next, ok := Next(StateAwaitingRemoteReadiness, EventProofGenerationStarted)
	c.Assert(ok, qt.IsTrue)
	c.Assert(next, qt.Equals, StateProving)
	// Auto-confirmation only applies to readyToProve.
	_, ok = Next(StateProving, EventAutoConfirm)
	c.Assert(ok, qt.IsFalse)
}

func TestNextTerminalIsSink(t *testing.T) {
	c := qt.New(t)
	terminals := []State{
		StateCompleted, StateFailure, StateCancelled,
		StatePassportNotSupported, StateAccountRecoveryChoice, StateDocumentDataNotFound,
	}
	events := []EventType{
		EventStart, EventPeerConnected, EventSessionAccepted,
		EventProofGenerationStarted, EventProofGenerated,
		EventProofGenerationFailed, EventProofVerified, EventAutoConfirm,
	}
	for _, s := range terminals {
		for _, e := range events {
			next, ok := Next(s, e)
			c.Assert(ok, qt.IsFalse, qt.Commentf("state %s event %s", s, e))
			c.Assert(next, qt.Equals, s)
		}
	}
}
