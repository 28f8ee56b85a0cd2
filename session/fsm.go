package session

// Next is the pure transition function of the session state machine. It
// returns the state reached from s on event e, and false when no transition
// exists, in which case the event must be discarded. Events on a terminal
// state never transition.
func Next(s State, e EventType) (State, bool) {
	if s.Terminal() {
		return s, false
	}
	if e == EventProofGenerationFailed {
		return StateFailure, true
	}
	switch s {
	case StateIdle:
		if e == EventStart {
			return StateParsingDocument, true
		}
	case StateParsingDocument:
		if e == EventDocumentParsed {
			return StateFetchingRemoteData, true
		}
	case StateFetchingRemoteData:
		if e == EventRemoteDataFetched {
			return StateValidatingDocument, true
		}
	case StateValidatingDocument:
		if e == EventDocumentValidated {
			return StateEstablishingSecureChannel, true
		}
	case StateEstablishingSecureChannel:
		if e == EventPeerConnected {
			return StateAwaitingRemoteReadiness, true
		}
	case StateAwaitingRemoteReadiness:
		switch e {
		case EventSessionAccepted:
			return StateReadyToProve, true
		case EventProofGenerationStarted:
			// A prover that starts without an explicit acceptance
			// confirms readiness implicitly.
			return StateProving, true
		}
	case StateReadyToProve:
		switch e {
		case EventProofGenerationStarted, EventAutoConfirm:
			return StateProving, true
		}
	case StateProving:
		if e == EventProofGenerated {
			return StatePostProving, true
		}
	case StatePostProving:
		if e == EventProofVerified {
			return StateCompleted, true
		}
	}
	return s, false
}
