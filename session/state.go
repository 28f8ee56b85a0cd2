package session

// State is the proving session state.
type State string

const (
	StateIdle                      State = "idle"
	StateParsingDocument           State = "parsingDocument"
	StateFetchingRemoteData        State = "fetchingRemoteData"
	StateValidatingDocument        State = "validatingDocument"
	StateEstablishingSecureChannel State = "establishingSecureChannel"
	StateAwaitingRemoteReadiness   State = "awaitingRemoteReadiness"
	StateReadyToProve              State = "readyToProve"
	StateProving                   State = "proving"
	StatePostProving               State = "postProving"

	// Terminal states.
	StateCompleted State = "completed"
	StateFailure   State = "failure"
	StateCancelled State = "cancelled"

	// Soft stops: the session ends early without a remote error, the
	// caller has to take a different path.
	StatePassportNotSupported   State = "passportNotSupported"
	StateAccountRecoveryChoice  State = "accountRecoveryChoice"
	StateDocumentDataNotFound   State = "documentDataNotFound"
)

// Terminal reports whether no further transition can leave s.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailure, StateCancelled,
		StatePassportNotSupported, StateAccountRecoveryChoice, StateDocumentDataNotFound:
		return true
	}
	return false
}
