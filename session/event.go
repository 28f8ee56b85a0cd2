package session

import "go.veridoc.io/veridoc/types"

// EventType identifies a session event. Local pipeline events are produced
// by the session itself; the rest arrive over the relay channel.
type EventType string

const (
	// Local pipeline events.
	EventStart             EventType = "start"
	EventDocumentParsed    EventType = "documentParsed"
	EventRemoteDataFetched EventType = "remoteDataFetched"
	EventDocumentValidated EventType = "documentValidated"
	// EventAutoConfirm is produced by the readyToProve grace timer.
	EventAutoConfirm EventType = "autoConfirm"

	// Relay events.
	EventPeerConnected          EventType = "peerConnected"
	EventSessionAccepted        EventType = "sessionAccepted"
	EventProofGenerationStarted EventType = "proofGenerationStarted"
	EventProofGenerated         EventType = "proofGenerated"
	EventProofGenerationFailed  EventType = "proofGenerationFailed"
	EventProofVerified          EventType = "proofVerified"
)

// Event is a single relay or local message. ErrorCode and Reason are only
// set on proofGenerationFailed and are surfaced to the caller verbatim.
type Event struct {
	Type      EventType `json:"type"`
	ErrorCode string    `json:"error_code,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// Descriptor is the message sent to the remote prover once a peer connects.
// It carries everything the proving circuit needs besides the witness held
// remotely.
type Descriptor struct {
	Type           string            `json:"type"`
	SessionID      string            `json:"sessionId"`
	Circuit        string            `json:"circuit"`
	Commitment     types.HexBytes    `json:"commitment"`
	Nullifier      types.HexBytes    `json:"nullifier"`
	Root           types.HexBytes    `json:"root"`
	AuthorityProof types.HexBytes    `json:"authorityProof,omitempty"`
	Disclosed      map[string]string `json:"disclosed,omitempty"`
}
