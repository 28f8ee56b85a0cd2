// Package session implements the proving session protocol: a per-session
// state machine driven by local validation results and by relay events from
// the remote prover and verifier.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.veridoc.io/veridoc/committree"
	"go.veridoc.io/veridoc/crypto/docsig"
	"go.veridoc.io/veridoc/crypto/identity"
	"go.veridoc.io/veridoc/docstore"
	"go.veridoc.io/veridoc/document"
	"go.veridoc.io/veridoc/log"
	"go.veridoc.io/veridoc/types"
	"go.vocdoni.io/dvote/db"
)

// ErrSessionActive is returned when starting a session while another one is
// still in a non-terminal state.
var ErrSessionActive = fmt.Errorf("a proving session is already active")

// Circuits a session can run.
const (
	CircuitRegister = "register"
	CircuitDisclose = "disclose"
)

// defaultConfirmGrace is the readyToProve auto-confirmation delay.
const defaultConfirmGrace = 1500 * time.Millisecond

// RemoteSource is the slice of the registry API a session needs. It is
// satisfied by registry.Client.
type RemoteSource interface {
	CommitmentTree(ctx context.Context, category types.DocumentCategory,
		env types.Environment) (*committree.Dump, error)
	AlternativeAuthorities(ctx context.Context, category types.DocumentCategory,
		env types.Environment) (*committree.AuthoritySet, error)
	PublicKeySet(ctx context.Context, env types.Environment) (*committree.PublicKeySet, error)
}

// Config wires a Manager to its collaborators.
type Config struct {
	Store   *docstore.Store
	Remote  RemoteSource
	Secrets identity.SecretSource
	Roots   []docsig.Authority
	TreeDB  db.Database
	Dial    RelayDialer
	// ConfirmGrace overrides the readyToProve auto-confirmation delay.
	ConfirmGrace time.Duration
}

// StartRequest describes the session to run.
type StartRequest struct {
	DocumentID types.HexBytes
	Circuit    string
	// Disclose lists the identity fields to reveal to the verifier.
	Disclose []string
	// OnTerminal is invoked exactly once when the session reaches a
	// terminal state.
	OnTerminal func(*Session)
}

// Manager runs proving sessions, at most one non-terminal at a time.
type Manager struct {
	cfg Config

	mu     sync.Mutex
	active *Session
}

// NewManager creates a Manager from cfg.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Store == nil || cfg.Remote == nil || cfg.Secrets == nil ||
		cfg.TreeDB == nil || cfg.Dial == nil {
		return nil, fmt.Errorf("session: store, remote, secrets, treeDB and dial are required")
	}
	if cfg.ConfirmGrace <= 0 {
		cfg.ConfirmGrace = defaultConfirmGrace
	}
	return &Manager{cfg: cfg}, nil
}

// Start begins a new session. While a previous session is still in a
// non-terminal state it returns ErrSessionActive; the caller must Cancel the
// prior session explicitly to replace it.
func (m *Manager) Start(ctx context.Context, req StartRequest) (*Session, error) {
	if len(req.DocumentID) == 0 {
		return nil, fmt.Errorf("missing document id")
	}
	if req.Circuit == "" {
		req.Circuit = CircuitDisclose
	}
	if req.Circuit != CircuitRegister && req.Circuit != CircuitDisclose {
		return nil, fmt.Errorf("unknown circuit %q", req.Circuit)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil && !m.active.State().Terminal() {
		return nil, ErrSessionActive
	}
	runCtx, cancel := context.WithCancel(ctx)
	s := &Session{
		ID:         uuid.New(),
		DocumentID: req.DocumentID,
		Circuit:    req.Circuit,
		state:      StateIdle,
		cancelRun:  cancel,
		onTerminal: req.OnTerminal,
		done:       make(chan struct{}),
	}
	m.active = s
	log.Infow("starting proving session", "sessionId", s.ID.String(),
		"documentId", req.DocumentID.String(), "circuit", req.Circuit)
	go s.run(runCtx, m.cfg, req.Disclose)
	return s, nil
}

// Active returns the session last started, terminal or not, or nil.
func (m *Manager) Active() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Get returns the session with the given ID, or nil.
func (m *Manager) Get(id uuid.UUID) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil && m.active.ID == id {
		return m.active
	}
	return nil
}

// Session is a single proving session.
type Session struct {
	ID         uuid.UUID
	DocumentID types.HexBytes
	Circuit    string

	mu sync.Mutex
	// generation increments on every transition so stale timers can
	// detect that the state they armed on has moved.
	generation uint64
	state      State
	errorCode  string
	reason     string

	terminalOnce sync.Once
	onTerminal   func(*Session)
	cancelRun    context.CancelFunc
	done         chan struct{}
}

// Status is a point-in-time session snapshot.
type Status struct {
	ID         string         `json:"sessionId"`
	DocumentID types.HexBytes `json:"documentId"`
	Circuit    string         `json:"circuit"`
	State      State          `json:"state"`
	ErrorCode  string         `json:"error_code,omitempty"`
	Reason     string         `json:"reason,omitempty"`
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		ID:         s.ID.String(),
		DocumentID: s.DocumentID,
		Circuit:    s.Circuit,
		State:      s.state,
		ErrorCode:  s.errorCode,
		Reason:     s.reason,
	}
}

// Done is closed when the session goroutine has finished.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Cancel moves the session to cancelled and tears down the relay channel.
// Cancelling a terminal session is a no-op.
func (s *Session) Cancel() {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.state = StateCancelled
	s.generation++
	s.mu.Unlock()
	log.Infow("session cancelled", "sessionId", s.ID.String())
	s.cancelRun()
	s.fireTerminal()
}

// run executes the local pipeline and then the relay event loop. Validation
// and key derivation happen here, never on the relay read loop.
func (s *Session) run(ctx context.Context, cfg Config, disclose []string) {
	defer close(s.done)

	if !s.apply(EventStart) {
		return
	}
	env, err := cfg.Store.LoadEnvelope(s.DocumentID)
	if errors.Is(err, docstore.ErrNotFound) {
		s.softStop(StateDocumentDataNotFound)
		return
	}
	if err != nil {
		s.fail("document_load_failed", err)
		return
	}
	if err := env.Validate(); err != nil {
		s.fail("malformed_document", err)
		return
	}
	ident, err := env.Identity()
	if err != nil {
		s.fail("malformed_document", err)
		return
	}
	if !s.apply(EventDocumentParsed) {
		return
	}

	environment := types.EnvironmentFor(env.Synthetic)
	dump, err := cfg.Remote.CommitmentTree(ctx, env.Category, environment)
	if err != nil {
		s.fail("registry_unreachable", err)
		return
	}
	var alts *committree.AuthoritySet
	var keys *committree.PublicKeySet
	if env.Category.IsMRZ() {
		if alts, err = cfg.Remote.AlternativeAuthorities(ctx, env.Category, environment); err != nil {
			s.fail("registry_unreachable", err)
			return
		}
	} else {
		if keys, err = cfg.Remote.PublicKeySet(ctx, environment); err != nil {
			s.fail("registry_unreachable", err)
			return
		}
	}
	tree, err := committree.FromDump(cfg.TreeDB, dump)
	if err != nil {
		s.fail("commitment_tree_invalid", err)
		return
	}
	if !s.apply(EventRemoteDataFetched) {
		return
	}

	if _, err := docsig.Verify(env, committree.Anchors(cfg.Roots, alts, keys)); err != nil {
		if errors.Is(err, docsig.ErrUnsupportedAlgorithm) ||
			errors.Is(err, document.ErrDigestUnsupported) {
			s.softStop(StatePassportNotSupported)
			return
		}
		s.fail("document_invalid", err)
		return
	}
	secret, err := cfg.Secrets.Secret(ctx)
	if err != nil {
		s.fail("secret_unavailable", err)
		return
	}
	commitment, err := identity.Commitment(env, secret)
	if err != nil {
		s.fail("derivation_failed", err)
		return
	}
	nullifier, err := identity.Nullifier(env, secret)
	if err != nil {
		s.fail("derivation_failed", err)
		return
	}
	leaf := identity.LeafBytes(commitment)
	member, err := tree.Has(leaf)
	if err != nil {
		s.fail("commitment_tree_invalid", err)
		return
	}
	switch s.Circuit {
	case CircuitRegister:
		// An already registered commitment means the identity exists;
		// the caller must choose between recovery and a fresh secret.
		if member {
			s.softStop(StateAccountRecoveryChoice)
			return
		}
	case CircuitDisclose:
		if !member {
			s.fail("document_not_registered",
				fmt.Errorf("commitment is not in the %s tree", env.Category))
			return
		}
	}
	var authorityProof types.HexBytes
	if member {
		if authorityProof, err = tree.GenProof(leaf); err != nil {
			s.fail("commitment_tree_invalid", err)
			return
		}
	}
	root, err := tree.Root()
	if err != nil {
		s.fail("commitment_tree_invalid", err)
		return
	}
	desc := &Descriptor{
		Type:           "sessionDescriptor",
		SessionID:      s.ID.String(),
		Circuit:        s.Circuit,
		Commitment:     leaf,
		Nullifier:      identity.LeafBytes(nullifier),
		Root:           root,
		AuthorityProof: authorityProof,
		Disclosed:      disclosedFields(ident, disclose),
	}
	if !s.apply(EventDocumentValidated) {
		return
	}

	relay, err := cfg.Dial(ctx, s.ID.String())
	if err != nil {
		s.fail("relay_unreachable", err)
		return
	}
	s.eventLoop(ctx, cfg, relay, desc)
}

// eventLoop consumes relay events until a terminal state. A dropped relay
// connection is redialed once with the same session ID; the state machine
// does not restart.
func (s *Session) eventLoop(ctx context.Context, cfg Config, relay Relay, desc *Descriptor) {
	// After a redial the current relay is not the one the caller dialed, so
	// the release happens here, on whatever connection is live at exit.
	defer func() { relay.Close(nil) }()
	redialed := false
	for {
		select {
		case <-ctx.Done():
			s.softStop(StateCancelled)
			return
		case ev, ok := <-relay.Events():
			if !ok {
				if s.State().Terminal() {
					return
				}
				if redialed {
					s.fail("relay_disconnected", fmt.Errorf("relay connection lost"))
					return
				}
				redialed = true
				log.Warnw("relay dropped, redialing", "sessionId", s.ID.String())
				next, err := cfg.Dial(ctx, s.ID.String())
				if err != nil {
					s.fail("relay_unreachable", err)
					return
				}
				relay.Close(nil)
				relay = next
				continue
			}
			s.handle(ctx, cfg, relay, desc, ev)
		}
		if s.State().Terminal() {
			return
		}
	}
}

// handle applies one relay event through the transition table and performs
// the side effects of the state entered.
func (s *Session) handle(ctx context.Context, cfg Config, relay Relay, desc *Descriptor, ev Event) {
	s.mu.Lock()
	next, ok := Next(s.state, ev.Type)
	if !ok {
		state := s.state
		s.mu.Unlock()
		log.Debugw("discarding relay event", "sessionId", s.ID.String(),
			"state", string(state), "event", string(ev.Type))
		return
	}
	s.state = next
	s.generation++
	gen := s.generation
	if ev.Type == EventProofGenerationFailed {
		s.errorCode = ev.ErrorCode
		s.reason = ev.Reason
	}
	s.mu.Unlock()
	log.Debugw("session transition", "sessionId", s.ID.String(),
		"event", string(ev.Type), "state", string(next))

	switch next {
	case StateAwaitingRemoteReadiness:
		if err := relay.Send(ctx, desc); err != nil {
			s.fail("relay_send_failed", err)
			return
		}
	case StateReadyToProve:
		time.AfterFunc(cfg.ConfirmGrace, func() { s.autoConfirm(gen) })
	}
	if next.Terminal() {
		s.fireTerminal()
	}
}

// autoConfirm advances readyToProve to proving after the grace period. A
// stale timer, armed before a cancellation or an explicit confirmation, finds
// the generation changed and does nothing.
func (s *Session) autoConfirm(gen uint64) {
	s.mu.Lock()
	if s.state != StateReadyToProve || s.generation != gen {
		s.mu.Unlock()
		return
	}
	next, ok := Next(s.state, EventAutoConfirm)
	if !ok {
		s.mu.Unlock()
		return
	}
	s.state = next
	s.generation++
	s.mu.Unlock()
	log.Debugw("auto-confirmed proving", "sessionId", s.ID.String())
}

// apply advances the local pipeline by one event. It returns false when the
// transition is not available anymore, which happens when the session was
// cancelled under the pipeline.
func (s *Session) apply(e EventType) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, ok := Next(s.state, e)
	if !ok {
		return false
	}
	s.state = next
	s.generation++
	return true
}

func (s *Session) fail(code string, err error) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.state = StateFailure
	s.generation++
	s.errorCode = code
	if err != nil {
		s.reason = err.Error()
	}
	reason := s.reason
	s.mu.Unlock()
	log.Warnw("session failed", "sessionId", s.ID.String(), "errorCode", code, "reason", reason)
	s.fireTerminal()
}

func (s *Session) softStop(state State) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.generation++
	s.mu.Unlock()
	log.Infow("session ended early", "sessionId", s.ID.String(), "state", string(state))
	s.fireTerminal()
}

func (s *Session) fireTerminal() {
	s.terminalOnce.Do(func() {
		if s.onTerminal != nil {
			s.onTerminal(s)
		}
	})
}

// disclosedFields picks the requested identity fields by their wire names.
func disclosedFields(ident *document.Identity, names []string) map[string]string {
	if len(names) == 0 {
		return nil
	}
	all := map[string]string{
		"documentNumber": ident.DocumentNumber,
		"nationality":    ident.Nationality,
		"issuingState":   ident.IssuingState,
		"name":           ident.Name,
		"birthDate":      ident.BirthDate,
		"expiryDate":     ident.ExpiryDate,
		"sex":            ident.Sex,
	}
	out := make(map[string]string, len(names))
	for _, n := range names {
		if v, ok := all[n]; ok && v != "" {
			out[n] = v
		}
	}
	return out
}
