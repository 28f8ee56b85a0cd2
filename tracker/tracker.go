// Package tracker keeps the registration state of every stored document in
// sync with the remote commitment trees. A refresh walks the document store,
// re-validates each envelope against the current trust anchors and checks the
// derived commitment for membership in the category tree.
package tracker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.veridoc.io/veridoc/committree"
	"go.veridoc.io/veridoc/crypto/docsig"
	"go.veridoc.io/veridoc/crypto/identity"
	"go.veridoc.io/veridoc/docstore"
	"go.veridoc.io/veridoc/document"
	"go.veridoc.io/veridoc/log"
	"go.veridoc.io/veridoc/types"
	"go.vocdoni.io/dvote/db"
)

// Status is the per-document refresh state.
type Status string

const (
	StatusUnchecked    Status = "unchecked"
	StatusFetching     Status = "fetchingRemoteData"
	StatusValidating   Status = "validating"
	StatusRegistered   Status = "registered"
	StatusUnregistered Status = "unregistered"
	StatusSkipped      Status = "skipped"
)

// defaultWorkers is the number of concurrent refresh workers when the caller
// does not set one.
const defaultWorkers = 4

// Outcome is the result of refreshing a single document.
type Outcome struct {
	DocumentID types.HexBytes `json:"documentId"`
	Status     Status         `json:"status"`
	Err        error          `json:"-"`
	Error      string         `json:"error,omitempty"`
	CheckedAt  time.Time      `json:"checkedAt"`
}

// RemoteSource is the slice of the registry API the tracker needs. It is
// satisfied by registry.Client.
type RemoteSource interface {
	CommitmentTree(ctx context.Context, category types.DocumentCategory,
		env types.Environment) (*committree.Dump, error)
	AlternativeAuthorities(ctx context.Context, category types.DocumentCategory,
		env types.Environment) (*committree.AuthoritySet, error)
	PublicKeySet(ctx context.Context, env types.Environment) (*committree.PublicKeySet, error)
}

// Options configures a Tracker.
type Options struct {
	Store   *docstore.Store
	Remote  RemoteSource
	Secrets identity.SecretSource
	// Roots are the built-in certificate authorities trusted for MRZ
	// documents.
	Roots []docsig.Authority
	// TreeDB backs the locally materialized commitment trees.
	TreeDB  db.Database
	Workers int
}

// Tracker refreshes stored documents against the remote registry.
type Tracker struct {
	store   *docstore.Store
	remote  RemoteSource
	secrets identity.SecretSource
	roots   []docsig.Authority
	treeDB  db.Database
	workers int

	refreshLock sync.Mutex
}

// New creates a Tracker from opts.
func New(opts Options) (*Tracker, error) {
	if opts.Store == nil || opts.Remote == nil || opts.Secrets == nil || opts.TreeDB == nil {
		return nil, fmt.Errorf("tracker: store, remote, secrets and treeDB are required")
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Tracker{
		store:   opts.Store,
		remote:  opts.Remote,
		secrets: opts.Secrets,
		roots:   opts.Roots,
		treeDB:  opts.TreeDB,
		workers: workers,
	}, nil
}

// RefreshAll refreshes every document in the store using a bounded pool of
// workers. Only one refresh runs at a time; a concurrent call waits for the
// previous one to finish. The returned outcomes follow store order.
func (t *Tracker) RefreshAll(ctx context.Context) ([]Outcome, error) {
	t.refreshLock.Lock()
	defer t.refreshLock.Unlock()

	records, err := t.store.List()
	if err != nil {
		return nil, fmt.Errorf("cannot list documents: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	log.Infow("refreshing document registration", "documents", len(records), "workers", t.workers)

	type job struct {
		index  int
		record *docstore.Record
	}
	jobs := make(chan job)
	outcomes := make([]Outcome, len(records))

	var wg sync.WaitGroup
	for w := 0; w < t.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				outcomes[j.index] = t.refreshOne(ctx, j.record)
			}
		}()
	}
	for i, rec := range records {
		select {
		case jobs <- job{index: i, record: rec}:
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return outcomes, ctx.Err()
		}
	}
	close(jobs)
	wg.Wait()

	registered := 0
	for i := range outcomes {
		if outcomes[i].Err != nil {
			outcomes[i].Error = outcomes[i].Err.Error()
		}
		refreshOutcomes.WithLabelValues(string(outcomes[i].Status)).Inc()
		if outcomes[i].Status == StatusRegistered {
			registered++
		}
	}
	registeredDocuments.Set(float64(registered))
	log.Infow("document refresh finished", "documents", len(records), "registered", registered)
	return outcomes, nil
}

// refreshOne runs the full state machine for a single document:
// unchecked -> fetchingRemoteData -> validating -> registered | unregistered |
// skipped. Transient failures (network, tree integrity) leave the document
// unchecked so a later refresh retries it; structural failures of the envelope
// itself mark it skipped.
func (t *Tracker) refreshOne(ctx context.Context, rec *docstore.Record) Outcome {
	out := Outcome{DocumentID: rec.DocumentID, CheckedAt: time.Now().UTC()}

	env, err := t.store.LoadEnvelope(rec.DocumentID)
	if err != nil {
		// Only a structurally broken envelope excludes the document from
		// future refreshes; storage trouble is retried next run.
		if errors.Is(err, document.ErrMalformedEnvelope) {
			out.Status, out.Err = StatusSkipped, err
		} else {
			out.Status, out.Err = StatusUnchecked, err
		}
		return out
	}
	if err := env.Validate(); err != nil {
		out.Status, out.Err = StatusSkipped, err
		return out
	}
	environment := types.EnvironmentFor(env.Synthetic)

	// fetchingRemoteData
	dump, err := t.remote.CommitmentTree(ctx, env.Category, environment)
	if err != nil {
		out.Status, out.Err = StatusUnchecked, fmt.Errorf("cannot fetch commitment tree: %w", err)
		return out
	}
	var alts *committree.AuthoritySet
	var keys *committree.PublicKeySet
	if env.Category.IsMRZ() {
		if alts, err = t.remote.AlternativeAuthorities(ctx, env.Category, environment); err != nil {
			out.Status, out.Err = StatusUnchecked, fmt.Errorf("cannot fetch authorities: %w", err)
			return out
		}
	} else {
		if keys, err = t.remote.PublicKeySet(ctx, environment); err != nil {
			out.Status, out.Err = StatusUnchecked, fmt.Errorf("cannot fetch signer keys: %w", err)
			return out
		}
	}
	tree, err := committree.FromDump(t.treeDB, dump)
	if err != nil {
		out.Status, out.Err = StatusUnchecked, fmt.Errorf("cannot materialize commitment tree: %w", err)
		return out
	}

	// validating
	result, err := docsig.Verify(env, committree.Anchors(t.roots, alts, keys))
	switch {
	case err == nil:
	case errors.Is(err, docsig.ErrAuthorityNotFound):
		// The signing authority is not yet distributed. The document may
		// still become registered later, so record it as unregistered
		// rather than excluding it.
		log.Debugw("document authority not yet known", "documentId", rec.DocumentID.String())
		if serr := t.store.UpdateRegistration(rec.DocumentID, false); serr != nil {
			out.Status, out.Err = StatusUnchecked, serr
			return out
		}
		out.Status = StatusUnregistered
		return out
	case errors.Is(err, document.ErrMalformedEnvelope),
		errors.Is(err, document.ErrHashMismatch),
		errors.Is(err, document.ErrDigestUnsupported),
		errors.Is(err, docsig.ErrNoAuthorityKeyID),
		errors.Is(err, docsig.ErrUnsupportedAlgorithm),
		errors.Is(err, docsig.ErrSignatureMismatch):
		out.Status, out.Err = StatusSkipped, err
		return out
	default:
		out.Status, out.Err = StatusUnchecked, err
		return out
	}

	secret, err := t.secrets.Secret(ctx)
	if err != nil {
		out.Status, out.Err = StatusUnchecked, fmt.Errorf("cannot obtain identity secret: %w", err)
		return out
	}
	commitment, err := identity.Commitment(env, secret)
	if err != nil {
		out.Status, out.Err = StatusSkipped, err
		return out
	}
	member, err := tree.Has(identity.LeafBytes(commitment))
	if err != nil {
		out.Status, out.Err = StatusUnchecked, err
		return out
	}

	// A validation match against a rotated authority is persisted so the
	// envelope carries the key that currently verifies it.
	if member && result.Valid && len(result.MatchedAuthority) > 0 &&
		!bytes.Equal(env.Authority, result.MatchedAuthority) {
		env.Authority = result.MatchedAuthority
		if err := t.store.SaveEnvelope(rec.DocumentID, env); err != nil {
			out.Status, out.Err = StatusUnchecked, err
			return out
		}
	}
	if err := t.store.UpdateRegistration(rec.DocumentID, member); err != nil {
		out.Status, out.Err = StatusUnchecked, err
		return out
	}
	if member {
		out.Status = StatusRegistered
	} else {
		out.Status = StatusUnregistered
	}
	return out
}
