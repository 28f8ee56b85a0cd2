// Package committree maintains read-only local snapshots of the remote
// commitment tree: the Merkle accumulator that records every registered
// identity commitment. Snapshots are rebuilt from fetched dumps and checked
// against the announced root before any membership query is answered.
package committree

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/prefixeddb"
	"go.vocdoni.io/dvote/tree/arbo"

	"go.veridoc.io/veridoc/log"
	"go.veridoc.io/veridoc/types"
)

// ErrRootMismatch is returned when a rebuilt snapshot does not reproduce
// the root announced by the registry. The snapshot is not usable.
var ErrRootMismatch = fmt.Errorf("commitment tree root mismatch")

// leafValue is stored under every commitment key. Only membership matters.
var leafValue = []byte{1}

// Dump is the wire format of a commitment tree snapshot as served by the
// remote registry.
type Dump struct {
	Category    types.DocumentCategory `json:"category"`
	Environment types.Environment      `json:"environment"`
	Root        types.HexBytes         `json:"root"`
	Leaves      []types.HexBytes       `json:"leaves"`
}

// Tree is a local commitment tree snapshot.
// Concurrent updates to the arbo tree can lose writes, so the tree is not
// exposed directly and every mutating method takes the lock.
type Tree struct {
	mu   sync.Mutex
	tree *arbo.Tree
}

// FromDump loads or rebuilds a snapshot under its own prefix of the parent
// database. If the stored snapshot already reproduces the dump root the
// leaves are not re-imported. A rebuilt snapshot whose root does not match
// the announced one returns ErrRootMismatch.
func FromDump(database db.Database, dump *Dump) (*Tree, error) {
	prefix := []byte(fmt.Sprintf("committree/%s/%s/%x",
		dump.Environment, dump.Category, dump.Root))
	pdb := prefixeddb.NewPrefixedDatabase(database, prefix)
	at, err := arbo.NewTree(arbo.Config{
		Database:     pdb,
		MaxLevels:    types.CommitmentTreeLevels,
		HashFunction: arbo.HashFunctionPoseidon,
	})
	if err != nil {
		return nil, fmt.Errorf("cannot open commitment tree: %w", err)
	}
	t := &Tree{tree: at}
	root, err := at.Root()
	if err != nil {
		return nil, err
	}
	if bytes.Equal(root, dump.Root) {
		return t, nil
	}

	for _, leaf := range dump.Leaves {
		if err := at.Add(leaf, leafValue); err != nil &&
			!errors.Is(err, arbo.ErrKeyAlreadyExists) {
			return nil, fmt.Errorf("cannot import commitment leaf: %w", err)
		}
	}
	root, err = at.Root()
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(root, dump.Root) {
		return nil, fmt.Errorf("%w: announced %x, rebuilt %x",
			ErrRootMismatch, dump.Root, root)
	}
	log.Infow("commitment tree snapshot imported",
		"category", string(dump.Category),
		"environment", string(dump.Environment),
		"leaves", len(dump.Leaves),
		"root", dump.Root.String())
	return t, nil
}

// Root returns the snapshot root.
func (t *Tree) Root() (types.HexBytes, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	root, err := t.tree.Root()
	return types.HexBytes(root), err
}

// Has reports whether a commitment leaf is present in the snapshot.
func (t *Tree) Has(leaf types.HexBytes) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, _, err := t.tree.Get(leaf)
	if errors.Is(err, arbo.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GenProof generates the packed Merkle membership proof for a commitment
// leaf, which is the authority proof handed to the prover.
func (t *Tree) GenProof(leaf types.HexBytes) (types.HexBytes, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, _, siblings, existence, err := t.tree.GenProof(leaf)
	if err != nil {
		return nil, err
	}
	if !existence {
		return nil, arbo.ErrKeyNotFound
	}
	return types.HexBytes(siblings), nil
}

// CheckProof verifies a packed membership proof against a root, using the
// same hash function as the snapshot trees.
func CheckProof(leaf, root, siblings types.HexBytes) error {
	valid, err := arbo.CheckProof(arbo.HashFunctionPoseidon, leaf, leafValue, root, siblings)
	if err != nil {
		return err
	}
	if !valid {
		return fmt.Errorf("merkle proof does not verify against root %x", root)
	}
	return nil
}
