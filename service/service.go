// Package service assembles the node: storage, registry client, registration
// tracker, session manager and the local HTTP API.
package service

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.veridoc.io/veridoc/api"
	"go.veridoc.io/veridoc/crypto/docsig"
	"go.veridoc.io/veridoc/crypto/identity"
	"go.veridoc.io/veridoc/docstore"
	"go.veridoc.io/veridoc/log"
	"go.veridoc.io/veridoc/registry"
	"go.veridoc.io/veridoc/session"
	"go.veridoc.io/veridoc/tracker"
	"go.veridoc.io/veridoc/types"
	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/metadb"
)

// Config holds the node configuration, populated by the cmd layer.
type Config struct {
	// DataDir is the base directory for all persistent storage.
	DataDir string
	// LogLevel is one of debug, info, warn, error.
	LogLevel string
	// LogOutput is stdout, stderr or a file path.
	LogOutput string
	// ListenAddr is the bind address of the local HTTP API.
	ListenAddr string
	// RegistryURL is the base URL of the remote registry service.
	RegistryURL string
	// RelayURL is the base URL of the session relay.
	RelayURL string
	// RootsFile points to a JSON file with the trusted certificate
	// authorities for MRZ documents.
	RootsFile string
	// SecretFile points to a file holding the identity secret as a
	// decimal or 0x-prefixed hex string.
	SecretFile string
	// Workers bounds the registration refresh concurrency.
	Workers int
}

// Node is the assembled service.
type Node struct {
	cfg      Config
	database db.Database
	Store    *docstore.Store
	Registry *registry.Client
	Tracker  *tracker.Tracker
	Sessions *session.Manager
	srv      *http.Server
}

// New builds a Node from cfg. Sessions started over the API run under ctx.
func New(ctx context.Context, cfg Config) (*Node, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	database, err := metadb.New(db.TypePebble, filepath.Join(cfg.DataDir, "db"))
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	store := docstore.New(database)

	reg, err := registry.New(cfg.RegistryURL, nil)
	if err != nil {
		return nil, err
	}
	roots, err := loadRoots(cfg.RootsFile)
	if err != nil {
		return nil, err
	}
	secrets, err := loadSecret(cfg.SecretFile)
	if err != nil {
		return nil, err
	}

	trk, err := tracker.New(tracker.Options{
		Store:   store,
		Remote:  reg,
		Secrets: secrets,
		Roots:   roots,
		TreeDB:  database,
		Workers: cfg.Workers,
	})
	if err != nil {
		return nil, err
	}
	sessions, err := session.NewManager(session.Config{
		Store:   store,
		Remote:  reg,
		Secrets: secrets,
		Roots:   roots,
		TreeDB:  database,
		Dial:    session.WebsocketDialer(cfg.RelayURL),
	})
	if err != nil {
		return nil, err
	}

	a := api.New(ctx, store, trk, sessions)
	return &Node{
		cfg:      cfg,
		database: database,
		Store:    store,
		Registry: reg,
		Tracker:  trk,
		Sessions: sessions,
		srv: &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           a.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Start serves the local API. It returns once the listener is up; serve
// errors are logged from the serving goroutine.
func (n *Node) Start() {
	go func() {
		log.Infow("local api listening", "addr", n.cfg.ListenAddr)
		if err := n.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("api server failed: %v", err)
		}
	}()
}

// Close shuts down the API server and the database.
func (n *Node) Close(ctx context.Context) error {
	if err := n.srv.Shutdown(ctx); err != nil {
		log.Warnw("api shutdown", "error", err)
	}
	return n.database.Close()
}

// rootEntry is one trusted authority in the roots file: a DER certificate,
// or a bare key identifier with a PKIX public key.
type rootEntry struct {
	Subject     string         `json:"subject,omitempty"`
	KeyID       types.HexBytes `json:"keyId"`
	Certificate types.HexBytes `json:"certificate,omitempty"`
	PublicKey   types.HexBytes `json:"publicKey,omitempty"`
}

// loadRoots reads the trusted MRZ certificate authorities. A missing path
// yields an empty set, which still allows QR credentials and registry
// distributed authorities.
func loadRoots(path string) ([]docsig.Authority, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read roots file: %w", err)
	}
	var entries []rootEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("cannot parse roots file: %w", err)
	}
	roots := make([]docsig.Authority, 0, len(entries))
	for _, e := range entries {
		auth := docsig.Authority{
			KeyID:     e.KeyID,
			PublicKey: e.PublicKey,
			Subject:   e.Subject,
		}
		if len(e.Certificate) > 0 {
			cert, err := x509.ParseCertificate(e.Certificate)
			if err != nil {
				return nil, fmt.Errorf("invalid root certificate %x: %w", e.KeyID, err)
			}
			if len(auth.KeyID) == 0 {
				auth.KeyID = cert.SubjectKeyId
			}
			if auth.Subject == "" {
				auth.Subject = cert.Subject.String()
			}
			if len(auth.PublicKey) == 0 {
				auth.PublicKey = cert.RawSubjectPublicKeyInfo
			}
		}
		roots = append(roots, auth)
	}
	log.Infow("loaded trusted authorities", "count", len(roots))
	return roots, nil
}

// loadSecret reads the identity secret from a file. The value is a decimal
// integer or a 0x-prefixed hex string.
func loadSecret(path string) (identity.SecretSource, error) {
	if path == "" {
		return nil, fmt.Errorf("secret file is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read secret file: %w", err)
	}
	raw := strings.TrimSpace(string(data))
	base := 10
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		raw, base = raw[2:], 16
	}
	secret, ok := new(big.Int).SetString(raw, base)
	if !ok {
		return nil, fmt.Errorf("secret file does not contain a valid integer")
	}
	return (*identity.StaticSecret)(secret), nil
}
