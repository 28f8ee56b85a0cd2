package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/google/uuid"
	"go.veridoc.io/veridoc/committree"
	"go.veridoc.io/veridoc/types"
)

func testServer(t *testing.T, hits *int32) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/registry/staging/passport/tree", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		json.NewEncoder(w).Encode(&committree.Dump{
			Category:    types.CategoryPassport,
			Environment: types.EnvironmentStaging,
			Root:        types.HexBytes{0x01, 0x02},
			Leaves:      []types.HexBytes{{0xaa}},
		})
	})
	mux.HandleFunc("/registry/staging/passport/authorities", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(&committree.AuthoritySet{
			Category:    types.CategoryPassport,
			Environment: types.EnvironmentStaging,
		})
	})
	mux.HandleFunc("/registry/staging/signers", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(&committree.PublicKeySet{
			Environment: types.EnvironmentStaging,
			Keys:        []types.HexBytes{{0xbb, 0xcc}},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestCommitmentTreeCached(t *testing.T) {
	c := qt.New(t)
	var hits int32
	srv := testServer(t, &hits)
	client, err := New(srv.URL, nil)
	c.Assert(err, qt.IsNil)

	dump, err := client.CommitmentTree(context.Background(),
		types.CategoryPassport, types.EnvironmentStaging)
	c.Assert(err, qt.IsNil)
	c.Assert(dump.Root, qt.DeepEquals, types.HexBytes{0x01, 0x02})
	c.Assert(dump.Leaves, qt.HasLen, 1)

	// Second fetch is served from the cache.
	_, err = client.CommitmentTree(context.Background(),
		types.CategoryPassport, types.EnvironmentStaging)
	c.Assert(err, qt.IsNil)
	c.Assert(atomic.LoadInt32(&hits), qt.Equals, int32(1))

	// Disabling the cache forces the network again.
	client.SetCacheTTL(0)
	_, err = client.CommitmentTree(context.Background(),
		types.CategoryPassport, types.EnvironmentStaging)
	c.Assert(err, qt.IsNil)
	c.Assert(atomic.LoadInt32(&hits), qt.Equals, int32(2))
}

func TestPublicKeySetAndAuthorities(t *testing.T) {
	c := qt.New(t)
	var hits int32
	srv := testServer(t, &hits)
	client, err := New(srv.URL, nil)
	c.Assert(err, qt.IsNil)

	keys, err := client.PublicKeySet(context.Background(), types.EnvironmentStaging)
	c.Assert(err, qt.IsNil)
	c.Assert(keys.Keys, qt.HasLen, 1)

	alts, err := client.AlternativeAuthorities(context.Background(),
		types.CategoryPassport, types.EnvironmentStaging)
	c.Assert(err, qt.IsNil)
	c.Assert(alts.Category, qt.Equals, types.CategoryPassport)
}

func TestRequestBearerToken(t *testing.T) {
	c := qt.New(t)
	token := uuid.New()
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	client, err := New(srv.URL, &token)
	c.Assert(err, qt.IsNil)
	_, status, err := client.Request(context.Background(), HTTPGET, nil, "registry")
	c.Assert(err, qt.IsNil)
	c.Assert(status, qt.Equals, http.StatusOK)
	c.Assert(gotAuth, qt.Equals, "Bearer "+token.String())
}

func TestNotOKStatus(t *testing.T) {
	c := qt.New(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	client, err := New(srv.URL, nil)
	c.Assert(err, qt.IsNil)
	client.SetCacheTTL(time.Minute)
	_, err = client.CommitmentTree(context.Background(),
		types.CategoryPassport, types.EnvironmentStaging)
	c.Assert(err, qt.IsNotNil)
}
