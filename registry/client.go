// Package registry implements the HTTP client of the remote registry
// service: the source of commitment tree snapshots, alternative authority
// sets and QR signer key sets, per document category and environment.
//
// The client never retries on its own; network failures are returned to the
// caller, whose policy decides. Decoded snapshots are kept in a small LRU
// cache with a TTL so a refresh run over many documents of the same
// category hits the network once.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"

	"go.veridoc.io/veridoc/committree"
	"go.veridoc.io/veridoc/log"
	"go.veridoc.io/veridoc/types"
)

const (
	// HTTPGET is the method string used for calling Request()
	HTTPGET = "GET"
	// HTTPPOST is the method string used for calling Request()
	HTTPPOST = "POST"

	errCodeNot200 = "registry server returned status code is not 200"

	cacheSize  = 32
	defaultTTL = 5 * time.Minute
)

// Client is the registry HTTP client.
type Client struct {
	c        *http.Client
	addr     *url.URL
	token    *uuid.UUID
	cache    *lru.Cache
	cacheTTL time.Duration
}

type cacheEntry struct {
	fetchedAt time.Time
	value     any
}

// New creates a registry client for the given base address. The bearer
// token is optional.
func New(addr string, bearerToken *uuid.UUID) (*Client, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid registry address: %w", err)
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, err
	}
	tr := &http.Transport{
		IdleConnTimeout:    10 * time.Second,
		DisableCompression: false,
	}
	return &Client{
		c:        &http.Client{Transport: tr, Timeout: 30 * time.Second},
		addr:     u,
		token:    bearerToken,
		cache:    cache,
		cacheTTL: defaultTTL,
	}, nil
}

// SetCacheTTL overrides the snapshot cache retention. Zero disables caching.
func (c *Client) SetCacheTTL(ttl time.Duration) {
	c.cacheTTL = ttl
}

// Request performs a `method` type raw request to the endpoint specified in
// the urlPath parameter. Method is either GET or POST. If POST, a JSON
// struct should be attached. Returns the response, the status code and an
// error.
func (c *Client) Request(ctx context.Context, method string, jsonBody any, urlPath ...string) ([]byte, int, error) {
	body, err := json.Marshal(jsonBody)
	if err != nil {
		return nil, 0, err
	}
	u, err := url.Parse(c.addr.String())
	if err != nil {
		return nil, 0, err
	}
	u.Path = path.Join(u.Path, path.Join(urlPath...))
	headers := http.Header{}
	if c.token != nil {
		headers.Set("Authorization", "Bearer "+c.token.String())
	}
	headers.Set("User-Agent", "veridoc/1")
	if method == HTTPPOST {
		headers.Set("Content-Type", "application/json")
	}
	log.Debugw("registry request", "method", method, "url", u.String())
	req, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	req.Header = headers
	resp, err := c.c.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return data, resp.StatusCode, nil
}

func (c *Client) cached(key string) (any, bool) {
	if c.cacheTTL == 0 {
		return nil, false
	}
	v, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}
	entry := v.(cacheEntry)
	if time.Since(entry.fetchedAt) > c.cacheTTL {
		c.cache.Remove(key)
		return nil, false
	}
	return entry.value, true
}

func (c *Client) store(key string, value any) {
	if c.cacheTTL == 0 {
		return
	}
	c.cache.Add(key, cacheEntry{fetchedAt: time.Now(), value: value})
}

// CommitmentTree fetches the commitment tree snapshot for a category and
// environment.
func (c *Client) CommitmentTree(ctx context.Context, category types.DocumentCategory,
	env types.Environment) (*committree.Dump, error) {
	key := fmt.Sprintf("tree/%s/%s", env, category)
	if v, ok := c.cached(key); ok {
		return v.(*committree.Dump), nil
	}
	data, status, err := c.Request(ctx, HTTPGET, nil,
		"registry", string(env), string(category), "tree")
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%s: %d (%s)", errCodeNot200, status, data)
	}
	dump := &committree.Dump{}
	if err := json.Unmarshal(data, dump); err != nil {
		return nil, fmt.Errorf("cannot decode commitment tree snapshot: %w", err)
	}
	c.store(key, dump)
	return dump, nil
}

// AlternativeAuthorities fetches the alternative authority set for a
// category and environment.
func (c *Client) AlternativeAuthorities(ctx context.Context, category types.DocumentCategory,
	env types.Environment) (*committree.AuthoritySet, error) {
	key := fmt.Sprintf("authorities/%s/%s", env, category)
	if v, ok := c.cached(key); ok {
		return v.(*committree.AuthoritySet), nil
	}
	data, status, err := c.Request(ctx, HTTPGET, nil,
		"registry", string(env), string(category), "authorities")
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%s: %d (%s)", errCodeNot200, status, data)
	}
	set := &committree.AuthoritySet{}
	if err := json.Unmarshal(data, set); err != nil {
		return nil, fmt.Errorf("cannot decode authority set: %w", err)
	}
	c.store(key, set)
	return set, nil
}

// PublicKeySet fetches the flat QR signer key registry for an environment.
func (c *Client) PublicKeySet(ctx context.Context, env types.Environment) (*committree.PublicKeySet, error) {
	key := fmt.Sprintf("signers/%s", env)
	if v, ok := c.cached(key); ok {
		return v.(*committree.PublicKeySet), nil
	}
	data, status, err := c.Request(ctx, HTTPGET, nil,
		"registry", string(env), "signers")
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%s: %d (%s)", errCodeNot200, status, data)
	}
	set := &committree.PublicKeySet{}
	if err := json.Unmarshal(data, set); err != nil {
		return nil, fmt.Errorf("cannot decode signer key set: %w", err)
	}
	c.store(key, set)
	return set, nil
}
