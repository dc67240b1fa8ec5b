// Package cache abstracts storing and fetching previously run tasks
//
// Adapted from https://github.com/thought-machine/please
// Copyright Thought Machine, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0
package cache

import (
	"errors"
	"fmt"
	"sync"

	"github.com/spf13/pflag"
	"github.com/taskmesh/taskmesh/internal/analytics"
	"github.com/taskmesh/taskmesh/internal/fs"
	"github.com/taskmesh/taskmesh/internal/turbopath"
	"github.com/taskmesh/taskmesh/internal/util"
	"golang.org/x/sync/errgroup"
)

// ItemStatus reports which tier(s) of the cache hold an artifact.
type ItemStatus struct {
	Local  bool
	Remote bool
}

// NewCacheMiss returns the ItemStatus for a hash that is cached nowhere.
func NewCacheMiss() ItemStatus {
	return ItemStatus{}
}

// Cache is abstracted way to cache/fetch previously run tasks
type Cache interface {
	// Fetch returns whether there is a cache hit, moving files into their
	// correct position under anchor as a side effect.
	Fetch(anchor turbopath.AbsoluteSystemPath, hash string, files []string) (ItemStatus, []turbopath.AnchoredSystemPath, int, error)
	// Exists checks hash membership without restoring any files.
	Exists(hash string) ItemStatus
	// Put caches files for a given hash
	Put(anchor turbopath.AbsoluteSystemPath, hash string, duration int, files []turbopath.AnchoredSystemPath) error
	Clean(anchor turbopath.AbsoluteSystemPath)
	CleanAll()
	Shutdown()
}

// CacheEventHit and CacheEventMiss label a CacheEvent's Event field.
const (
	CacheEventHit  = "HIT"
	CacheEventMiss = "MISS"
)

// CacheSourceFS and CacheSourceRemote label a CacheEvent's Source field.
const (
	CacheSourceFS     = "LOCAL"
	CacheSourceRemote = "REMOTE"
)

// CacheEvent records one cache lookup for analytics.
type CacheEvent struct {
	Source   string `mapstructure:"source"`
	Event    string `mapstructure:"event"`
	Hash     string `mapstructure:"hash"`
	Duration int    `mapstructure:"duration"`
}

// DefaultLocation returns the default filesystem cache location, given a repo root
func DefaultLocation(repoRoot turbopath.AbsoluteSystemPath) turbopath.AbsoluteSystemPath {
	return repoRoot.UntypedJoin("node_modules", ".cache", "turbo")
}

// OnCacheRemoved defines a callback that the cache system calls if a particular cache
// needs to be removed. In practice, this happens when Remote Caching has been disabled
// the but CLI continues to try to use it.
type OnCacheRemoved = func(cache Cache, err error)

// ErrNoCachesEnabled is returned when both the filesystem and http cache are unavailable
var ErrNoCachesEnabled = errors.New("no caches are enabled")

// VerificationError is a fatal mismatch between a remote artifact and its
// HMAC signature. Unlike transport errors it never falls through to the
// next cache tier.
type VerificationError struct {
	Err error
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("artifact verification failed: %v", e.Err)
}

func (e *VerificationError) Unwrap() error { return e.Err }

// Opts holds configuration options for the cache
type Opts struct {
	Dir             turbopath.AbsoluteSystemPath
	SkipRemote      bool
	SkipFilesystem  bool
	RemoteReadOnly  bool
	Workers         int
	RemoteCacheOpts fs.RemoteCacheOptions
}

// resolveCacheDir returns the Opts' configured cache directory, defaulting
// to DefaultLocation(repoRoot) when none was set.
func (o Opts) resolveCacheDir(repoRoot turbopath.AbsoluteSystemPath) turbopath.AbsoluteSystemPath {
	if o.Dir != "" {
		return o.Dir
	}
	return DefaultLocation(repoRoot)
}

var _remoteOnlyHelp = `Ignore the local filesystem cache for all tasks. Only
allow reading and caching artifacts using the remote cache.`

// AddFlags adds cache-related flags to the given FlagSet
func AddFlags(opts *Opts, flags *pflag.FlagSet) {
	flags.BoolVar(&opts.SkipFilesystem, "remote-only", false, _remoteOnlyHelp)
}

// New creates a new cache composed of the fs and/or http tiers the opts
// enable, falling back to a noopCache (with ErrNoCachesEnabled) when
// neither tier is usable. remoteClient may be nil to disable the http tier
// regardless of opts.SkipRemote.
func New(opts Opts, repoRoot turbopath.AbsoluteSystemPath, remoteClient client, recorder analytics.Recorder, onCacheRemoved OnCacheRemoved) (Cache, error) {
	c, err := newSyncCache(opts, repoRoot, remoteClient, recorder, onCacheRemoved)
	if err != nil {
		return newNoopCache(), err
	}
	if opts.Workers > 0 {
		return newAsyncCache(c, opts), nil
	}
	return c, nil
}

func newSyncCache(opts Opts, repoRoot turbopath.AbsoluteSystemPath, remoteClient client, recorder analytics.Recorder, onCacheRemoved OnCacheRemoved) (Cache, error) {
	mplex := &cacheMultiplexer{
		onCacheRemoved: onCacheRemoved,
		opts:           opts,
	}
	if !opts.SkipFilesystem {
		fsc, err := newFsCache(opts, recorder, repoRoot)
		if err != nil {
			return nil, err
		}
		mplex.caches = append(mplex.caches, fsc)
	}
	if !opts.SkipRemote && remoteClient != nil {
		mplex.caches = append(mplex.caches, newHTTPCache(opts, remoteClient, recorder, repoRoot))
	}
	if len(mplex.caches) == 0 {
		return nil, ErrNoCachesEnabled
	} else if len(mplex.caches) == 1 {
		return mplex.caches[0], nil // Skip the extra layer of indirection
	}
	return mplex, nil
}

// A cacheMultiplexer multiplexes several caches into one.
// Used when we have several active (eg. http, dir).
type cacheMultiplexer struct {
	caches         []Cache
	opts           Opts
	mu             sync.RWMutex
	onCacheRemoved OnCacheRemoved
}

func (mplex *cacheMultiplexer) Put(anchor turbopath.AbsoluteSystemPath, hash string, duration int, files []turbopath.AnchoredSystemPath) error {
	return mplex.storeUntil(anchor, hash, duration, files, len(mplex.caches))
}

type cacheRemoval struct {
	cache Cache
	err   *util.CacheDisabledError
}

// storeUntil stores artifacts into higher priority caches than the given one.
// Used after artifact retrieval to ensure we have them in eg. the directory cache after
// downloading from the RPC cache.
func (mplex *cacheMultiplexer) storeUntil(anchor turbopath.AbsoluteSystemPath, hash string, duration int, files []turbopath.AnchoredSystemPath, stopAt int) error {
	// Attempt to store on all caches simultaneously.
	toRemove := make([]*cacheRemoval, stopAt)
	g := &errgroup.Group{}
	mplex.mu.RLock()
	for i, c := range mplex.caches {
		if i == stopAt {
			break
		}
		cc := c
		ii := i
		g.Go(func() error {
			err := cc.Put(anchor, hash, duration, files)
			if err != nil {
				cd := &util.CacheDisabledError{}
				if errors.As(err, &cd) {
					toRemove[ii] = &cacheRemoval{cache: cc, err: cd}
					// we don't want this to cancel other cache actions
					return nil
				}
				return err
			}
			return nil
		})
	}
	mplex.mu.RUnlock()

	if err := g.Wait(); err != nil {
		return err
	}

	for _, removal := range toRemove {
		if removal != nil {
			mplex.removeCache(removal)
		}
	}
	return nil
}

// removeCache takes a requested removal and tries to actually remove it. However,
// multiple requests could result in concurrent requests to remove the same cache.
// Let one of them win and propagate the error, the rest will no-op.
func (mplex *cacheMultiplexer) removeCache(removal *cacheRemoval) {
	mplex.mu.Lock()
	defer mplex.mu.Unlock()
	for i, c := range mplex.caches {
		if c == removal.cache {
			mplex.caches = append(mplex.caches[:i], mplex.caches[i+1:]...)
			if mplex.onCacheRemoved != nil {
				mplex.onCacheRemoved(c, removal.err)
			}
			break
		}
	}
}

func (mplex *cacheMultiplexer) Fetch(anchor turbopath.AbsoluteSystemPath, hash string, files []string) (ItemStatus, []turbopath.AnchoredSystemPath, int, error) {
	// Make a shallow copy of the caches, since storeUntil can call removeCache
	mplex.mu.RLock()
	caches := make([]Cache, len(mplex.caches))
	copy(caches, mplex.caches)
	mplex.mu.RUnlock()

	// Retrieve from caches sequentially; if we did them simultaneously we could
	// easily write the same file from two goroutines at once.
	for i, c := range caches {
		status, actualFiles, duration, err := c.Fetch(anchor, hash, files)
		if err != nil {
			verification := &VerificationError{}
			if errors.As(err, &verification) {
				// A signature mismatch is fatal, never a fall-through.
				return ItemStatus{}, nil, 0, err
			}
			cd := &util.CacheDisabledError{}
			if errors.As(err, &cd) {
				mplex.removeCache(&cacheRemoval{cache: c, err: cd})
			}
			// We're ignoring the error in the else case, since with this cache
			// abstraction, we want to check lower priority caches rather than fail
			// the operation.
		}
		if status.Local || status.Remote {
			// Store this into other caches. We can ignore errors here because we know
			// we have previously successfully stored in a higher-priority cache, and so the overall
			// result is a success at fetching. Storing in lower-priority caches is an optimization.
			_ = mplex.storeUntil(anchor, hash, duration, actualFiles, i)
			return status, actualFiles, duration, err
		}
	}
	return ItemStatus{}, nil, 0, nil
}

func (mplex *cacheMultiplexer) Exists(hash string) ItemStatus {
	mplex.mu.RLock()
	defer mplex.mu.RUnlock()
	status := ItemStatus{}
	for _, c := range mplex.caches {
		s := c.Exists(hash)
		status.Local = status.Local || s.Local
		status.Remote = status.Remote || s.Remote
	}
	return status
}

func (mplex *cacheMultiplexer) Clean(anchor turbopath.AbsoluteSystemPath) {
	for _, c := range mplex.caches {
		c.Clean(anchor)
	}
}

func (mplex *cacheMultiplexer) CleanAll() {
	for _, c := range mplex.caches {
		c.CleanAll()
	}
}

func (mplex *cacheMultiplexer) Shutdown() {
	for _, c := range mplex.caches {
		c.Shutdown()
	}
}
