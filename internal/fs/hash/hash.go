// Package hash contains the canonical hashable representations of a task
// and of the run-global inputs, plus the functions that reduce them to the
// 16-character hex hashes used as cache keys.
//
// Field order inside each Hash* function is part of the hash schema: two
// builds agree on a hash iff they agree on every field and on the order the
// fields are folded into the digest. Reordering fields here is a cache-key
// break and should be treated like any other schema bump.
package hash

import (
	"encoding/binary"
	"encoding/hex"
	"sort"

	xxhash "github.com/cespare/xxhash/v2"
	"github.com/taskmesh/taskmesh/internal/env"
	"github.com/taskmesh/taskmesh/internal/lockfile"
	"github.com/taskmesh/taskmesh/internal/turbopath"
	"github.com/taskmesh/taskmesh/internal/util"
)

// TaskHashable is a hashable representation of a task to be run
type TaskHashable struct {
	GlobalHash           string
	TaskDependencyHashes []string
	PackageDir           turbopath.AnchoredUnixPath
	HashOfFiles          string
	ExternalDepsHash     string
	Task                 string
	Outputs              TaskOutputs
	PassThruArgs         []string
	Env                  []string
	ResolvedEnvVars      env.EnvironmentVariablePairs
	PassThroughEnv       []string
	EnvMode              util.EnvMode
	DotEnv               turbopath.AnchoredUnixPathArray
}

// GlobalHashable is a hashable representation of global dependencies for tasks
type GlobalHashable struct {
	GlobalCacheKey       string
	GlobalFileHashMap    map[turbopath.AnchoredUnixPath]string
	RootExternalDepsHash string
	Env                  []string
	ResolvedEnvVars      env.EnvironmentVariablePairs
	PassThroughEnv       []string
	EnvMode              util.EnvMode
	FrameworkInference   bool

	// NOTE! This field is _explicitly_ ordered and should not be sorted.
	DotEnv turbopath.AnchoredUnixPathArray
}

// TaskOutputs represents the patterns for including and excluding files from outputs
type TaskOutputs struct {
	Inclusions []string
	Exclusions []string
}

// Sort contents of task outputs
func (to *TaskOutputs) Sort() {
	sort.Strings(to.Inclusions)
	sort.Strings(to.Exclusions)
}

// HashTaskHashable performs the hash for a TaskHashable
//
// NOTE: This function is _explicitly_ ordered and should not be sorted.
func HashTaskHashable(task *TaskHashable) (string, error) {
	d := newDigest()
	d.writeString(task.GlobalHash)
	d.writeString(task.PackageDir.ToString())
	d.writeString(task.HashOfFiles)
	d.writeString(task.ExternalDepsHash)
	d.writeString(task.Task)
	d.writeEnvMode(task.EnvMode)
	d.writeList(task.Outputs.Inclusions)
	d.writeList(task.Outputs.Exclusions)
	d.writeList(task.TaskDependencyHashes)
	d.writeList(task.PassThruArgs)
	d.writeList(task.Env)
	d.writeList(task.PassThroughEnv)
	d.writeAnchoredUnixArray(task.DotEnv)
	d.writeList(task.ResolvedEnvVars)
	return d.sum(), nil
}

// HashGlobalHashable performs the hash for a GlobalHashable
//
// NOTE: This function is _explicitly_ ordered and should not be sorted.
func HashGlobalHashable(global *GlobalHashable) (string, error) {
	d := newDigest()
	d.writeString(global.GlobalCacheKey)
	d.writeSortedHashMap(global.GlobalFileHashMap)
	d.writeString(global.RootExternalDepsHash)
	d.writeList(global.Env)
	d.writeList(global.ResolvedEnvVars)
	d.writeList(global.PassThroughEnv)
	d.writeEnvMode(global.EnvMode)
	d.writeBool(global.FrameworkInference)
	d.writeAnchoredUnixArray(global.DotEnv)
	return d.sum(), nil
}

// HashLockfilePackages hashes the identity keys and versions of a set of
// external packages resolved from a lockfile.
func HashLockfilePackages(packages []lockfile.Package) (string, error) {
	d := newDigest()
	d.writeLen(len(packages))
	for _, pkg := range packages {
		d.writeString(pkg.Key)
		d.writeString(pkg.Version)
		d.writeBool(true)
	}
	return d.sum(), nil
}

// HashFileHashes hashes a path -> content-hash map, sorted by path.
func HashFileHashes(hashes map[turbopath.AnchoredUnixPath]string) (string, error) {
	d := newDigest()
	d.writeSortedHashMap(hashes)
	return d.sum(), nil
}

// digest folds length-prefixed fields into an xxhash sum so that adjacent
// fields can never alias each other ("ab","c" vs "a","bc").
type digest struct {
	h   *xxhash.Digest
	buf [binary.MaxVarintLen64]byte
}

func newDigest() *digest {
	return &digest{h: xxhash.New()}
}

func (d *digest) writeLen(n int) {
	size := binary.PutUvarint(d.buf[:], uint64(n))
	_, _ = d.h.Write(d.buf[:size])
}

func (d *digest) writeString(s string) {
	d.writeLen(len(s))
	_, _ = d.h.WriteString(s)
}

func (d *digest) writeBool(b bool) {
	if b {
		_, _ = d.h.Write([]byte{1})
	} else {
		_, _ = d.h.Write([]byte{0})
	}
}

func (d *digest) writeEnvMode(mode util.EnvMode) {
	switch mode {
	case util.Infer:
		_, _ = d.h.Write([]byte{0})
	case util.Loose:
		_, _ = d.h.Write([]byte{1})
	case util.Strict:
		_, _ = d.h.Write([]byte{2})
	}
}

func (d *digest) writeList(list []string) {
	d.writeLen(len(list))
	for _, entry := range list {
		d.writeString(entry)
	}
}

func (d *digest) writeAnchoredUnixArray(paths turbopath.AnchoredUnixPathArray) {
	d.writeLen(len(paths))
	for _, path := range paths {
		d.writeString(path.ToString())
	}
}

func (d *digest) writeSortedHashMap(entries map[turbopath.AnchoredUnixPath]string) {
	keys := make([]string, 0, len(entries))
	byKey := make(map[string]string, len(entries))
	for key, value := range entries {
		keys = append(keys, key.ToString())
		byKey[key.ToString()] = value
	}
	sort.Strings(keys)
	d.writeLen(len(keys))
	for _, key := range keys {
		d.writeString(key)
		d.writeString(byKey[key])
	}
}

func (d *digest) sum() string {
	var out [8]byte
	binary.BigEndian.PutUint64(out[:], d.h.Sum64())
	return hex.EncodeToString(out[:])
}
