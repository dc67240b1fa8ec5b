// Package filewatcher is used to handle watching for file changes inside the monorepo
package filewatcher

import (
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/taskmesh/taskmesh/internal/turbopath"
)

// _ignores is the set of paths we exempt from file-watching
var _ignores = []string{".git", "node_modules"}

// FileEvent is the set of events we can translate from the underlying
// filesystem notification backend.
type FileEvent int

const (
	// FileAdded - the file was added
	FileAdded FileEvent = iota + 1
	// FileDeleted - the file was deleted
	FileDeleted
	// FileModified - the file was modified
	FileModified
	// FileRenamed - the file was renamed
	FileRenamed
	// FileOther - some other backend-specific event happened to the file
	FileOther
)

// Event is the set of fields that we care about for each filesystem event.
type Event struct {
	Path      turbopath.AbsoluteSystemPath
	EventType FileEvent
}

// Backend is the interface that any os-specific filesystem watching
// implementation must conform to.
type Backend interface {
	AddRoot(root turbopath.AbsoluteSystemPath, excludePatterns ...string) error
	Events() <-chan Event
	Errors() <-chan error
	Close() error
	Start() error
}

// FileWatchClient defines the callbacks used by the file watching loop.
// All methods are called from the same goroutine so they:
// 1) do not need synchronization
// 2) should minimize the work they are doing when called, if possible
type FileWatchClient interface {
	OnFileWatchEvent(ev Event)
	OnFileWatchError(err error)
	OnFileWatchClosed()
}

// FileWatcher handles watching all of the files in the monorepo.
// We currently ignore .git and top-level node_modules. We can revisit
// if necessary.
type FileWatcher struct {
	backend Backend

	logger          hclog.Logger
	repoRoot        turbopath.AbsoluteSystemPath
	excludePatterns []string

	clientsMu sync.RWMutex
	clients   []FileWatchClient
	closed    bool
}

// New returns a new FileWatcher instance
func New(logger hclog.Logger, repoRoot turbopath.AbsoluteSystemPath, backend Backend) *FileWatcher {
	excludePatterns := make([]string, len(_ignores))
	for i, ignore := range _ignores {
		excludePatterns[i] = repoRoot.UntypedJoin(ignore).ToString() + "/**"
	}
	return &FileWatcher{
		backend:         backend,
		logger:          logger,
		repoRoot:        repoRoot,
		excludePatterns: excludePatterns,
	}
}

// Start recursively adds all directories from the repo root, redacts the excluded ones,
// then fires off a goroutine to respond to filesystem events
func (fw *FileWatcher) Start() error {
	if err := fw.backend.AddRoot(fw.repoRoot, fw.excludePatterns...); err != nil {
		return err
	}
	if err := fw.backend.Start(); err != nil {
		return err
	}
	go fw.watch()
	return nil
}

// AddRoot registers an additional directory tree with the backend.
func (fw *FileWatcher) AddRoot(root turbopath.AbsoluteSystemPath, excludePatterns ...string) error {
	return fw.backend.AddRoot(root, excludePatterns...)
}

// watch is the main file-watching loop. Watching is not recursive,
// so when new directories are added, they are manually recursively watched.
func (fw *FileWatcher) watch() {
outer:
	for {
		select {
		case ev, ok := <-fw.backend.Events():
			if !ok {
				fw.logger.Info("Events channel closed. Exiting watch loop")
				break outer
			}
			fw.clientsMu.RLock()
			for _, client := range fw.clients {
				client.OnFileWatchEvent(ev)
			}
			fw.clientsMu.RUnlock()
		case err, ok := <-fw.backend.Errors():
			if !ok {
				fw.logger.Info("Errors channel closed. Exiting watch loop")
				break outer
			}
			fw.clientsMu.RLock()
			for _, client := range fw.clients {
				client.OnFileWatchError(err)
			}
			fw.clientsMu.RUnlock()
		}
	}
	fw.clientsMu.Lock()
	fw.closed = true
	for _, client := range fw.clients {
		client.OnFileWatchClosed()
	}
	fw.clientsMu.Unlock()
}

// AddClient registers a client for filesystem events
func (fw *FileWatcher) AddClient(client FileWatchClient) {
	fw.clientsMu.Lock()
	defer fw.clientsMu.Unlock()
	fw.clients = append(fw.clients, client)
	if fw.closed {
		client.OnFileWatchClosed()
	}
}

// Close shuts down the backend, which ends the watch loop.
func (fw *FileWatcher) Close() error {
	return fw.backend.Close()
}
