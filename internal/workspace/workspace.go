// Package workspace builds snapshots of the environment a command runs in:
// git state, package manager and dependencies, docker compose services,
// deployment environment and marker-based project types.
//
// Every sub-record is optional; a directory that is not a git repository
// simply has a nil Git field.
package workspace

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"
)

// DefaultCacheTTL is the default time-to-live for cached snapshots.
const DefaultCacheTTL = 30 * time.Second

// Context is a workspace snapshot for one directory.
type Context struct {
	Directory    string       `json:"directory"`
	Git          *GitInfo     `json:"git,omitempty"`
	Docker       *DockerInfo  `json:"docker,omitempty"`
	Package      *PackageInfo `json:"package,omitempty"`
	Env          *EnvInfo     `json:"env,omitempty"`
	ProjectTypes []string     `json:"projectTypes,omitempty"`
}

// GitInfo describes the enclosing git repository.
type GitInfo struct {
	Root      string `json:"root"`
	Branch    string `json:"branch,omitempty"`
	RemoteURL string `json:"remoteUrl,omitempty"`
	Dirty     bool   `json:"dirty,omitempty"`
}

// DockerInfo describes a docker compose project.
type DockerInfo struct {
	Containers []string `json:"containers,omitempty"`
	Services   []string `json:"services,omitempty"`
}

// PackageInfo describes the package manager in use.
type PackageInfo struct {
	Manager      string   `json:"manager"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// EnvInfo describes the deployment environment.
type EnvInfo struct {
	Environment string `json:"environment"`
}

// Provider returns a snapshot for a directory.
type Provider interface {
	Snapshot(ctx context.Context, dir string) (*Context, error)
}

// Static returns a fixed snapshot, with Directory set to the requested path.
type Static struct {
	Context Context
}

// Snapshot implements Provider.
func (s Static) Snapshot(_ context.Context, dir string) (*Context, error) {
	c := s.Context
	c.Directory = dir
	return &c, nil
}

// Options configures a Detector.
type Options struct {
	// CacheTTL bounds how long a snapshot is reused (default: 30s).
	CacheTTL time.Duration

	// Watch invalidates cached snapshots when files change in a
	// snapshotted directory.
	Watch bool

	// Getenv reads process environment variables (default: os.Getenv).
	Getenv func(string) string

	// Logger receives non-fatal failures (default: slog.Default()).
	Logger *slog.Logger
}

type cacheEntry struct {
	snapshot  *Context
	expiresAt time.Time
}

// Detector is the default Provider. It is safe for concurrent use.
type Detector struct {
	opts    Options
	logger  *slog.Logger
	nowFunc func() time.Time
	watcher *watcher

	mu    sync.RWMutex
	cache map[string]*cacheEntry
}

// NewDetector creates a Detector. Callers must Close it when Watch is set.
func NewDetector(opts Options) *Detector {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.Getenv == nil {
		opts.Getenv = defaultGetenv
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	d := &Detector{
		opts:    opts,
		logger:  logger,
		nowFunc: time.Now,
		cache:   make(map[string]*cacheEntry),
	}

	if opts.Watch {
		w, err := newWatcher(d.Invalidate, logger)
		if err != nil {
			logger.Warn("workspace watcher unavailable", "error", err)
		} else {
			d.watcher = w
		}
	}
	return d
}

// Snapshot implements Provider. Results are cached per directory.
func (d *Detector) Snapshot(ctx context.Context, dir string) (*Context, error) {
	if dir == "" {
		return &Context{}, nil
	}
	dir = filepath.Clean(dir)

	d.mu.RLock()
	entry, ok := d.cache[dir]
	d.mu.RUnlock()
	if ok && d.nowFunc().Before(entry.expiresAt) {
		return entry.snapshot, nil
	}

	snap, err := d.compute(ctx, dir)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.cache[dir] = &cacheEntry{snapshot: snap, expiresAt: d.nowFunc().Add(d.opts.CacheTTL)}
	d.mu.Unlock()

	if d.watcher != nil {
		d.watcher.add(dir)
	}
	return snap, nil
}

func (d *Detector) compute(ctx context.Context, dir string) (*Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	snap := &Context{Directory: dir}
	snap.Git = detectGit(ctx, dir)

	// Manifests live at the repository root when not in dir itself.
	roots := []string{dir}
	if snap.Git != nil && snap.Git.Root != "" && snap.Git.Root != dir {
		roots = append(roots, snap.Git.Root)
	}

	for _, root := range roots {
		if snap.Package == nil {
			pkg, err := detectPackage(root)
			if err != nil {
				d.logger.Debug("package detection failed", "dir", root, "error", err)
			}
			snap.Package = pkg
		}
		if snap.Docker == nil {
			dock, err := detectCompose(root)
			if err != nil {
				d.logger.Debug("compose detection failed", "dir", root, "error", err)
			}
			snap.Docker = dock
		}
	}

	snap.Env = detectEnv(dir, d.opts.Getenv)
	snap.ProjectTypes = detectMarkers(dir)
	return snap, nil
}

// Invalidate removes the cached snapshot for dir.
func (d *Detector) Invalidate(dir string) {
	d.mu.Lock()
	delete(d.cache, filepath.Clean(dir))
	d.mu.Unlock()
}

// Size returns the number of cached snapshots.
func (d *Detector) Size() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.cache)
}

// Close stops the file watcher, if any.
func (d *Detector) Close() error {
	if d.watcher != nil {
		return d.watcher.close()
	}
	return nil
}
