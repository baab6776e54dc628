// Package locker drives the lock workflow: it decides whether the lock
// file is in sync with the manifest and, when it is not, resolves the
// manifest's requirements into a new set of lock entries.
package locker

import (
	"context"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/lariat/pkg/cache"
	"github.com/matzehuels/lariat/pkg/deptree"
	"github.com/matzehuels/lariat/pkg/lockfile"
	"github.com/matzehuels/lariat/pkg/project"
	"github.com/matzehuels/lariat/pkg/resolve"
	"github.com/matzehuels/lariat/pkg/source"
)

// Locker creates lock files from manifests.
type Locker struct {
	// CacheRoot overrides the root of the on-disk package store used by
	// the sources. Empty means the per-user default.
	CacheRoot string

	// Client is used by remote sources. Defaults to http.DefaultClient.
	Client *http.Client

	// IndexCache caches remote index pages across runs.
	IndexCache cache.Cache

	// Notifier receives resolution progress. Defaults to NullNotifier.
	Notifier resolve.Notifier

	Logger *log.Logger
}

// IsLockSynced reports whether the lock file reflects the manifest: the
// recorded content hash matches and the lock was produced with the same
// conservative setting.
func IsLockSynced(p *project.Project, lock *lockfile.Lock, conservative bool) bool {
	return lock.Metadata.ContentHash == p.ContentHash() &&
		lock.Metadata.Conservative == conservative
}

// Lock produces a new lock for the manifest. When the old lock is
// already in sync it is returned unchanged. In conservative mode the old
// lock's resolutions are carried over for everything except the
// manifest's direct requirements.
func (l *Locker) Lock(ctx context.Context, p *project.Project, oldLock *lockfile.Lock, conservative bool) (*lockfile.Lock, error) {
	logger := l.Logger
	if logger == nil {
		logger = log.Default()
	}
	notifier := l.Notifier
	if notifier == nil {
		notifier = resolve.NullNotifier{}
	}

	if IsLockSynced(p, oldLock, conservative) {
		logger.Debug("lock file already synchronized")
		notifier.Message("Manifest and lock file are already synchronized.", 0)
		return oldLock, nil
	}
	logger.Info("syncing lock file")

	group, err := l.SourceGroup(p.Sources)
	if err != nil {
		return nil, err
	}
	resolver, err := resolve.New(resolve.Config{
		Group:    group,
		Notifier: notifier,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	var oldTree *deptree.Node
	if conservative {
		oldTree, err = deptree.FromLockEntries(ctx, group, oldLock.Entries)
		if err != nil {
			return nil, err
		}
	}

	root := RootFromProject(p)
	if err := resolver.ResolveFullTree(ctx, root, oldTree); err != nil {
		return nil, err
	}

	entries, err := deptree.ToLockEntries(ctx, root)
	if err != nil {
		return nil, err
	}

	lock := lockfile.New()
	for _, s := range p.Sources {
		lock.Sources = append(lock.Sources, lockfile.Source{
			Name:  s.Name,
			URL:   s.URL,
			Proxy: s.Proxy,
		})
	}
	lock.Entries = entries
	lock.Metadata.ContentHash = p.ContentHash()
	lock.Metadata.EnvID = p.Metadata.EnvID
	lock.Metadata.Conservative = conservative
	return lock, nil
}

// SourceGroup builds the source group for a manifest's source list.
// URLs with an http or https scheme become remote sources; anything else
// is treated as a directory path.
func (l *Locker) SourceGroup(sources []project.Source) (*source.Group, error) {
	group := source.NewGroup()
	for _, s := range sources {
		built, err := l.buildSource(s)
		if err != nil {
			return nil, err
		}
		if err := group.AddSource(built); err != nil {
			return nil, err
		}
	}
	return group, nil
}

// LockSourceGroup builds the source group recorded in a lock file, used
// when installing from the lock without consulting the manifest.
func (l *Locker) LockSourceGroup(sources []lockfile.Source) (*source.Group, error) {
	specs := make([]project.Source, 0, len(sources))
	for _, s := range sources {
		specs = append(specs, project.Source{Name: s.Name, URL: s.URL, Proxy: s.Proxy})
	}
	return l.SourceGroup(specs)
}

func (l *Locker) buildSource(s project.Source) (source.Source, error) {
	if strings.HasPrefix(s.URL, "http://") || strings.HasPrefix(s.URL, "https://") {
		return source.NewRemoteSource(source.RemoteConfig{
			Name:       s.Name,
			URL:        s.URL,
			Priority:   s.Priority,
			Client:     l.Client,
			IndexCache: l.IndexCache,
			CacheRoot:  l.CacheRoot,
			Logger:     l.Logger,
		})
	}
	return source.NewLocalSource(source.LocalConfig{
		Name:      s.Name,
		Path:      strings.TrimPrefix(s.URL, "file://"),
		Priority:  s.Priority,
		CacheRoot: l.CacheRoot,
		Logger:    l.Logger,
	})
}

// RootFromProject builds the initial unresolved tree from the manifest's
// declared requirements across every category.
func RootFromProject(p *project.Project) *deptree.Node {
	var deps []*deptree.Node
	for _, category := range project.Categories {
		for _, d := range p.DependenciesForCategory(category) {
			switch {
			case d.VCS != nil:
				deps = append(deps, deptree.NewUnresolvedVCS(
					d.Name, "git", d.VCS.Git, d.VCS.Branch, category))
			default:
				deps = append(deps, deptree.NewUnresolvedConstrained(
					d.Name, d.Constraint, category))
			}
		}
	}
	return deptree.NewRoot(deps...)
}
