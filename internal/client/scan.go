package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/openmined/gdmirror/internal/entity"
	"github.com/openmined/gdmirror/internal/remote"
	"github.com/openmined/gdmirror/internal/sync"
	"github.com/openmined/gdmirror/internal/utils"
	"golang.org/x/sync/errgroup"
)

// enumerate fills the engine's check queue. A full scan runs when asked, when
// the store is empty, or when no change token was ever saved.
func (c *Client) enumerate(ctx context.Context, full, dryRun bool) error {
	if !full {
		empty, err := c.store.IsEmpty()
		if err != nil {
			return storeErr(err)
		}
		full = empty || c.config.LastChangeToken == ""
	}

	if full {
		slog.Info("full scan", "local", c.store.LocalRoot(), "remote", c.store.RemoteRoot())
		return c.fullScan(ctx, dryRun)
	}
	slog.Info("incremental scan", "since", c.config.LastChangeToken)
	return c.incrementalScan(ctx)
}

func (c *Client) fullScan(ctx context.Context, dryRun bool) error {
	localRoot, err := c.env.StatLocal(c.store.LocalRoot())
	if err != nil {
		return err
	}
	if !localRoot.Exists() {
		return fmt.Errorf("%s: %w", localRoot.Path(), ErrLocalRootMissing)
	}

	var (
		token      string
		rootObj    *remote.Object
		remoteRoot *entity.Remote
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := localRoot.ListChildren(gctx, true); err != nil {
			return fmt.Errorf("walk local tree: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := c.session.Authenticate(gctx); err != nil {
			return err
		}
		// taken before listing so nothing changed during the listing is lost
		var err error
		if token, err = c.session.StartChangeToken(gctx); err != nil {
			return fmt.Errorf("start change token: %w", err)
		}
		if rootObj, err = c.remoteRoot(gctx, dryRun); err != nil {
			return err
		}
		remoteRoot = c.env.RemoteFromObject(rootObj, c.store.RemoteRoot())
		if err := remoteRoot.ListChildren(gctx, true); err != nil {
			return fmt.Errorf("walk remote tree: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	// local first: a file new on both sides becomes a local task with the
	// remote copy as its counterpart
	nLocal := c.addTree(localRoot)
	nRemote := c.addTree(remoteRoot)

	if !dryRun {
		for _, root := range []entity.Entity{localRoot, remoteRoot} {
			if _, err := c.store.Add(root); err != nil {
				return storeErr(err)
			}
		}
		c.config.RemoteRootID = rootObj.ID
		c.pendingToken = token
	}
	slog.Info("full scan enumerated", "local", nLocal, "remote", nRemote)
	return nil
}

func (c *Client) incrementalScan(ctx context.Context) error {
	localRoot, err := c.env.StatLocal(c.store.LocalRoot())
	if err != nil {
		return err
	}
	if err := localRoot.ListChildren(ctx, true); err != nil {
		return fmt.Errorf("walk local tree: %w", err)
	}

	added := 0
	err = walkTree(localRoot, func(e entity.Entity) error {
		known, err := c.store.FileExists(e)
		if err != nil {
			return storeErr(err)
		}
		if !known && c.engine.Add(e) {
			added++
		}
		return nil
	})
	if err != nil {
		return err
	}

	recorded, err := c.store.GetAllLocal()
	if err != nil {
		return storeErr(err)
	}
	missing := 0
	for _, e := range recorded {
		if e.Path() == c.store.LocalRoot() {
			continue
		}
		if !e.Exists() {
			e.SetTrashed(true)
			missing++
		}
		c.engine.Add(e)
	}

	if err := c.session.Authenticate(ctx); err != nil {
		return err
	}
	set, err := c.session.Changes(ctx, c.config.LastChangeToken)
	if errors.Is(err, remote.ErrInvalidToken) {
		slog.Warn("change token rejected, falling back to full scan", "token", c.config.LastChangeToken)
		return c.fullScan(ctx, false)
	}
	if err != nil {
		return fmt.Errorf("remote changes: %w", err)
	}
	changed, err := c.addChanges(set.Objects)
	if err != nil {
		return err
	}
	c.pendingToken = set.NextToken

	slog.Info("incremental scan enumerated", "new_local", added, "missing_local", missing, "remote_changes", changed)
	return nil
}

// addChanges enqueues changed remote objects that live under the remote root.
// Paths come from records, or from parents reported in the same change set.
func (c *Client) addChanges(objs []*remote.Object) (int, error) {
	byID := make(map[string]*remote.Object, len(objs))
	for _, obj := range objs {
		byID[obj.ID] = obj
	}
	paths := make(map[string]string)

	var resolve func(id string, depth int) (string, error)
	resolve = func(id string, depth int) (string, error) {
		if p, ok := paths[id]; ok {
			return p, nil
		}
		if id == remote.RootID {
			return "/", nil
		}
		if p, ok, err := c.store.RecordPathByID(id); err != nil {
			return "", storeErr(err)
		} else if ok {
			return p, nil
		}
		obj, ok := byID[id]
		if !ok || len(obj.Parents) == 0 || depth > 64 {
			return "", nil
		}
		parent, err := resolve(obj.Parents[0], depth+1)
		if err != nil || parent == "" {
			return "", err
		}
		p := utils.JoinSlash(parent, obj.Name)
		paths[id] = p
		return p, nil
	}

	type change struct {
		obj  *remote.Object
		path string
	}
	var changes []change
	for _, obj := range objs {
		if obj.ID == c.config.RemoteRootID || obj.ID == remote.RootID {
			continue
		}
		p, err := resolve(obj.ID, 0)
		if err != nil {
			return 0, err
		}
		if p == "" {
			slog.Debug("remote change with unknown parent", "id", obj.ID, "name", obj.Name)
			continue
		}
		if p == c.store.RemoteRoot() || !utils.IsUnder(c.store.RemoteRoot(), p) {
			continue
		}
		changes = append(changes, change{obj: obj, path: p})
	}

	// parents first, so a new folder is created before its content lands
	sort.SliceStable(changes, func(i, j int) bool {
		return strings.Count(changes[i].path, "/") < strings.Count(changes[j].path, "/")
	})

	n := 0
	for _, ch := range changes {
		if c.engine.Add(c.env.RemoteFromObject(ch.obj, ch.path)) {
			n++
		}
	}
	return n, nil
}

// remoteRoot finds the remote root folder by cached ID or path. Outside a
// dry run a missing root is created.
func (c *Client) remoteRoot(ctx context.Context, dryRun bool) (*remote.Object, error) {
	if id := c.config.RemoteRootID; id != "" {
		obj, err := c.session.Get(ctx, id)
		if err == nil && obj.IsFolder() && !obj.Trashed {
			return obj, nil
		}
		if err != nil && !errors.Is(err, remote.ErrNotFound) {
			return nil, err
		}
		slog.Warn("cached remote root id is stale", "id", id)
	}

	rootPath := c.store.RemoteRoot()
	if rootPath == "/" {
		return c.session.Get(ctx, remote.RootID)
	}
	obj, err := c.session.Lookup(ctx, rootPath)
	if err == nil {
		if !obj.IsFolder() {
			return nil, fmt.Errorf("remote root %s: %w", rootPath, remote.ErrNotAFolder)
		}
		return obj, nil
	}
	if !errors.Is(err, remote.ErrNotFound) || dryRun {
		return nil, fmt.Errorf("remote root %s: %w", rootPath, err)
	}
	return c.createRemoteRoot(ctx, rootPath)
}

func (c *Client) createRemoteRoot(ctx context.Context, rootPath string) (*remote.Object, error) {
	parent, err := c.session.Get(ctx, remote.RootID)
	if err != nil {
		return nil, err
	}
	cur := "/"
	for _, seg := range splitSlash(rootPath) {
		cur = path.Join(cur, seg)
		obj, err := c.session.Lookup(ctx, cur)
		if errors.Is(err, remote.ErrNotFound) {
			obj, err = c.session.CreateFolder(ctx, parent.ID, seg)
			if err == nil {
				slog.Info("created remote folder", "path", cur)
			}
		}
		if err != nil {
			return nil, fmt.Errorf("remote root %s: %w", cur, err)
		}
		parent = obj
	}
	return parent, nil
}

// addTree enqueues every descendant of root and returns how many were taken.
func (c *Client) addTree(root entity.Entity) int {
	n := 0
	_ = walkTree(root, func(e entity.Entity) error {
		if c.engine.Add(e) {
			n++
		}
		return nil
	})
	return n
}

// walkTree visits the listed descendants of root, parents before children.
func walkTree(root entity.Entity, fn func(entity.Entity) error) error {
	for _, child := range root.Children() {
		if err := fn(child); err != nil {
			return err
		}
		if err := walkTree(child, fn); err != nil {
			return err
		}
	}
	return nil
}

func splitSlash(p string) []string {
	var out []string
	for _, seg := range strings.Split(p, "/") {
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

func storeErr(err error) error {
	return fmt.Errorf("%w: %w", sync.ErrRecordStore, err)
}
