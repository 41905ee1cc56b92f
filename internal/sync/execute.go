package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/openmined/gdmirror/internal/entity"
	"github.com/openmined/gdmirror/internal/record"
	"github.com/openmined/gdmirror/internal/utils"
)

// errSkipped marks a task that ran into a non-fatal condition and did nothing.
var errSkipped = errors.New("skipped")

// Report counts task outcomes per type.
type Report struct {
	Executed map[TaskType]int `yaml:"executed"`
	Failed   map[TaskType]int `yaml:"failed"`
	Skipped  map[TaskType]int `yaml:"skipped"`
	// Unsettled counts changes left for a later run: failed tasks, skipped
	// conflicts and remote entities the check could not place.
	Unsettled int `yaml:"unsettled,omitempty"`
}

func newReport() *Report {
	return &Report{
		Executed: map[TaskType]int{},
		Failed:   map[TaskType]int{},
		Skipped:  map[TaskType]int{},
	}
}

// Settled reports whether every observed change was either applied or
// deliberately left alone. Change feed positions only move past settled runs.
func (r *Report) Settled() bool {
	return r.Unsettled == 0
}

func (r *Report) Total(m map[TaskType]int) int {
	n := 0
	for _, v := range m {
		n += v
	}
	return n
}

// Execute runs the queued tasks in order. The session is authenticated once,
// and only if at least one task needs it. A failing task is logged and the
// batch continues; only authentication failure is returned.
func (e *Engine) Execute(ctx context.Context) (*Report, error) {
	report := newReport()
	tasks := e.exec.Items()
	if len(tasks) == 0 {
		return report, nil
	}

	actionable := 0
	for _, t := range tasks {
		if t.Type.Actionable() {
			actionable++
		}
	}
	if actionable > 0 {
		if err := e.session.Authenticate(ctx); err != nil {
			utils.Critical("authentication failed", "error", err)
			return report, err
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		t, ok := e.exec.Dequeue()
		if !ok {
			break
		}

		err := e.runTask(ctx, t)
		switch {
		case err == nil:
			report.Executed[t.Type]++
		case errors.Is(err, errSkipped):
			report.Skipped[t.Type]++
			if t.Type == TaskConflict {
				report.Unsettled++
			}
		default:
			report.Failed[t.Type]++
			report.Unsettled++
			slog.Error("task failed", "task", t.Type, "entity", entity.String(t.Entity), "error", err)
		}
	}
	return report, nil
}

// runTask is the per-task failure boundary.
func (e *Engine) runTask(ctx context.Context, t *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			slog.Error("task panicked", "task", t.Type, "entity", entity.String(t.Entity), "stack", string(debug.Stack()))
		}
	}()

	switch t.Type {
	case TaskCreate:
		return e.create(ctx, t)
	case TaskLoad:
		return e.load(ctx, t)
	case TaskUpdate:
		return e.update(ctx, t)
	case TaskDelete:
		return e.delete(ctx, t)
	case TaskConflict:
		return e.conflict(ctx, t)
	case TaskNoChange:
		return e.adopt(t)
	}
	return fmt.Errorf("unknown task type %v", t.Type)
}

func (e *Engine) create(ctx context.Context, t *Task) error {
	m, err := e.store.CalculateMirror(t.Entity)
	if err != nil {
		return err
	}
	if err := m.CreateDir(ctx); err != nil {
		if errors.Is(err, entity.ErrNameCollision) {
			slog.Warn("directory name collision", "path", m.Path(), "error", err)
			return errSkipped
		}
		return err
	}
	slog.Info("created directory", "path", m.Path(), "from", entity.String(t.Entity))
	return e.addBoth(t.Entity, m)
}

func (e *Engine) load(ctx context.Context, t *Task) error {
	m, err := e.store.CalculateMirror(t.Entity)
	if err != nil {
		return err
	}
	if err := t.Entity.UploadOrDownload(ctx, m); err != nil {
		if errors.Is(err, entity.ErrNameCollision) {
			slog.Warn("file name collision", "path", m.Path(), "error", err)
			return errSkipped
		}
		return err
	}
	return e.addBoth(t.Entity, m)
}

// update pushes the changed side over its mirror, but only when the entity
// is strictly newer than its own record. The counterpart is not re-checked.
func (e *Engine) update(ctx context.Context, t *Task) error {
	m, err := e.store.GetMirror(t.Entity)
	if err != nil {
		return err
	}
	stored, err := e.store.GetFileAsDB(t.Entity)
	if err != nil {
		return err
	}
	if stored == nil {
		return fmt.Errorf("%s: record vanished", entity.String(t.Entity))
	}

	if !t.Entity.ModifiedTime().After(stored.ModifiedTime()) {
		slog.Info("change not newer than record, leaving mirror", "entity", entity.String(t.Entity),
			"modified", t.Entity.ModifiedTime(), "recorded", stored.ModifiedTime())
		return errSkipped
	}

	if err := e.store.SetStatus(t.Entity, record.StatusModified); err != nil {
		return err
	}
	if err := t.Entity.Update(ctx, m); err != nil {
		return err
	}
	return e.updateBoth(t.Entity, m)
}

// delete propagates a removal to the mirror, then soft-deletes both records.
func (e *Engine) delete(ctx context.Context, t *Task) error {
	if err := e.store.SetStatus(t.Entity, record.StatusQueued); err != nil {
		return err
	}

	m, err := e.store.CalculateMirror(t.Entity)
	if err != nil {
		return err
	}
	if stored, err := e.store.GetFileAsDB(m); err != nil {
		return err
	} else if stored != nil {
		if err := stored.Remove(ctx); err != nil {
			return err
		}
		if err := e.store.Remove(stored); err != nil {
			return err
		}
	}

	if err := e.store.Remove(t.Entity); err != nil {
		return err
	}
	slog.Info("deleted", "entity", entity.String(t.Entity), "mirror", m.Path())
	return nil
}

func (e *Engine) conflict(ctx context.Context, t *Task) error {
	if t.Counterpart == nil {
		return fmt.Errorf("conflict without counterpart")
	}
	c := &Conflict{Local: t.Entity, Remote: t.Counterpart}
	if t.Entity.IsRemote() {
		c.Local, c.Remote = t.Counterpart, t.Entity
	}

	choice, err := e.resolver.Resolve(ctx, c)
	if err != nil {
		return fmt.Errorf("resolve conflict: %w", err)
	}

	var winner, loser entity.Entity
	switch choice {
	case ResolveKeepLocal:
		winner, loser = c.Local, c.Remote
	case ResolveKeepRemote:
		winner, loser = c.Remote, c.Local
	default:
		slog.Warn("conflict skipped", "local", c.Local.Path(), "remote", c.Remote.Path())
		return errSkipped
	}

	for _, side := range []entity.Entity{c.Local, c.Remote} {
		if err := e.store.SetStatus(side, record.StatusModified); err != nil {
			return err
		}
	}
	if err := winner.Update(ctx, loser); err != nil {
		return err
	}
	slog.Info("conflict resolved", "choice", choice, "path", winner.Path())
	return e.updateBoth(winner, loser)
}

// adopt records a pair both sides already agree on. Nothing is transferred.
// A pair removed on both sides is soft-deleted.
func (e *Engine) adopt(t *Task) error {
	if t.Counterpart == nil || !t.Entity.SameAs(t.Counterpart) {
		return nil
	}
	if t.Entity.Trashed() {
		for _, side := range []entity.Entity{t.Entity, t.Counterpart} {
			if err := e.store.Remove(side); err != nil {
				return err
			}
		}
		utils.Trace("removed on both sides", "entity", entity.String(t.Entity))
		return nil
	}
	return e.updateBoth(t.Entity, t.Counterpart)
}

func (e *Engine) addBoth(a, b entity.Entity) error {
	for _, side := range []entity.Entity{a, b} {
		if _, err := e.store.Add(side); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) updateBoth(a, b entity.Entity) error {
	for _, side := range []entity.Entity{a, b} {
		if err := e.store.Update(side); err != nil {
			return err
		}
	}
	return nil
}
