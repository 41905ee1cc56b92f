package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/openmined/gdmirror/internal/entity"
	"github.com/openmined/gdmirror/internal/ignore"
	"github.com/openmined/gdmirror/internal/queue"
	"github.com/openmined/gdmirror/internal/record"
	"github.com/openmined/gdmirror/internal/utils"
)

var (
	ErrSyncAlreadyRunning = errors.New("sync already running")

	// ErrRecordStore marks failures of the record store. They stop a run.
	ErrRecordStore = errors.New("record store failure")
)

// Session is the lazily authenticated remote connection.
type Session interface {
	Authenticate(ctx context.Context) error
}

// Engine classifies candidate entities into tasks, then executes them.
// Classification never touches the network or writes records.
type Engine struct {
	store    *record.Store
	session  Session
	ignore   *ignore.List
	resolver ConflictResolver

	check *queue.Queue[entity.Entity]
	exec  *queue.Queue[*Task]
	mu    sync.Mutex
}

type Option func(*Engine)

func WithIgnore(l *ignore.List) Option {
	return func(e *Engine) {
		e.ignore = l
	}
}

func WithResolver(r ConflictResolver) Option {
	return func(e *Engine) {
		e.resolver = r
	}
}

func NewEngine(store *record.Store, session Session, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		session:  session,
		ignore:   ignore.New(),
		resolver: SkipResolver{},
		check:    queue.NewKeyed(checkKey),
		exec:     queue.New[*Task](),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func checkKey(e entity.Entity) string {
	id := e.ID()
	if id == "" {
		id = "path:" + e.Path()
	}
	return string(e.Kind()) + ":" + id
}

// Add enqueues a candidate for classification. Duplicates of an
// (identifier, kind) pair and ignored paths are dropped.
func (e *Engine) Add(ent entity.Entity) bool {
	if rel, ok := e.store.RelPath(ent); ok && e.ignore.ShouldIgnore(rel) {
		utils.Trace("ignored", "entity", entity.String(ent))
		return false
	}
	if !e.check.Enqueue(ent) {
		utils.Trace("duplicate candidate", "entity", entity.String(ent))
		return false
	}
	return true
}

// Pending returns the tasks waiting for Execute.
func (e *Engine) Pending() []*Task {
	return e.exec.Items()
}

// CheckResult summarizes one check pass.
type CheckResult struct {
	Tasks    []*Task
	NoChange int
	Dropped  int
	Skipped  int
	// SkippedRemote counts skipped entities that came from the remote side.
	SkippedRemote int
}

// Actionable counts tasks other than no-change.
func (r *CheckResult) Actionable() int {
	n := 0
	for _, t := range r.Tasks {
		if t.Type.Actionable() {
			n++
		}
	}
	return n
}

// Check drains the check queue into the execute queue. Per-entity problems
// skip that entity; only record store failures are returned.
func (e *Engine) Check() (*CheckResult, error) {
	res := &CheckResult{}
	for {
		ent, ok := e.check.Dequeue()
		if !ok {
			break
		}

		task, err := e.classify(ent)
		if err != nil {
			if isEntityError(err) {
				slog.Warn("skipping entity", "entity", entity.String(ent), "error", err)
				res.Skipped++
				if ent.IsRemote() {
					res.SkippedRemote++
				}
				continue
			}
			return res, fmt.Errorf("%w: check %s: %w", ErrRecordStore, entity.String(ent), err)
		}
		if task == nil {
			res.Dropped++
			continue
		}

		if task.Type == TaskNoChange {
			res.NoChange++
		}
		utils.Trace("classified", "task", task.Type, "entity", entity.String(ent))
		e.exec.Enqueue(task)
		res.Tasks = append(res.Tasks, task)
	}
	e.check.Reset()

	slog.Info("check done", "tasks", len(res.Tasks), "actionable", res.Actionable(), "dropped", res.Dropped, "skipped", res.Skipped)
	return res, nil
}

func (e *Engine) classify(ent entity.Entity) (*Task, error) {
	if err := ent.ResolvePath(); err != nil {
		return nil, err
	}
	dir, err := ent.IsDir()
	if err != nil {
		return nil, err
	}
	if !e.store.InRoot(ent) {
		return nil, fmt.Errorf("%s: %w", ent.Path(), entity.ErrOutsideRoot)
	}

	stored, err := e.store.GetFileAsDB(ent)
	if err != nil {
		return nil, err
	}
	facts := Facts{
		Seen:    stored != nil,
		Trashed: ent.Trashed(),
		Dir:     dir,
	}
	facts.SignatureDiffers = facts.Seen && !ent.SameAs(stored)

	var qmirror entity.Entity
	if needsQMirror(facts.Seen, facts.SignatureDiffers) {
		qmirror, err = e.takeQMirror(ent)
		if err != nil {
			return nil, err
		}
		if qmirror != nil {
			facts.QMirror = true
			facts.QMirrorAgrees = ent.SameAs(qmirror)
		}
	}

	t, ok := Classify(facts)
	if !ok {
		return nil, nil
	}
	return &Task{Type: t, Entity: ent, Counterpart: qmirror}, nil
}

// takeQMirror removes and returns the queued counterpart at ent's mirror path.
func (e *Engine) takeQMirror(ent entity.Entity) (entity.Entity, error) {
	m, err := e.store.CalculateMirror(ent)
	if err != nil {
		return nil, err
	}
	q, ok := e.check.RemoveFirst(func(c entity.Entity) bool {
		if c.Kind() != m.Kind() || c.ResolvePath() != nil {
			return false
		}
		return c.Path() == m.Path()
	})
	if !ok {
		return nil, nil
	}
	return q, nil
}

// Run checks and then executes everything queued so far.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	if !e.mu.TryLock() {
		return nil, ErrSyncAlreadyRunning
	}
	defer e.mu.Unlock()

	start := time.Now()
	res, err := e.Check()
	if err != nil {
		return nil, err
	}
	report, err := e.Execute(ctx)
	report.Unsettled += res.SkippedRemote
	if err != nil {
		return report, err
	}
	slog.Info("sync done", "took", time.Since(start), "executed", report.Total(report.Executed),
		"failed", report.Total(report.Failed), "unsettled", report.Unsettled)
	return report, nil
}

func isEntityError(err error) bool {
	for _, target := range []error{
		entity.ErrPathNotResolved,
		entity.ErrParentNotFound,
		entity.ErrNotAFileSystemEntity,
		entity.ErrNotADirectory,
		entity.ErrIsADirectory,
		entity.ErrPathNotFound,
		entity.ErrTypeUnset,
		entity.ErrNameCollision,
		entity.ErrOutsideRoot,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
