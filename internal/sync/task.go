package sync

import (
	"fmt"

	"github.com/openmined/gdmirror/internal/entity"
)

type TaskType int

const (
	TaskNoChange TaskType = iota
	TaskCreate
	TaskLoad
	TaskUpdate
	TaskDelete
	TaskConflict
)

var taskNames = map[TaskType]string{
	TaskNoChange: "no-change",
	TaskCreate:   "create",
	TaskLoad:     "load",
	TaskUpdate:   "update",
	TaskDelete:   "delete",
	TaskConflict: "conflict",
}

func (t TaskType) String() string {
	if s, ok := taskNames[t]; ok {
		return s
	}
	return fmt.Sprintf("task(%d)", int(t))
}

func (t TaskType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Actionable reports whether the task needs remote access or changes data.
func (t TaskType) Actionable() bool {
	return t != TaskNoChange
}

// Task is one classified change. Counterpart is the other side of the same
// logical item reported in the same batch, if any.
type Task struct {
	Type        TaskType
	Entity      entity.Entity
	Counterpart entity.Entity
}

func (t *Task) String() string {
	if t.Counterpart != nil {
		return fmt.Sprintf("%s %s <> %s", t.Type, entity.String(t.Entity), entity.String(t.Counterpart))
	}
	return fmt.Sprintf("%s %s", t.Type, entity.String(t.Entity))
}

// PlanItem is the printable form of a task.
type PlanItem struct {
	Task        TaskType `yaml:"task"`
	Kind        string   `yaml:"kind"`
	Path        string   `yaml:"path"`
	Dir         bool     `yaml:"dir,omitempty"`
	Counterpart string   `yaml:"counterpart,omitempty"`
}

func (t *Task) PlanItem() PlanItem {
	dir, _ := t.Entity.IsDir()
	item := PlanItem{
		Task: t.Type,
		Kind: string(t.Entity.Kind()),
		Path: t.Entity.Path(),
		Dir:  dir,
	}
	if t.Counterpart != nil {
		item.Counterpart = t.Counterpart.Path()
	}
	return item
}
