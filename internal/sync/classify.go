package sync

// Facts are the observations the classifier decides on.
type Facts struct {
	Seen             bool // an active record exists
	SignatureDiffers bool // live entity differs from its record
	QMirror          bool // the counterpart was reported in the same batch
	QMirrorAgrees    bool
	Trashed          bool
	Dir              bool
}

// Classify maps facts to a task. ok is false when the entity is dropped.
// It is a pure function and covers every combination of facts.
func Classify(f Facts) (t TaskType, ok bool) {
	if !f.Seen {
		switch {
		case f.QMirror && f.QMirrorAgrees:
			return TaskNoChange, true
		case f.QMirror && f.Dir:
			return TaskNoChange, true
		case f.QMirror:
			return TaskConflict, true
		case f.Trashed:
			// never synced and already gone: nothing to propagate
			return TaskNoChange, false
		case f.Dir:
			return TaskCreate, true
		default:
			return TaskLoad, true
		}
	}

	if !f.SignatureDiffers {
		return TaskNoChange, false
	}

	switch {
	case f.QMirror && f.QMirrorAgrees:
		return TaskNoChange, true
	case f.QMirror && f.Dir:
		return TaskNoChange, true
	case f.QMirror:
		return TaskConflict, true
	case f.Trashed:
		return TaskDelete, true
	default:
		return TaskUpdate, true
	}
}

// needsQMirror reports whether the batch counterpart can change the outcome.
// Unchanged, already recorded entities are dropped without consuming it.
func needsQMirror(seen, differs bool) bool {
	return !seen || differs
}
