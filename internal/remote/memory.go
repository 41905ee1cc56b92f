package remote

import (
	"bytes"
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const memoryPageSize = 100

type memoryObject struct {
	Object
	data []byte
}

// MemoryStorage is a complete in-process Storage. Change tokens are
// positions in its mutation log.
type MemoryStorage struct {
	mu      sync.RWMutex
	objects map[string]*memoryObject
	log     []string
	// Now stamps modification times.
	Now func() time.Time
}

var _ Storage = (*MemoryStorage)(nil)

func NewMemoryStorage() *MemoryStorage {
	m := &MemoryStorage{
		objects: make(map[string]*memoryObject),
		Now:     func() time.Time { return time.Now().UTC() },
	}
	m.objects[RootID] = &memoryObject{Object: Object{
		ID:       RootID,
		Name:     "",
		MimeType: FolderMimeType,
	}}
	return m
}

func (m *MemoryStorage) Get(_ context.Context, id string) (*Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[id]
	if !ok {
		return nil, ErrNotFound
	}
	return obj.snapshot(), nil
}

func (m *MemoryStorage) List(_ context.Context, parentID, pageToken string) (*Page, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	parent, ok := m.objects[parentID]
	if !ok {
		return nil, ErrNotFound
	}
	if !parent.IsFolder() {
		return nil, ErrNotAFolder
	}

	var children []*Object
	for _, obj := range m.objects {
		if !obj.Trashed && slices.Contains(obj.Parents, parentID) {
			children = append(children, obj.snapshot())
		}
	}
	slices.SortFunc(children, func(a, b *Object) int { return strings.Compare(a.Name, b.Name) })

	start := 0
	if pageToken != "" {
		n, err := strconv.Atoi(pageToken)
		if err != nil || n < 0 || n > len(children) {
			return nil, fmt.Errorf("bad page token %q", pageToken)
		}
		start = n
	}
	end := min(start+memoryPageSize, len(children))

	page := &Page{Objects: children[start:end]}
	if end < len(children) {
		page.NextPageToken = strconv.Itoa(end)
	}
	return page, nil
}

func (m *MemoryStorage) Lookup(ctx context.Context, absPath string) (*Object, error) {
	return lookupByWalk(ctx, m, absPath)
}

func (m *MemoryStorage) CreateFolder(_ context.Context, parentID, name string) (*Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkParent(parentID); err != nil {
		return nil, err
	}
	obj := &memoryObject{Object: Object{
		ID:           uuid.NewString(),
		Name:         name,
		Parents:      []string{parentID},
		MimeType:     FolderMimeType,
		ModifiedTime: m.Now(),
	}}
	m.put(obj)
	return obj.snapshot(), nil
}

func (m *MemoryStorage) Upload(_ context.Context, params *UploadParams) (*Object, error) {
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkParent(params.ParentID); err != nil {
		return nil, err
	}
	obj := &memoryObject{Object: Object{
		ID:       uuid.NewString(),
		Name:     params.Name,
		Parents:  []string{params.ParentID},
		MimeType: params.MimeType,
	}}
	m.setData(obj, data)
	m.put(obj)
	return obj.snapshot(), nil
}

func (m *MemoryStorage) Update(_ context.Context, id string, body io.Reader, _ int64) (*Object, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[id]
	if !ok {
		return nil, ErrNotFound
	}
	m.setData(obj, data)
	m.put(obj)
	return obj.snapshot(), nil
}

func (m *MemoryStorage) Download(_ context.Context, id string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[id]
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(slices.Clone(obj.data))), nil
}

// Trash marks the object trashed, and with a folder everything below it, as
// the S3 backend does by moving the whole prefix. Trashed objects are gone
// from the live tree, so trashing one again reports ErrNotFound.
func (m *MemoryStorage) Trash(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[id]
	if !ok || obj.Trashed {
		return ErrNotFound
	}
	if id == RootID {
		return fmt.Errorf("trash: refusing to trash the root")
	}
	m.trash(obj)
	if !obj.IsFolder() {
		return nil
	}
	for _, o := range m.objects {
		if !o.Trashed && m.under(o, id) {
			m.trash(o)
		}
	}
	return nil
}

func (m *MemoryStorage) trash(obj *memoryObject) {
	obj.Trashed = true
	obj.ModifiedTime = m.Now()
	m.put(obj)
}

// under reports whether folderID is an ancestor of obj. Caller holds the lock.
func (m *MemoryStorage) under(obj *memoryObject, folderID string) bool {
	for depth := 0; len(obj.Parents) > 0 && depth < 256; depth++ {
		pid := obj.Parents[0]
		if pid == folderID {
			return true
		}
		parent, ok := m.objects[pid]
		if !ok {
			return false
		}
		obj = parent
	}
	return false
}

func (m *MemoryStorage) StartChangeToken(context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return strconv.Itoa(len(m.log)), nil
}

// Changes returns the latest state of every object mutated after token.
func (m *MemoryStorage) Changes(_ context.Context, token string) (*ChangeSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pos, err := strconv.Atoi(token)
	if err != nil || pos < 0 || pos > len(m.log) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidToken, token)
	}

	seen := make(map[string]bool)
	set := &ChangeSet{NextToken: strconv.Itoa(len(m.log))}
	for _, id := range m.log[pos:] {
		if seen[id] {
			continue
		}
		seen[id] = true
		set.Objects = append(set.Objects, m.objects[id].snapshot())
	}
	return set, nil
}

// Content returns the stored bytes of a file, for inspection.
func (m *MemoryStorage) Content(id string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[id]
	if !ok {
		return nil, false
	}
	return slices.Clone(obj.data), true
}

func (m *MemoryStorage) checkParent(parentID string) error {
	parent, ok := m.objects[parentID]
	if !ok {
		return fmt.Errorf("parent %s: %w", parentID, ErrNotFound)
	}
	if !parent.IsFolder() {
		return ErrNotAFolder
	}
	return nil
}

func (m *MemoryStorage) setData(obj *memoryObject, data []byte) {
	obj.data = data
	obj.Size = int64(len(data))
	obj.MD5 = fmt.Sprintf("%x", md5.Sum(data))
	obj.ModifiedTime = m.Now()
}

// put stores obj and appends it to the change log. Caller holds the lock.
func (m *MemoryStorage) put(obj *memoryObject) {
	m.objects[obj.ID] = obj
	m.log = append(m.log, obj.ID)
}

func (o *memoryObject) snapshot() *Object {
	cp := o.Object
	cp.Parents = slices.Clone(o.Parents)
	return &cp
}
