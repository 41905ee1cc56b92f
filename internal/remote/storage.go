package remote

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

// RootID addresses the top of the remote tree.
const RootID = "root"

// FolderMimeType marks folder objects.
const FolderMimeType = "inode/directory"

var (
	ErrNotFound         = errors.New("remote object not found")
	ErrNotAuthenticated = errors.New("remote session not authenticated")
	ErrAuthFailed       = errors.New("remote authentication failed")
	ErrNotAFolder       = errors.New("remote object is not a folder")
	ErrInvalidToken     = errors.New("invalid change token")
)

// Object is the metadata of one remote file or folder.
type Object struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Parents      []string  `json:"parents"`
	MimeType     string    `json:"mimeType"`
	Size         int64     `json:"size"`
	MD5          string    `json:"md5"`
	ModifiedTime time.Time `json:"modifiedTime"`
	Trashed      bool      `json:"trashed"`
}

func (o *Object) IsFolder() bool {
	return o.MimeType == FolderMimeType
}

type Page struct {
	Objects       []*Object
	NextPageToken string
}

// ChangeSet is one poll of the change feed.
type ChangeSet struct {
	Objects   []*Object
	NextToken string
}

type UploadParams struct {
	ParentID string
	Name     string
	MimeType string
	Body     io.Reader
	Size     int64
}

// Storage is an ID-addressed remote tree. Listing excludes trashed objects.
type Storage interface {
	Get(ctx context.Context, id string) (*Object, error)
	List(ctx context.Context, parentID, pageToken string) (*Page, error)
	// Lookup resolves an absolute slash path ("/a/b") to an object.
	Lookup(ctx context.Context, absPath string) (*Object, error)
	CreateFolder(ctx context.Context, parentID, name string) (*Object, error)
	Upload(ctx context.Context, params *UploadParams) (*Object, error)
	Update(ctx context.Context, id string, body io.Reader, size int64) (*Object, error)
	Download(ctx context.Context, id string) (io.ReadCloser, error)
	Trash(ctx context.Context, id string) error
	StartChangeToken(ctx context.Context) (string, error)
	Changes(ctx context.Context, token string) (*ChangeSet, error)
}

// ListAll drains every page of a folder listing.
func ListAll(ctx context.Context, s Storage, parentID string) ([]*Object, error) {
	var out []*Object
	token := ""
	for {
		page, err := s.List(ctx, parentID, token)
		if err != nil {
			return nil, err
		}
		out = append(out, page.Objects...)
		if page.NextPageToken == "" {
			return out, nil
		}
		token = page.NextPageToken
	}
}

// lookupByWalk resolves a path one segment at a time through List.
func lookupByWalk(ctx context.Context, s Storage, absPath string) (*Object, error) {
	cur, err := s.Get(ctx, RootID)
	if err != nil {
		return nil, err
	}
	for _, seg := range splitPath(absPath) {
		children, err := ListAll(ctx, s, cur.ID)
		if err != nil {
			return nil, err
		}
		var next *Object
		for _, c := range children {
			if c.Name == seg {
				next = c
				break
			}
		}
		if next == nil {
			return nil, ErrNotFound
		}
		cur = next
	}
	return cur, nil
}

func splitPath(absPath string) []string {
	var segs []string
	for _, s := range strings.Split(absPath, "/") {
		if s != "" && s != "." {
			segs = append(segs, s)
		}
	}
	return segs
}
