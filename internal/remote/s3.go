package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dustin/go-humanize"
)

// TrashPrefix holds trashed objects, keyed by their original key.
const TrashPrefix = ".trash/"

// S3Storage maps the ID-addressed tree onto a bucket. An object ID is its
// key; folders are zero-byte "name/" markers. The change token is an
// RFC3339Nano timestamp and a change is any object modified after it.
type S3Storage struct {
	client *s3.Client
	bucket string
	retry  RetryConfig
}

var _ Storage = (*S3Storage)(nil)

func NewS3Storage(client *s3.Client, bucket string) *S3Storage {
	return &S3Storage{
		client: client,
		bucket: bucket,
		retry:  DefaultRetryConfig(),
	}
}

func (s *S3Storage) Bucket() string {
	return s.bucket
}

// Probe checks that the bucket is reachable with the configured credentials.
func (s *S3Storage) Probe(ctx context.Context) error {
	_, err := retryS3(ctx, s.retry, func() (*s3.HeadBucketOutput, error) {
		return s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &s.bucket})
	})
	return err
}

func (s *S3Storage) Get(ctx context.Context, id string) (*Object, error) {
	if id == RootID {
		return rootObject(), nil
	}
	if strings.HasSuffix(id, "/") {
		ok, err := s.prefixExists(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrNotFound
		}
		return folderObject(id, time.Time{}), nil
	}

	head, err := retryS3(ctx, s.retry, func() (*s3.HeadObjectOutput, error) {
		return s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &s.bucket, Key: &id})
	})
	if err != nil {
		return nil, err
	}
	return &Object{
		ID:           id,
		Name:         path.Base(id),
		Parents:      []string{parentID(id)},
		MimeType:     aws.ToString(head.ContentType),
		Size:         aws.ToInt64(head.ContentLength),
		MD5:          cleanETag(head.ETag),
		ModifiedTime: aws.ToTime(head.LastModified),
	}, nil
}

func (s *S3Storage) List(ctx context.Context, parentID, pageToken string) (*Page, error) {
	prefix := keyOf(parentID)
	input := &s3.ListObjectsV2Input{
		Bucket:    &s.bucket,
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	}
	if pageToken != "" {
		input.ContinuationToken = aws.String(pageToken)
	}

	out, err := retryS3(ctx, s.retry, func() (*s3.ListObjectsV2Output, error) {
		return s.client.ListObjectsV2(ctx, input)
	})
	if err != nil {
		return nil, err
	}

	page := &Page{}
	for _, cp := range out.CommonPrefixes {
		key := aws.ToString(cp.Prefix)
		if key == TrashPrefix {
			continue
		}
		page.Objects = append(page.Objects, folderObject(key, time.Time{}))
	}
	for _, obj := range out.Contents {
		key := aws.ToString(obj.Key)
		if key == prefix {
			continue // the folder's own marker
		}
		page.Objects = append(page.Objects, fileObject(obj))
	}
	if aws.ToBool(out.IsTruncated) {
		page.NextPageToken = aws.ToString(out.NextContinuationToken)
	}
	return page, nil
}

func (s *S3Storage) Lookup(ctx context.Context, absPath string) (*Object, error) {
	segs := splitPath(absPath)
	if len(segs) == 0 {
		return rootObject(), nil
	}
	key := strings.Join(segs, "/")
	obj, err := s.Get(ctx, key)
	if err == nil {
		return obj, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return s.Get(ctx, key+"/")
}

func (s *S3Storage) CreateFolder(ctx context.Context, parentID, name string) (*Object, error) {
	key := keyOf(parentID) + name + "/"
	_, err := retryS3(ctx, s.retry, func() (*s3.PutObjectOutput, error) {
		return s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        &s.bucket,
			Key:           &key,
			Body:          strings.NewReader(""),
			ContentLength: aws.Int64(0),
		})
	})
	if err != nil {
		return nil, err
	}
	return folderObject(key, time.Now().UTC()), nil
}

func (s *S3Storage) Upload(ctx context.Context, params *UploadParams) (*Object, error) {
	key := keyOf(params.ParentID) + params.Name
	return s.put(ctx, key, params.MimeType, params.Body, params.Size)
}

func (s *S3Storage) Update(ctx context.Context, id string, body io.Reader, size int64) (*Object, error) {
	if id == RootID || strings.HasSuffix(id, "/") {
		return nil, fmt.Errorf("update %s: is a folder", id)
	}
	return s.put(ctx, id, "", body, size)
}

// put uploads body under key. Retries only happen when body can be rewound.
func (s *S3Storage) put(ctx context.Context, key, mimeType string, body io.Reader, size int64) (*Object, error) {
	input := &s3.PutObjectInput{
		Bucket:        &s.bucket,
		Key:           &key,
		Body:          body,
		ContentLength: aws.Int64(size),
	}
	if mimeType != "" {
		input.ContentType = aws.String(mimeType)
	}

	cfg := s.retry
	seeker, canRewind := body.(io.Seeker)
	if !canRewind {
		cfg.MaxAttempts = 1
	}

	start := time.Now()
	out, err := retryS3(ctx, cfg, func() (*s3.PutObjectOutput, error) {
		if canRewind {
			if _, err := seeker.Seek(0, io.SeekStart); err != nil {
				return nil, err
			}
		}
		return s.client.PutObject(ctx, input)
	})
	if err != nil {
		return nil, err
	}
	slog.Debug("s3 put", "key", key, "size", humanize.Bytes(uint64(size)), "took", time.Since(start))

	return &Object{
		ID:           key,
		Name:         path.Base(key),
		Parents:      []string{parentID(key)},
		MimeType:     mimeType,
		Size:         size,
		MD5:          cleanETag(out.ETag),
		ModifiedTime: time.Now().UTC(),
	}, nil
}

func (s *S3Storage) Download(ctx context.Context, id string) (io.ReadCloser, error) {
	out, err := retryS3(ctx, s.retry, func() (*s3.GetObjectOutput, error) {
		return s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: &id})
	})
	if err != nil {
		return nil, err
	}
	return out.Body, nil
}

// Trash moves the object, or every object under a folder, below TrashPrefix.
func (s *S3Storage) Trash(ctx context.Context, id string) error {
	if id == RootID {
		return fmt.Errorf("trash: refusing to trash the root")
	}
	if !strings.HasSuffix(id, "/") {
		return s.moveToTrash(ctx, id)
	}

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: &s.bucket,
		Prefix: aws.String(id),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return translateS3Error(err)
		}
		for _, obj := range page.Contents {
			if err := s.moveToTrash(ctx, aws.ToString(obj.Key)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *S3Storage) moveToTrash(ctx context.Context, key string) error {
	dst := TrashPrefix + key
	_, err := retryS3(ctx, s.retry, func() (*s3.CopyObjectOutput, error) {
		return s.client.CopyObject(ctx, &s3.CopyObjectInput{
			Bucket:     &s.bucket,
			CopySource: aws.String(s.bucket + "/" + key),
			Key:        &dst,
		})
	})
	if err != nil {
		return err
	}
	_, err = retryS3(ctx, s.retry, func() (*s3.DeleteObjectOutput, error) {
		return s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &s.bucket, Key: &key})
	})
	return err
}

func (s *S3Storage) StartChangeToken(context.Context) (string, error) {
	return time.Now().UTC().Format(time.RFC3339Nano), nil
}

func (s *S3Storage) Changes(ctx context.Context, token string) (*ChangeSet, error) {
	since, err := time.Parse(time.RFC3339Nano, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidToken, token)
	}
	next := time.Now().UTC().Format(time.RFC3339Nano)

	set := &ChangeSet{NextToken: next}
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{Bucket: &s.bucket})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, translateS3Error(err)
		}
		for _, obj := range page.Contents {
			if !aws.ToTime(obj.LastModified).After(since) {
				continue
			}
			key := aws.ToString(obj.Key)
			var changed *Object
			switch {
			case strings.HasPrefix(key, TrashPrefix):
				orig := strings.TrimPrefix(key, TrashPrefix)
				if strings.HasSuffix(orig, "/") {
					changed = folderObject(orig, aws.ToTime(obj.LastModified))
				} else {
					changed = fileObject(obj)
					changed.ID = orig
					changed.Name = path.Base(orig)
					changed.Parents = []string{parentID(orig)}
				}
				changed.Trashed = true
			case strings.HasSuffix(key, "/"):
				changed = folderObject(key, aws.ToTime(obj.LastModified))
			default:
				changed = fileObject(obj)
			}
			set.Objects = append(set.Objects, changed)
		}
	}
	return set, nil
}

func (s *S3Storage) prefixExists(ctx context.Context, prefix string) (bool, error) {
	out, err := retryS3(ctx, s.retry, func() (*s3.ListObjectsV2Output, error) {
		return s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:  &s.bucket,
			Prefix:  aws.String(prefix),
			MaxKeys: aws.Int32(1),
		})
	})
	if err != nil {
		return false, err
	}
	return len(out.Contents) > 0, nil
}

// retryS3 runs fn with backoff, treating everything but "not found" and
// context cancellation as transient.
func retryS3[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	return Retry(ctx, cfg, func() (T, error) {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		err = translateS3Error(err)
		if errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return v, err
		}
		return v, Retryable(err)
	})
}

func translateS3Error(err error) error {
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	var noBucket *types.NoSuchBucket
	switch {
	case errors.As(err, &noKey), errors.As(err, &notFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.As(err, &noBucket):
		return fmt.Errorf("bucket: %w", err)
	}
	return err
}

func keyOf(id string) string {
	if id == RootID {
		return ""
	}
	return id
}

// parentID returns the ID of the folder holding key.
func parentID(key string) string {
	dir := path.Dir(strings.TrimSuffix(key, "/"))
	if dir == "." || dir == "/" {
		return RootID
	}
	return dir + "/"
}

func rootObject() *Object {
	return &Object{ID: RootID, MimeType: FolderMimeType}
}

func folderObject(key string, modified time.Time) *Object {
	return &Object{
		ID:           key,
		Name:         path.Base(strings.TrimSuffix(key, "/")),
		Parents:      []string{parentID(key)},
		MimeType:     FolderMimeType,
		ModifiedTime: modified,
	}
}

func fileObject(obj types.Object) *Object {
	key := aws.ToString(obj.Key)
	return &Object{
		ID:           key,
		Name:         path.Base(key),
		Parents:      []string{parentID(key)},
		Size:         aws.ToInt64(obj.Size),
		MD5:          cleanETag(obj.ETag),
		ModifiedTime: aws.ToTime(obj.LastModified),
	}
}

func cleanETag(etag *string) string {
	return strings.ReplaceAll(aws.ToString(etag), "\"", "")
}
