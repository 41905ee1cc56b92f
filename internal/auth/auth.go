package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/openmined/gdmirror/internal/remote"
)

// Authenticator logs into the S3 remote on demand.
type Authenticator struct {
	CredentialsFile string
	TokenFile       string
}

var _ remote.Authenticator = (*Authenticator)(nil)

func (a *Authenticator) Authenticate(ctx context.Context) (remote.Storage, error) {
	return Authenticate(ctx, a.CredentialsFile, a.TokenFile)
}

// Authenticate reads the credentials, reuses a cached session token when one
// is stored for the same bucket, checks the bucket is reachable and records
// the login in the token store.
func Authenticate(ctx context.Context, credentialsFile, tokenFile string) (*remote.S3Storage, error) {
	creds, err := LoadCredentials(credentialsFile)
	if err != nil {
		return nil, err
	}

	store := NewTokenStore(tokenFile)
	cached, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if creds.SessionToken == "" && cached != nil && cached.Bucket == creds.Bucket {
		creds.SessionToken = cached.SessionToken
	}

	client, err := newS3Client(ctx, creds)
	if err != nil {
		return nil, err
	}

	storage := remote.NewS3Storage(client, creds.Bucket)
	if err := storage.Probe(ctx); err != nil {
		return nil, fmt.Errorf("probe bucket %s: %w", creds.Bucket, err)
	}

	tok := &Token{
		Bucket:          creds.Bucket,
		Region:          creds.Region,
		Endpoint:        creds.Endpoint,
		SessionToken:    creds.SessionToken,
		AuthenticatedAt: time.Now().UTC(),
	}
	if err := store.Save(ctx, tok); err != nil {
		return nil, err
	}

	slog.Info("authenticated", "bucket", creds.Bucket, "region", creds.Region, "endpoint", creds.Endpoint)
	return storage, nil
}

func newS3Client(ctx context.Context, creds *Credentials) (*s3.Client, error) {
	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          20,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ForceAttemptHTTP2:     true,
		},
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(creds.AccessKey, creds.SecretKey, creds.SessionToken),
		),
		config.WithRegion(creds.Region),
		config.WithHTTPClient(httpClient),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if creds.Endpoint != "" {
			o.BaseEndpoint = aws.String(creds.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}
