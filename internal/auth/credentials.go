package auth

import (
	"errors"
	"fmt"
	"os"

	"github.com/goccy/go-json"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// Credentials is the on-disk credentials file for an S3 compatible remote.
type Credentials struct {
	Endpoint     string `json:"endpoint,omitempty"`
	Region       string `json:"region"`
	Bucket       string `json:"bucket"`
	AccessKey    string `json:"access_key"`
	SecretKey    string `json:"secret_key"`
	SessionToken string `json:"session_token,omitempty"`
}

func LoadCredentials(path string) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parse credentials %s: %w", path, err)
	}
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	return &creds, nil
}

func (c *Credentials) Validate() error {
	switch {
	case c.Bucket == "":
		return fmt.Errorf("%w: bucket is required", ErrInvalidCredentials)
	case c.AccessKey == "" || c.SecretKey == "":
		return fmt.Errorf("%w: access_key and secret_key are required", ErrInvalidCredentials)
	}
	if c.Region == "" {
		c.Region = "us-east-1"
	}
	return nil
}
