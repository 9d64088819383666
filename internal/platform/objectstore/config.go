// Package objectstore configures the S3-compatible store holding package
// and input-file content, keyed by content hash.
package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/SecurityAnalysts/reproserver/internal/platform/env"
)

type Config struct {
	Endpoint          string
	AccessKey         string
	SecretKey         string
	Region            string
	UseSSL            bool
	BucketExperiments string
	BucketInputs      string
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("REPROSERVER_S3_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:          env.String("REPROSERVER_S3_ENDPOINT", "localhost:9000"),
		AccessKey:         env.String("REPROSERVER_S3_ACCESS_KEY", "reproserver"),
		SecretKey:         env.String("REPROSERVER_S3_SECRET_KEY", "reproserver"),
		Region:            env.String("REPROSERVER_S3_REGION", "us-east-1"),
		UseSSL:            useSSL,
		BucketExperiments: env.String("REPROSERVER_S3_BUCKET_EXPERIMENTS", "experiments"),
		BucketInputs:      env.String("REPROSERVER_S3_BUCKET_INPUTS", "inputs"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("region is required")
	}
	if strings.TrimSpace(c.BucketExperiments) == "" {
		return errors.New("experiments bucket is required")
	}
	if strings.TrimSpace(c.BucketInputs) == "" {
		return errors.New("inputs bucket is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	return nil
}
