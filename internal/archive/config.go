package archive

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Backend names accepted in Config.Type.
const (
	BackendNone   = "none"
	BackendBadger = "badger"
	BackendS3     = "s3"
)

// Config selects and configures one archive backend.
type Config struct {
	Type   string
	Badger BadgerOptions
	S3     S3Config
}

// S3Config configures the S3 backend. Keys are read from the named environment variables.
type S3Config struct {
	Bucket       string
	Prefix       string
	Region       string
	Endpoint     string
	PathStyle    bool
	AccessKeyEnv string
	SecretKeyEnv string
}

// Open builds the configured store. BackendNone yields a nil Store and no error.
func Open(config Config, logger *slog.Logger, getenv func(string) string) (Store, error) {
	switch config.Type {
	case "", BackendNone:
		return nil, nil
	case BackendBadger:
		options := config.Badger
		if options.Logger == nil {
			options.Logger = logger
		}
		store, err := OpenBadger(options)
		if err != nil {
			return nil, err
		}
		return store, nil
	case BackendS3:
		client, err := newS3Client(config.S3, getenv)
		if err != nil {
			return nil, fmt.Errorf("open s3 archive: %w", err)
		}
		store, err := NewS3(client, config.S3.Bucket, config.S3.Prefix)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("open archive: unknown type %q", config.Type)
	}
}

func newS3Client(config S3Config, getenv func(string) string) (*s3.Client, error) {
	if config.Region == "" {
		return nil, fmt.Errorf("region is required")
	}

	options := s3.Options{
		Region:       config.Region,
		UsePathStyle: config.PathStyle,
	}
	if config.Endpoint != "" {
		options.BaseEndpoint = aws.String(config.Endpoint)
	}
	if config.AccessKeyEnv != "" || config.SecretKeyEnv != "" {
		accessKey, secretKey := getenv(config.AccessKeyEnv), getenv(config.SecretKeyEnv)
		if accessKey == "" || secretKey == "" {
			return nil, fmt.Errorf("credentials: %s and %s must both be set", config.AccessKeyEnv, config.SecretKeyEnv)
		}
		options.Credentials = aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return aws.Credentials{AccessKeyID: accessKey, SecretAccessKey: secretKey, Source: "mimic-config"}, nil
		})
	}

	return s3.New(options), nil
}
