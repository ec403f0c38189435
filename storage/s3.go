package storage

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/saiset-co/sai-zap/types"
	"github.com/saiset-co/sai-zap/utils"
)

type S3Config struct {
	Endpoint     string `json:"endpoint"`
	Region       string `json:"region"`
	Bucket       string `json:"bucket"`
	AccessKey    string `json:"access_key"`
	SecretKey    string `json:"secret_key"`
	SessionToken string `json:"session_token"`
	Secure       bool   `json:"secure"`
	Prefix       string `json:"prefix"`
}

type S3Store struct {
	client *minio.Client
	config *S3Config
}

func NewS3Store(_ context.Context, config interface{}) (*S3Store, error) {
	s3Config := &S3Config{
		Endpoint: "s3.amazonaws.com",
		Region:   os.Getenv("AWS_REGION"),
		Secure:   true,
	}

	if config != nil {
		if err := utils.UnmarshalConfig(config, s3Config); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal s3 storage config")
		}
	}

	if s3Config.Bucket == "" {
		return nil, types.Errorf(types.ErrStorageConfigInvalid, "s3 bucket is required")
	}

	client, err := minio.New(s3Config.Endpoint, &minio.Options{
		Creds:  s3Credentials(s3Config),
		Secure: s3Config.Secure,
		Region: s3Config.Region,
	})
	if err != nil {
		return nil, types.WrapError(err, "s3 client")
	}

	return &S3Store{client: client, config: s3Config}, nil
}

// s3Credentials prefers static keys from config and otherwise resolves the
// standard AWS environment, then the instance role.
func s3Credentials(config *S3Config) *credentials.Credentials {
	if config.AccessKey != "" {
		return credentials.NewStaticV4(config.AccessKey, config.SecretKey, config.SessionToken)
	}

	return credentials.NewChainCredentials([]credentials.Provider{
		&credentials.EnvAWS{},
		&credentials.IAM{Client: &http.Client{Transport: http.DefaultTransport}},
	})
}

func (s *S3Store) objectName(key string) string {
	if s.config.Prefix == "" {
		return key
	}
	return strings.TrimSuffix(s.config.Prefix, "/") + "/" + key
}

func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	obj, err := s.client.GetObject(ctx, s.config.Bucket, s.objectName(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, s.mapError(key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.mapError(key, err)
	}

	return data, nil
}

func (s *S3Store) Put(ctx context.Context, key string, data []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}

	_, err := s.client.PutObject(ctx, s.config.Bucket, s.objectName(key), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/javascript"})

	return types.WrapError(err, "failed to put object")
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	err := s.client.RemoveObject(ctx, s.config.Bucket, s.objectName(key), minio.RemoveObjectOptions{})
	return types.WrapError(err, "failed to delete object")
}

func (s *S3Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	base := s.objectName("")
	for info := range s.client.ListObjects(ctx, s.config.Bucket, minio.ListObjectsOptions{
		Prefix:    base + prefix,
		Recursive: true,
	}) {
		if info.Err != nil {
			return nil, types.WrapError(info.Err, "failed to list objects")
		}
		keys = append(keys, strings.TrimPrefix(info.Key, base))
	}

	return keys, nil
}

func (s *S3Store) mapError(key string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return types.Errorf(types.ErrObjectNotFound, "key: %s", key)
	}
	return types.WrapError(err, "failed to get object")
}
