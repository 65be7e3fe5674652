package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Provider uploads to an S3 bucket or an S3-compatible endpoint.
// Credentials come from AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY when both are
// set, otherwise from the default chain.
type S3Provider struct {
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string

	once     sync.Once
	uploader *manager.Uploader
	initErr  error
}

func (s *S3Provider) String() string { return "s3://" + s.Bucket + "/" + s.Prefix }

func (s *S3Provider) client(ctx context.Context) (*manager.Uploader, error) {
	s.once.Do(func() {
		opts := []func(*config.LoadOptions) error{}
		if s.Region != "" {
			opts = append(opts, config.WithRegion(s.Region))
		}
		id, secret := os.Getenv("AWS_ACCESS_KEY_ID"), os.Getenv("AWS_SECRET_ACCESS_KEY")
		if id != "" && secret != "" {
			opts = append(opts, config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(id, secret, os.Getenv("AWS_SESSION_TOKEN")),
			))
		}
		cfg, err := config.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			s.initErr = fmt.Errorf("%w: aws config: %w", ErrMissingCredential, err)
			return
		}
		if cfg.Region == "" {
			s.initErr = errors.New("s3 region is required")
			return
		}
		cli := s3.NewFromConfig(cfg, func(o *s3.Options) {
			if s.Endpoint != "" {
				o.BaseEndpoint = aws.String(s.Endpoint)
				o.UsePathStyle = true
			}
		})
		s.uploader = manager.NewUploader(cli)
	})
	return s.uploader, s.initErr
}

func (s *S3Provider) Upload(ctx context.Context, localPath, remotePath string) error {
	if s.Bucket == "" {
		return ErrMissingBucket
	}
	if err := requireUploadArgs(localPath, remotePath); err != nil {
		return err
	}
	up, err := s.client(ctx)
	if err != nil {
		return err
	}
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer f.Close()

	_, err = up.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.Bucket),
		Key:         aws.String(objectKey(s.Prefix, remotePath)),
		Body:        f,
		ContentType: aws.String(contentType(localPath)),
	})
	if err != nil {
		return fmt.Errorf("s3 upload: %w", err)
	}
	return nil
}
