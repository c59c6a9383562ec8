/*
Copyright The Polybackup Contributors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package blob

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// S3Options selects the bucket and the way to reach it. An empty endpoint
// means AWS proper; S3-compatible stores want their endpoint here and
// usually ForcePathStyle as well.
type S3Options struct {
	Bucket         string
	Region         string
	Endpoint       string
	AccessKey      string
	SecretKey      string
	ForcePathStyle bool
}

// S3Service stores blobs in an S3 bucket
type S3Service struct {
	bucket     string
	client     s3iface.S3API
	uploader   *s3manager.Uploader
	downloader *s3manager.Downloader
}

// NewS3 creates the S3 storage backend
func NewS3(options S3Options) (*S3Service, error) {
	if options.Bucket == "" {
		return nil, fmt.Errorf("no S3 bucket configured")
	}

	config := &aws.Config{
		Region:           aws.String(options.Region),
		S3ForcePathStyle: aws.Bool(options.ForcePathStyle),
	}
	if options.Endpoint != "" {
		config.Endpoint = aws.String(options.Endpoint)
	}
	if options.AccessKey != "" {
		config.Credentials = credentials.NewStaticCredentials(
			options.AccessKey, options.SecretKey, "")
	}

	sess, err := session.NewSession(config)
	if err != nil {
		return nil, fmt.Errorf("while creating S3 session: %w", err)
	}

	return &S3Service{
		bucket:     options.Bucket,
		client:     s3.New(sess),
		uploader:   s3manager.NewUploader(sess),
		downloader: s3manager.NewDownloader(sess),
	}, nil
}

// Upload copies a local file under the given key
func (s *S3Service) Upload(ctx context.Context, localPath, key string) error {
	file, err := os.Open(localPath) // #nosec
	if err != nil {
		return fmt.Errorf("while opening %s: %w", localPath, err)
	}
	defer func() {
		_ = file.Close()
	}()

	_, err = s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   file,
	})
	if err != nil {
		return fmt.Errorf("while uploading %s: %w", key, err)
	}
	return nil
}

// Download copies the blob at key into a local file
func (s *S3Service) Download(ctx context.Context, key, localPath string) error {
	file, err := os.OpenFile(localPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600) // #nosec
	if err != nil {
		return fmt.Errorf("while creating %s: %w", localPath, err)
	}
	defer func() {
		_ = file.Close()
	}()

	_, err = s.downloader.DownloadWithContext(ctx, file, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return fmt.Errorf("while downloading %s: %w", key, err)
	}
	return nil
}

// Delete removes the blob at key. Deleting a missing key is not an error.
func (s *S3Service) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("while deleting %s: %w", key, err)
	}
	return nil
}

// Exists tells whether a blob is stored at key
func (s *S3Service) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("while heading %s: %w", key, err)
	}
	return true, nil
}

// Size reports the stored size of the blob at key
func (s *S3Service) Size(ctx context.Context, key string) (int64, error) {
	head, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return 0, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return 0, fmt.Errorf("while heading %s: %w", key, err)
	}
	return aws.Int64Value(head.ContentLength), nil
}

// PresignDownload returns a time-limited URL for direct download
func (s *S3Service) PresignDownload(_ context.Context, key string, expiry time.Duration) (string, error) {
	request, _ := s.client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})

	url, err := request.Presign(expiry)
	if err != nil {
		return "", fmt.Errorf("while presigning %s: %w", key, err)
	}
	return url, nil
}

// isS3NotFound recognizes the error codes S3 answers for missing keys and
// buckets
func isS3NotFound(err error) bool {
	var awsErr awserr.Error
	if !errors.As(err, &awsErr) {
		return false
	}
	switch awsErr.Code() {
	case s3.ErrCodeNoSuchKey, s3.ErrCodeNoSuchBucket, "NotFound":
		return true
	default:
		return false
	}
}
