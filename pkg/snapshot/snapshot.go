// Package snapshot uploads debug screenshots captured at labeled points
// of a posting attempt to an S3-compatible object store.
//
// Uploads are fire-and-forget: a failed upload is logged and dropped,
// never surfaced to the attempt that produced the screenshot.
package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/entrhq/xpost/pkg/logging"
)

var snapLog *logging.Logger

func init() {
	var err error
	snapLog, err = logging.NewLogger("snapshot")
	if err != nil {
		snapLog.Warnf("Failed to initialize snapshot logger, using stderr fallback: %v", err)
	}
}

// Options configures the uploader's target bucket.
type Options struct {
	Bucket   string
	Region   string
	Endpoint string // non-empty for S3-compatible stores (minio etc.)
	Prefix   string
}

// Uploader stores screenshots under <prefix>/<label>_<unix-ms>.png.
type Uploader struct {
	uploader *manager.Uploader
	bucket   string
	prefix   string
	now      func() time.Time
}

// NewUploader configures an uploader targeting the provided object store.
func NewUploader(ctx context.Context, opts Options) (*Uploader, error) {
	if strings.TrimSpace(opts.Bucket) == "" {
		return nil, fmt.Errorf("snapshot: bucket is required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}
	if strings.TrimSpace(opts.Endpoint) != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:           opts.Endpoint,
					SigningRegion: opts.Region,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		loadOpts = append(loadOpts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	return &Uploader{
		uploader: manager.NewUploader(client, func(u *manager.Uploader) {
			u.LeavePartsOnError = false
		}),
		bucket: opts.Bucket,
		prefix: strings.Trim(opts.Prefix, "/"),
		now:    time.Now,
	}, nil
}

// Capture implements browser.Checkpoint. The upload runs in the calling
// goroutine but failure never propagates; debug artifacts are best
// effort by definition.
func (u *Uploader) Capture(ctx context.Context, png []byte, label string) {
	key := u.key(label)
	_, err := u.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(png),
		ContentType: aws.String("image/png"),
	})
	if err != nil {
		snapLog.Warnf("Snapshot upload %s failed: %v", key, err)
		return
	}
	snapLog.Debugf("Snapshot uploaded: %s", key)
}

func (u *Uploader) key(label string) string {
	name := fmt.Sprintf("%s_%d.png", sanitizeLabel(label), u.now().UnixMilli())
	if u.prefix == "" {
		return name
	}
	return u.prefix + "/" + name
}

// sanitizeLabel keeps labels key-safe without losing readability.
func sanitizeLabel(label string) string {
	if label == "" {
		return "snapshot"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, label)
}
