package archive

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	Secure    bool
	URLTTL    time.Duration
}

// S3Publisher uploads finished archives and returns presigned download links.
// Objects are meant to be removed by a bucket lifecycle rule.
type S3Publisher struct {
	client *minio.Client
	bucket string
	ttl    time.Duration
	now    func() time.Time
}

func NewS3Publisher(ctx context.Context, cfg S3Config) (*S3Publisher, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init S3 client: %w", err)
	}

	// проверим, что бакет существует
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket %q does not exist", cfg.Bucket)
	}

	ttl := cfg.URLTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &S3Publisher{client: client, bucket: cfg.Bucket, ttl: ttl, now: time.Now}, nil
}

// Publish загружает архив и возвращает временную ссылку на скачивание.
func (p *S3Publisher) Publish(ctx context.Context, key string, b *Bundle) (string, time.Time, error) {
	r, err := b.Reader()
	if err != nil {
		return "", time.Time{}, err
	}

	_, err = p.client.PutObject(ctx, p.bucket, key, r, b.Size, minio.PutObjectOptions{
		ContentType:  "application/zip",
		UserMetadata: map[string]string{"uploaded-at": p.now().Format(time.RFC3339)},
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("upload failed: %w", err)
	}

	params := url.Values{}
	params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", DownloadName))

	u, err := p.client.PresignedGetObject(ctx, p.bucket, key, p.ttl, params)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("presign failed: %w", err)
	}
	return u.String(), p.now().Add(p.ttl), nil
}

// ObjectKey is the bucket path of a job's archive.
func ObjectKey(jobID string, at time.Time) string {
	return fmt.Sprintf("archives/%s/%s/%s", at.UTC().Format("2006-01-02"), jobID, DownloadName)
}
