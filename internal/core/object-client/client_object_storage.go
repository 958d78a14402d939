package objectclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	cfg "github.com/markdave123-py/diagnovet/internal/config"
	"github.com/markdave123-py/diagnovet/internal/core"
	"github.com/markdave123-py/diagnovet/internal/core/apperr"
)

const (
	folderDocuments = "documents"
	folderImages    = "images"
)

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

type S3Client struct {
	client       *s3.Client
	presign      *s3.PresignClient
	bucket       string
	region       string
	endpoint     string
	publicBase   string
	root         string
	imageQuality int
	log          *zap.Logger
	now          func() time.Time
}

var _ core.ObjectClient = (*S3Client)(nil)

// NewS3Client connects to AWS S3, or to any S3-compatible store when S3_ENDPOINT is set.
// Static keys are used when configured, otherwise the default AWS credential chain.
func NewS3Client(ctx context.Context, sc cfg.StorageConfig, log *zap.Logger) (*S3Client, error) {
	if sc.Region == "" {
		return nil, fmt.Errorf("S3_REGION not set")
	}
	if sc.Bucket == "" {
		return nil, fmt.Errorf("S3 bucket name not set")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(sc.Region)}
	if sc.AccessKey != "" && sc.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(sc.AccessKey, sc.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := strings.TrimRight(sc.Endpoint, "/")
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	log.Info("storage.s3.connected", zap.String("bucket", sc.Bucket), zap.String("region", sc.Region))

	return &S3Client{
		client:       client,
		presign:      s3.NewPresignClient(client),
		bucket:       sc.Bucket,
		region:       sc.Region,
		endpoint:     endpoint,
		publicBase:   strings.TrimRight(sc.PublicBaseURL, "/"),
		root:         strings.Trim(sc.RootFolder, "/"),
		imageQuality: sc.ImageQuality,
		log:          log.Named("storage"),
		now:          time.Now,
	}, nil
}

// UploadReportFile stores a report file under <root>/documents or <root>/images.
// JPEG and PNG images are recompressed first when that makes them smaller.
func (c *S3Client) UploadReportFile(ctx context.Context, data []byte, originalName, contentType string) (*core.StoredObject, error) {
	folder := folderDocuments
	if strings.HasPrefix(contentType, "image/") {
		folder = folderImages
		data, contentType = optimizeImage(data, contentType, c.imageQuality)
	}
	key := objectKey(c.root, folder, originalName, c.now())

	uploader := manager.NewUploader(c.client)
	ctxUpload, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	_, err := uploader.Upload(ctxUpload, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return nil, apperr.ExternalAPI("Error al subir el archivo", fmt.Errorf("s3 upload failed: %w", err))
	}
	c.log.Debug("storage.upload", zap.String("key", key), zap.Int("bytes", len(data)))

	return &core.StoredObject{
		URL:         c.ObjectURL(key),
		Key:         key,
		ContentType: contentType,
		Size:        int64(len(data)),
	}, nil
}

func (c *S3Client) DeleteFile(ctx context.Context, key string) error {
	ctxDel, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err := c.client.DeleteObject(ctxDel, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return apperr.ExternalAPI("Error al eliminar el archivo", fmt.Errorf("s3 delete failed: %w", err))
	}
	return nil
}

func (c *S3Client) GetFile(ctx context.Context, key string) ([]byte, error) {
	ctxGet, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	resp, err := c.client.GetObject(ctxGet, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, apperr.ExternalAPI("Error al descargar el archivo", fmt.Errorf("s3 get failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.ExternalAPI("Error al descargar el archivo", fmt.Errorf("read body: %w", err))
	}
	return body, nil
}

// GetObjectReader streams an object. The deadline is released when the caller closes the body.
func (c *S3Client) GetObjectReader(ctx context.Context, key string) (io.ReadCloser, error) {
	ctxGet, cancel := context.WithTimeout(ctx, 2*time.Minute)

	resp, err := c.client.GetObject(ctxGet, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		cancel()
		return nil, apperr.ExternalAPI("Error al descargar el archivo", fmt.Errorf("s3 get failed: %w", err))
	}
	return &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}, nil
}

func (c *S3Client) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := c.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", apperr.ExternalAPI("Error al generar el enlace de descarga", err)
	}
	return req.URL, nil
}

// ObjectURL is the durable public URL of key.
func (c *S3Client) ObjectURL(key string) string {
	return publicURL(c.publicBase, c.endpoint, c.bucket, c.region, key)
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (r *cancelOnClose) Close() error {
	defer r.cancel()
	return r.ReadCloser.Close()
}

// objectKey builds <root>/<folder>/<unix millis>_<sanitized name>.
func objectKey(root, folder, originalName string, now time.Time) string {
	name := path.Base(strings.ReplaceAll(originalName, `\`, "/"))
	name = strings.Trim(unsafeKeyChars.ReplaceAllString(name, "_"), "_")
	if name == "" || name == "." {
		name = "file"
	}
	return path.Join(root, folder, fmt.Sprintf("%d_%s", now.UnixMilli(), name))
}

func publicURL(publicBase, endpoint, bucket, region, key string) string {
	switch {
	case publicBase != "":
		return publicBase + "/" + key
	case endpoint != "":
		return fmt.Sprintf("%s/%s/%s", endpoint, bucket, key)
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bucket, region, key)
	}
}
