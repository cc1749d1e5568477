// Пакет objectstore — клиент S3-совместимого object store (MinIO).
// Хранит zip-архивы заявок; имя объекта — correlation id заявки.
package objectstore

import (
	"context"
	"crypto/md5" //nolint:gosec // контрольная сумма для SDES, не криптография
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/burns238/dms-submission/internal/config"
	"github.com/burns238/dms-submission/internal/domain/model"
)

// Client — интерфейс object store для сервисного слоя.
type Client interface {
	// Put загружает объект и возвращает сводку с MD5 (base64).
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (model.ObjectSummary, error)
	// Remove удаляет объект. Отсутствие объекта — не ошибка.
	Remove(ctx context.Context, key string) error
}

// MinioClient — реализация Client поверх MinIO/S3.
type MinioClient struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

// New создаёт клиент object store и убеждается, что bucket существует.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*MinioClient, error) {
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("создание minio-клиента: %w", err)
	}

	c := &MinioClient{
		client: client,
		bucket: cfg.S3Bucket,
		logger: logger.With(slog.String("component", "objectstore")),
	}

	if err := c.ensureBucket(ctx); err != nil {
		return nil, err
	}

	return c, nil
}

// ensureBucket создаёт bucket, если его ещё нет.
func (c *MinioClient) ensureBucket(ctx context.Context) error {
	exists, err := c.client.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("проверка bucket %q: %w", c.bucket, err)
	}
	if !exists {
		if err := c.client.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("создание bucket %q: %w", c.bucket, err)
		}
		c.logger.Info("Bucket создан", slog.String("bucket", c.bucket))
	}
	return nil
}

// Put загружает объект, считая MD5 на лету из потока данных.
func (c *MinioClient) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (model.ObjectSummary, error) {
	hasher := md5.New() //nolint:gosec // см. комментарий к импорту
	tee := io.TeeReader(r, hasher)

	info, err := c.client.PutObject(ctx, c.bucket, key, tee, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return model.ObjectSummary{}, fmt.Errorf("загрузка объекта %q: %w", key, err)
	}

	// Не каждый S3-совместимый сервер возвращает LastModified в ответе на PUT
	lastModified := info.LastModified
	if lastModified.IsZero() {
		lastModified = time.Now().UTC()
	}

	summary := model.ObjectSummary{
		Location:      fmt.Sprintf("%s/%s", c.bucket, key),
		ContentLength: info.Size,
		ContentMd5:    base64.StdEncoding.EncodeToString(hasher.Sum(nil)),
		LastModified:  lastModified,
	}

	c.logger.Debug("Объект загружен",
		slog.String("location", summary.Location),
		slog.Int64("size", summary.ContentLength),
	)

	return summary, nil
}

// Remove удаляет объект из bucket.
func (c *MinioClient) Remove(ctx context.Context, key string) error {
	if err := c.client.RemoveObject(ctx, c.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("удаление объекта %q: %w", key, err)
	}
	return nil
}
