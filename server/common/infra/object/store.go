package object

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/minio/minio-go/v7"
)

const (
	presignTTL     = 15 * time.Minute
	thumbnailEdge  = 320
	thumbnailMIME  = "image/jpeg"
	thumbnailLabel = "_thumb.jpg"
)

// Store puts objects under an optional key prefix in one bucket.
type Store struct {
	client *minio.Client
	bucket string
	prefix string
}

func NewStore(client *minio.Client, bucket, prefix string) *Store {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	return &Store{client: client, bucket: bucket, prefix: prefix}
}

func (s *Store) Key(objectKey string) string {
	cleaned := strings.TrimPrefix(strings.TrimSpace(objectKey), "/")
	if s.prefix == "" || strings.HasPrefix(cleaned, s.prefix+"/") {
		return cleaned
	}
	return path.Join(s.prefix, cleaned)
}

func (s *Store) Put(ctx context.Context, objectKey string, r io.Reader, size int64, contentType string) (string, error) {
	key := s.Key(objectKey)
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return key, nil
}

// PutWithThumbnail stores an image and a JPEG thumbnail next to it. A
// thumbnail failure does not fail the upload; thumbKey is then empty.
func (s *Store) PutWithThumbnail(ctx context.Context, objectKey string, data []byte, contentType string) (string, string, error) {
	key, err := s.Put(ctx, objectKey, bytes.NewReader(data), int64(len(data)), contentType)
	if err != nil {
		return "", "", err
	}
	thumb, err := Thumbnail(bytes.NewReader(data))
	if err != nil {
		return key, "", nil
	}
	thumbKey, err := s.Put(ctx, ThumbnailKey(key), bytes.NewReader(thumb), int64(len(thumb)), thumbnailMIME)
	if err != nil {
		return key, "", nil
	}
	return key, thumbKey, nil
}

// Remove deletes the given keys, skipping empty ones.
func (s *Store) Remove(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		if key == "" {
			continue
		}
		if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("remove object %s: %w", key, err)
		}
	}
	return nil
}

func (s *Store) PresignGet(ctx context.Context, key string) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, presignTTL, url.Values{})
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func ThumbnailKey(objectKey string) string {
	ext := path.Ext(objectKey)
	return strings.TrimSuffix(objectKey, ext) + thumbnailLabel
}

// Thumbnail decodes any format imaging understands and returns a JPEG fitted
// into a thumbnailEdge square.
func Thumbnail(r io.Reader) ([]byte, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, err
	}
	thumb := imaging.Thumbnail(img, thumbnailEdge, thumbnailEdge, imaging.Lanczos)
	buf := bytes.NewBuffer(nil)
	if err := imaging.Encode(buf, thumb, imaging.JPEG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
