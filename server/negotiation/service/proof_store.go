package service

import (
	"context"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"negotiation_server/server/common/errs"
	commonlog "negotiation_server/server/common/log"
	"negotiation_server/server/negotiation/domain"
)

const (
	MaxProofBytes  = 10 << 20
	discardTimeout = 10 * time.Second
)

type ObjectStore interface {
	PutWithThumbnail(ctx context.Context, objectKey string, data []byte, contentType string) (string, string, error)
	PresignGet(ctx context.Context, key string) (string, error)
	Remove(ctx context.Context, keys ...string) error
}

// ProofStore keeps payment proof images in object storage. Only the returned
// handle is stored on the payment.
type ProofStore struct {
	objects  ObjectStore
	maxBytes int64
}

func NewProofStore(objects ObjectStore) *ProofStore {
	return &ProofStore{objects: objects, maxBytes: MaxProofBytes}
}

// Save sniffs the content type instead of trusting the client and accepts
// images only.
func (p *ProofStore) Save(ctx context.Context, paymentID, fileName string, r io.Reader) (domain.ProofHandle, error) {
	data, err := io.ReadAll(io.LimitReader(r, p.maxBytes+1))
	if err != nil {
		return domain.ProofHandle{}, err
	}
	switch {
	case len(data) == 0:
		return domain.ProofHandle{}, errs.Invalid("file", "is empty")
	case int64(len(data)) > p.maxBytes:
		return domain.ProofHandle{}, errs.Invalid("file", "exceeds 10 MiB")
	}
	contentType := http.DetectContentType(data)
	if !strings.HasPrefix(contentType, "image/") {
		return domain.ProofHandle{}, errs.Invalid("file", "must be an image")
	}

	key := "payments/" + paymentID + "/" + uuid.NewString() + proofExt(fileName, contentType)
	image, thumb, err := p.objects.PutWithThumbnail(ctx, key, data, contentType)
	if err != nil {
		return domain.ProofHandle{}, errs.Network("object storage", err)
	}
	return domain.ProofHandle{Image: image, Thumbnail: thumb}, nil
}

// Discard removes a saved proof that never got attached to its payment.
func (p *ProofStore) Discard(ctx context.Context, handle domain.ProofHandle) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), discardTimeout)
	defer cancel()
	if err := p.objects.Remove(ctx, handle.Image, handle.Thumbnail); err != nil {
		commonlog.Warnf("event=payment_proof action=discard status=failed object=%s thumbnail=%s error=%v", handle.Image, handle.Thumbnail, err)
		return
	}
	commonlog.Infof("event=payment_proof action=discard status=ok object=%s", handle.Image)
}

func (p *ProofStore) URL(ctx context.Context, handle string) (string, error) {
	if handle == "" {
		return "", errs.NotFound("proof", "")
	}
	u, err := p.objects.PresignGet(ctx, handle)
	if err != nil {
		return "", errs.Network("object storage", err)
	}
	return u, nil
}

func proofExt(fileName, contentType string) string {
	ext := strings.ToLower(path.Ext(fileName))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp":
		return ext
	}
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}
