package storage

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrHandleInvalid is returned when an upload token is unknown, expired, or
// already redeemed.
var ErrHandleInvalid = errors.New("storage: upload handle invalid")

// UploadHandle is a single-use, time-limited permission to write one object.
type UploadHandle struct {
	Token       string
	Key         string
	ContentType string
	ExpiresAt   time.Time
}

// UploadBroker issues and redeems direct-upload handles. It plays the role a
// presigned URL plays against a hosted object store: the ingestion endpoint
// issues a handle, the client PUTs the object to it, and the handle dies with
// the first use or its TTL.
type UploadBroker struct {
	mu      sync.Mutex
	baseURL string
	ttl     time.Duration
	handles map[string]UploadHandle

	now func() time.Time
}

// NewUploadBroker creates a broker whose URLs are rooted at baseURL.
func NewUploadBroker(baseURL string, ttl time.Duration) *UploadBroker {
	return &UploadBroker{
		baseURL: strings.TrimRight(baseURL, "/"),
		ttl:     ttl,
		handles: make(map[string]UploadHandle),
		now:     time.Now,
	}
}

// Issue registers a fresh handle for the given key and returns it together
// with the absolute upload URL.
func (b *UploadBroker) Issue(key, contentType string) (UploadHandle, string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h := UploadHandle{
		Token:       uuid.NewString(),
		Key:         key,
		ContentType: contentType,
		ExpiresAt:   b.now().Add(b.ttl),
	}
	b.handles[h.Token] = h
	b.evictExpiredLocked()
	return h, b.baseURL + "/uploads/" + h.Token
}

// Redeem consumes a handle. A token redeems at most once; expired and unknown
// tokens fail with ErrHandleInvalid.
func (b *UploadBroker) Redeem(token string) (UploadHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.handles[token]
	if !ok {
		return UploadHandle{}, ErrHandleInvalid
	}
	delete(b.handles, token)
	if b.now().After(h.ExpiresAt) {
		return UploadHandle{}, ErrHandleInvalid
	}
	return h, nil
}

func (b *UploadBroker) evictExpiredLocked() {
	now := b.now()
	for token, h := range b.handles {
		if now.After(h.ExpiresAt) {
			delete(b.handles, token)
		}
	}
}
