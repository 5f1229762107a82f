package lazyjson

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"
)

// mirrorRequestTimeout bounds a single mirror fetch.
const mirrorRequestTimeout = 30 * time.Second

// MirrorBackend serves keys read-only from a remote HTTP mirror of the
// sharded file layout. Writes fail with ErrReadOnlyBackend, and key
// enumeration is not supported (the store falls through to a backend that
// can enumerate).
type MirrorBackend struct {
	baseURL    string
	shardDepth int
	client     *http.Client
}

// NewMirrorBackend creates a mirror backend for the given base URL.
func NewMirrorBackend(baseURL string, shardDepth int) *MirrorBackend {
	if shardDepth <= 0 {
		shardDepth = DefaultShardDepth
	}

	return &MirrorBackend{
		baseURL:    baseURL,
		shardDepth: shardDepth,
		client:     &http.Client{Timeout: mirrorRequestTimeout},
	}
}

// Name implements Backend.
func (b *MirrorBackend) Name() string { return "mirror" }

func (b *MirrorBackend) keyURL(key string) string {
	rel := path.Clean(ShardedRelPath(key, b.shardDepth))

	u, err := url.JoinPath(b.baseURL, rel)
	if err != nil {
		// baseURL was validated at construction; fall back to naive join.
		return b.baseURL + "/" + rel
	}

	return u
}

// Exists implements Backend via a HEAD request.
func (b *MirrorBackend) Exists(ctx context.Context, key string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, b.keyURL(key), nil)
	if err != nil {
		return false, fmt.Errorf("mirror head %s: %w", key, err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("mirror head %s: %w", key, err)
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK, nil
}

// GetBytes implements Backend.
func (b *MirrorBackend) GetBytes(ctx context.Context, key string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.keyURL(key), nil)
	if err != nil {
		return nil, fmt.Errorf("mirror get %s: %w", key, err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mirror get %s: %w", key, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrMissing
	default:
		return nil, fmt.Errorf("mirror get %s: unexpected status %d", key, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("mirror read %s: %w", key, err)
	}

	return data, nil
}

// PutBytes implements Backend; the mirror is read-only.
func (b *MirrorBackend) PutBytes(context.Context, string, []byte) error {
	return ErrReadOnlyBackend
}

// Delete implements Backend; the mirror is read-only.
func (b *MirrorBackend) Delete(context.Context, string) error {
	return ErrReadOnlyBackend
}

// KeysPrefix implements Backend. Plain HTTP mirrors cannot enumerate.
func (b *MirrorBackend) KeysPrefix(context.Context, string) ([]string, error) {
	return nil, ErrNotSupported
}

// Token implements Backend, preferring the mirror's ETag so staleness
// checks avoid a body fetch.
func (b *MirrorBackend) Token(ctx context.Context, key string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, b.keyURL(key), nil)
	if err != nil {
		return "", fmt.Errorf("mirror token %s: %w", key, err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("mirror token %s: %w", key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", ErrMissing
	}

	if etag := resp.Header.Get("ETag"); etag != "" {
		return etag, nil
	}

	data, err := b.GetBytes(ctx, key)
	if err != nil {
		return "", err
	}

	return ContentToken(data), nil
}
