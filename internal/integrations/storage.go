// internal/integrations/storage.go
package integrations

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"
)

type FileMetadata struct {
	ID          string `json:"id"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

type Storage struct {
	c *Client
}

func NewStorage(c *Client) *Storage { return &Storage{c: c} }

func (s *Storage) FileMetadata(ctx context.Context, fileID string) (*FileMetadata, error) {
	var out FileMetadata
	if err := s.c.do(ctx, "file metadata", http.MethodGet, "/files/"+url.PathEscape(fileID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SignedURL returns a download url valid for ttl.
func (s *Storage) SignedURL(ctx context.Context, fileID string, ttl time.Duration) (string, error) {
	in := struct {
		TTLSeconds int `json:"ttlSeconds"`
	}{TTLSeconds: int(ttl / time.Second)}
	var out struct {
		URL string `json:"url"`
	}
	path := "/files/" + url.PathEscape(fileID) + "/signed-url"
	if err := s.c.do(ctx, "signed url", http.MethodPost, path, in, &out); err != nil {
		return "", err
	}
	if out.URL == "" {
		return "", errors.New("signed url: empty url")
	}
	return out.URL, nil
}
