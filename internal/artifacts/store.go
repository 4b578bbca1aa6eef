// Package artifacts writes generated SVG files to local disk or S3.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/haasonsaas/vibelab/internal/queue"
)

// SVGContentType is the MIME type of stored SVG artifacts.
const SVGContentType = "image/svg+xml"

// ErrNotFound is returned by Get for missing keys.
var ErrNotFound = errors.New("artifact not found")

// Store persists artifact bytes under slash-separated keys.
type Store interface {
	// Put writes data under key and returns a reference URI.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

var slugInvalid = regexp.MustCompile(`[^a-z0-9]+`)

const maxSlugLen = 48

func slug(s string) string {
	s = slugInvalid.ReplaceAllString(strings.ToLower(s), "-")
	s = strings.Trim(s, "-")
	if len(s) > maxSlugLen {
		s = strings.TrimRight(s[:maxSlugLen], "-")
	}
	if s == "" {
		return "untitled"
	}
	return s
}

// ObjectKey is the storage key of a task's SVG:
// <experiment>/<model>/<variation>/<position>-<prompt>-<instance>.svg
func ObjectKey(t *queue.Task) string {
	experiment := t.ExperimentID
	if experiment == "" {
		experiment = "default"
	}
	return fmt.Sprintf("%s/%s/%s/%04d-%s-%d.svg",
		slug(experiment),
		slug(t.Model),
		slug(t.Variation.Label()),
		t.Position,
		slug(t.Prompt.Text),
		t.InstanceIndex,
	)
}

// cleanKey rejects keys that would escape the store root.
func cleanKey(key string) (string, error) {
	key = strings.Trim(strings.ReplaceAll(key, "\\", "/"), "/")
	if key == "" {
		return "", fmt.Errorf("artifact key is required")
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return "", fmt.Errorf("invalid artifact key %q", key)
		}
	}
	return key, nil
}
