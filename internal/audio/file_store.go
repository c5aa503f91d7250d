package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultArtifactTTL     = 24 * time.Hour
	DefaultCleanupInterval = time.Hour
)

// FileStore writes artifacts into a local directory that the HTTP server
// exposes under URLPrefix.
type FileStore struct {
	dir       string
	urlPrefix string
	logger    *zap.Logger
}

func NewFileStore(dir, urlPrefix string, logger *zap.Logger) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("audio dir must be provided")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audio dir: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if urlPrefix == "" {
		urlPrefix = "/audio"
	}
	return &FileStore{dir: dir, urlPrefix: strings.TrimRight(urlPrefix, "/"), logger: logger}, nil
}

func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) Save(_ context.Context, name string, data []byte, contentType string) (Artifact, error) {
	name = filepath.Base(name)
	if name == "." || name == string(filepath.Separator) || name == "" {
		return Artifact{}, errors.New("invalid artifact name")
	}
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0o644); err != nil {
		return Artifact{}, fmt.Errorf("write audio artifact: %w", err)
	}
	return Artifact{
		Name:        name,
		URL:         path.Join(s.urlPrefix, name),
		ContentType: contentType,
		Size:        int64(len(data)),
	}, nil
}

// StartCleaner removes artifacts older than ttl every interval until ctx ends.
func (s *FileStore) StartCleaner(ctx context.Context, interval, ttl time.Duration) {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	if ttl <= 0 {
		ttl = DefaultArtifactTTL
	}
	go s.cleanupLoop(ctx, interval, ttl)
}

func (s *FileStore) cleanupLoop(ctx context.Context, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.CleanupExpired(time.Now().Add(-ttl)); err != nil {
				s.logger.Warn("cleanup audio artifacts failed", zap.Error(err))
			}
		}
	}
}

// CleanupExpired deletes regular files last modified before cutoff and
// returns how many were removed.
func (s *FileStore) CleanupExpired(cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read audio dir: %w", err)
	}
	removed := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		full := filepath.Join(s.dir, entry.Name())
		if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("remove audio artifact failed", zap.String("path", full), zap.Error(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("audio artifacts cleaned", zap.Int("removed", removed))
	}
	return removed, nil
}
