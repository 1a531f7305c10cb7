package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/harun/menubot/internal/tracing"
	"github.com/harun/menubot/pkg/conversation"
	"github.com/rs/zerolog"
)

const checkpointExt = ".json"

// FileStore keeps one JSON document per session under a directory.
type FileStore struct {
	dir     string
	logger  zerolog.Logger
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
	now     func() time.Time
}

// NewFileStore creates a file store rooted at dir, creating it if needed.
func NewFileStore(dir string, logger zerolog.Logger) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("checkpoint directory is required")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	logger.Info().Str("dir", dir).Msg("File checkpoint store initialized")

	return &FileStore{
		dir:    dir,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
		now:    time.Now,
	}, nil
}

func (f *FileStore) lock(sessionID string) *sync.Mutex {
	f.locksMu.Lock()
	defer f.locksMu.Unlock()

	if l, ok := f.locks[sessionID]; ok {
		return l
	}
	l := &sync.Mutex{}
	f.locks[sessionID] = l
	return l
}

func (f *FileStore) path(sessionID string) string {
	return filepath.Join(f.dir, sessionID+checkpointExt)
}

func (f *FileStore) read(sessionID string) (*conversation.State, error) {
	data, err := os.ReadFile(f.path(sessionID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	var st conversation.State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint %s: %w", sessionID, err)
	}
	return &st, nil
}

func (f *FileStore) Load(ctx context.Context, sessionID string) (st *conversation.State, err error) {
	_, done := observe(ctx, "file", "load", sessionID)
	defer func() { done(err) }()

	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}

	l := f.lock(sessionID)
	l.Lock()
	defer l.Unlock()

	return f.read(sessionID)
}

func (f *FileStore) Save(ctx context.Context, st *conversation.State) (err error) {
	ctx, done := observe(ctx, "file", "save", st.SessionID)
	defer func() { done(err) }()

	if err := validateSessionID(st.SessionID); err != nil {
		return err
	}

	l := f.lock(st.SessionID)
	l.Lock()
	defer l.Unlock()

	var current int64
	stored, err := f.read(st.SessionID)
	switch {
	case err == nil:
		current = stored.Version
	case errors.Is(err, ErrNotFound):
	default:
		return err
	}
	if current != st.Version {
		return ErrVersionConflict
	}

	next := st.Clone()
	stamp(next, f.now())
	next.Version = st.Version + 1

	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	target := f.path(st.SessionID)
	tempPath := target + ".tmp"
	if err := writeFileSync(tempPath, data); err != nil {
		os.Remove(tempPath)
		return err
	}
	if err := os.Rename(tempPath, target); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace checkpoint: %w", err)
	}

	st.Version = next.Version
	st.CreatedAt = next.CreatedAt
	st.UpdatedAt = next.UpdatedAt

	logger := tracing.LoggerFromContext(ctx, f.logger)
	logger.Debug().
		Str("session_id", st.SessionID).
		Int64("version", st.Version).
		Int("messages", len(st.Messages)).
		Msg("Checkpoint saved")

	return nil
}

func writeFileSync(path string, data []byte) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	return file.Close()
}

func (f *FileStore) Delete(ctx context.Context, sessionID string) (err error) {
	ctx, done := observe(ctx, "file", "delete", sessionID)
	defer func() { done(err) }()

	if err := validateSessionID(sessionID); err != nil {
		return err
	}

	l := f.lock(sessionID)
	l.Lock()
	defer l.Unlock()

	if err := os.Remove(f.path(sessionID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}

	logger := tracing.LoggerFromContext(ctx, f.logger)
	logger.Info().Str("session_id", sessionID).Msg("Checkpoint deleted")
	return nil
}

// ListStale implements Pruner using file modification times.
func (f *FileStore) ListStale(ctx context.Context, before time.Time) ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, checkpointExt) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(before) {
			ids = append(ids, strings.TrimSuffix(name, checkpointExt))
		}
	}
	return ids, nil
}
