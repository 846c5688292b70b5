package offers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/arkheion-systems/arkheion-securing/internal/models"
)

const offerLogName = "offer.log"

// FilesystemStore implements Store on a local directory. Containers are
// written to a temp file first and renamed into place, so a crashed write
// never leaves a partial container visible. The offer log is a JSON-lines
// file appended under the same lock that assigns sequence numbers.
type FilesystemStore struct {
	root string

	mu      sync.Mutex
	logFile *os.File
	nextSeq int64
}

// NewFilesystemStore creates or opens an offer rooted at dir.
func NewFilesystemStore(dir string) (*FilesystemStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create offer root: %w", err)
	}

	logPath := filepath.Join(dir, offerLogName)
	nextSeq, err := lastSequence(logPath)
	if err != nil {
		return nil, err
	}

	logFile, err := os.OpenFile(logPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("failed to open offer log: %w", err)
	}

	return &FilesystemStore{root: dir, logFile: logFile, nextSeq: nextSeq + 1}, nil
}

func lastSequence(logPath string) (int64, error) {
	f, err := os.Open(logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to open offer log: %w", err)
	}
	defer f.Close()

	var last int64
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var entry models.OfferLogEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return 0, fmt.Errorf("corrupt offer log line: %w", err)
		}
		last = entry.Sequence
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("failed to read offer log: %w", err)
	}
	return last, nil
}

// Close releases the offer log handle.
func (s *FilesystemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logFile.Close()
}

// PutContainer durably stores a container and logs the write.
func (s *FilesystemStore) PutContainer(_ context.Context, name string, data io.Reader) (int64, error) {
	if err := validateName(name); err != nil {
		return 0, err
	}
	path := filepath.Join(s.root, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return 0, fmt.Errorf("failed to create container directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".staging-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create staging file: %w", err)
	}
	defer os.Remove(tmp.Name())

	size, err := io.Copy(tmp, data)
	if err != nil {
		tmp.Close()
		return 0, fmt.Errorf("failed to write container: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("failed to sync container: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("failed to close container: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return 0, fmt.Errorf("failed to publish container: %w", err)
	}

	if err := s.appendLog(name, models.OfferLogWrite); err != nil {
		return 0, err
	}
	return size, nil
}

// GetContainer opens a stored container for reading.
func (s *FilesystemStore) GetContainer(_ context.Context, name string) (io.ReadCloser, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(s.root, filepath.FromSlash(name)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrContainerNotFound
		}
		return nil, fmt.Errorf("failed to open container: %w", err)
	}
	return f, nil
}

// List returns offer log entries for a category after sinceSequence.
func (s *FilesystemStore) List(_ context.Context, category string, sinceSequence int64, limit int) ([]models.OfferLogEntry, error) {
	f, err := os.Open(filepath.Join(s.root, offerLogName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open offer log: %w", err)
	}
	defer f.Close()

	var out []models.OfferLogEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var entry models.OfferLogEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return nil, fmt.Errorf("corrupt offer log line: %w", err)
		}
		if entry.Sequence <= sinceSequence {
			continue
		}
		if category != "" && !inCategory(entry.Name, category) {
			continue
		}
		out = append(out, entry)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read offer log: %w", err)
	}
	return out, nil
}

func (s *FilesystemStore) appendLog(name string, action models.OfferLogAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := models.OfferLogEntry{
		Sequence: s.nextSeq,
		Name:     name,
		Action:   action,
		Time:     time.Now().UTC(),
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode offer log entry: %w", err)
	}
	if _, err := s.logFile.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append offer log: %w", err)
	}
	if err := s.logFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync offer log: %w", err)
	}
	s.nextSeq++
	return nil
}

// inCategory matches container names of the form {tenant}_{category}/{file}.
func inCategory(name, category string) bool {
	dir, _, ok := strings.Cut(name, "/")
	if !ok {
		return false
	}
	_, got, ok := strings.Cut(dir, "_")
	return ok && got == category
}

func validateName(name string) error {
	if name == "" || strings.Contains(name, "..") || strings.HasPrefix(name, "/") {
		return fmt.Errorf("offers: invalid container name %q", name)
	}
	return nil
}
