package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/capylabs/capybot/pkg/logger"
)

// FileStore keeps one JSON file per triggering message id:
// <dir>/<id>.json for tool calls, <dir>/<id>.parts.json for response parts.
// Message ids are disjoint across concurrent generations, so no locking is
// needed beyond what the filesystem gives us.
type FileStore struct {
	dir string
	now func() time.Time
}

type callRecord struct {
	MessageID string     `json:"messageId"`
	ToolCalls []ToolCall `json:"toolCalls"`
	SavedAt   time.Time  `json:"savedAt"`
}

type partRecord struct {
	MessageID string         `json:"messageId"`
	Parts     []ResponsePart `json:"parts"`
	SavedAt   time.Time      `json:"savedAt"`
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	return &FileStore{dir: dir, now: time.Now}, nil
}

func (s *FileStore) callPath(messageID string) string {
	return filepath.Join(s.dir, sanitizeID(messageID)+".json")
}

func (s *FileStore) partPath(messageID string) string {
	return filepath.Join(s.dir, sanitizeID(messageID)+".parts.json")
}

func (s *FileStore) SaveCalls(messageID string, calls []ToolCall) error {
	if len(calls) == 0 {
		return nil
	}
	record := callRecord{
		MessageID: messageID,
		ToolCalls: calls,
		SavedAt:   s.now().UTC(),
	}
	return writeJSON(s.callPath(messageID), record)
}

func (s *FileStore) Calls(messageID string) []ToolCall {
	var record callRecord
	if !readJSON(s.callPath(messageID), &record) {
		return nil
	}
	return record.ToolCalls
}

func (s *FileStore) AppendPart(messageID string, part ResponsePart) error {
	path := s.partPath(messageID)
	var record partRecord
	if !readJSON(path, &record) {
		record = partRecord{MessageID: messageID}
	}
	record.Parts = append(record.Parts, part)
	record.SavedAt = s.now().UTC()
	return writeJSON(path, record)
}

func (s *FileStore) Parts(messageID string) []ResponsePart {
	var record partRecord
	if !readJSON(s.partPath(messageID), &record) {
		return nil
	}
	return record.Parts
}

func (s *FileStore) Prune(retentionDays int) (int, error) {
	horizon := retentionHorizon(retentionDays, s.now())
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read audit dir: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		if strings.HasSuffix(entry.Name(), ".parts.json") {
			removed += s.prunePartFile(path, horizon)
		} else {
			removed += s.pruneCallFile(path, horizon)
		}
	}
	return removed, nil
}

// pruneCallFile filters expired entries in place; the file is deleted only
// when filtering empties it.
func (s *FileStore) pruneCallFile(path string, horizon time.Time) int {
	var record callRecord
	if !readJSON(path, &record) {
		return 0
	}

	kept := record.ToolCalls[:0]
	for _, call := range record.ToolCalls {
		if time.UnixMilli(call.TimestampMS).Before(horizon) {
			continue
		}
		kept = append(kept, call)
	}
	removed := len(record.ToolCalls) - len(kept)
	if removed == 0 {
		return 0
	}

	if len(kept) == 0 {
		if err := os.Remove(path); err != nil {
			logger.WarnCF("audit", "Failed to delete emptied record", map[string]interface{}{
				"path": path, "error": err.Error(),
			})
		}
		return removed
	}

	record.ToolCalls = kept
	if err := writeJSON(path, record); err != nil {
		logger.WarnCF("audit", "Failed to rewrite pruned record", map[string]interface{}{
			"path": path, "error": err.Error(),
		})
	}
	return removed
}

func (s *FileStore) prunePartFile(path string, horizon time.Time) int {
	var record partRecord
	if !readJSON(path, &record) {
		return 0
	}

	kept := record.Parts[:0]
	for _, part := range record.Parts {
		if part.Timestamp.Before(horizon) {
			continue
		}
		kept = append(kept, part)
	}
	removed := len(record.Parts) - len(kept)
	if removed == 0 {
		return 0
	}

	if len(kept) == 0 {
		if err := os.Remove(path); err != nil {
			logger.WarnCF("audit", "Failed to delete emptied part record", map[string]interface{}{
				"path": path, "error": err.Error(),
			})
		}
		return removed
	}

	record.Parts = kept
	if err := writeJSON(path, record); err != nil {
		logger.WarnCF("audit", "Failed to rewrite pruned part record", map[string]interface{}{
			"path": path, "error": err.Error(),
		})
	}
	return removed
}

func (s *FileStore) Close() error { return nil }

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return os.Rename(tmp, path)
}

// readJSON reports whether the file existed and parsed. Unreadable records
// are treated the same as absent ones.
func readJSON(path string, v interface{}) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		logger.WarnCF("audit", "Unreadable record ignored", map[string]interface{}{
			"path": path, "error": err.Error(),
		})
		return false
	}
	return true
}

func sanitizeID(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, id)
}
