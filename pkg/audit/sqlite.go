package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/capylabs/capybot/pkg/logger"
)

// SQLiteStore keeps one row per tool call and per response part, which makes
// pruning a pair of DELETE statements instead of a rewrite of every record.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	// modernc sqlite misbehaves with concurrent writers on one connection pool.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db, now: time.Now}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
CREATE TABLE IF NOT EXISTS tool_calls (
	id TEXT PRIMARY KEY,
	message_id TEXT NOT NULL,
	tool_call_id TEXT NOT NULL,
	tool_name TEXT NOT NULL,
	input TEXT NOT NULL,
	output TEXT NOT NULL DEFAULT '',
	is_error INTEGER NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT '',
	step_number INTEGER NOT NULL,
	timestamp_ms INTEGER NOT NULL,
	seq INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tool_calls_message ON tool_calls(message_id, seq);
CREATE INDEX IF NOT EXISTS idx_tool_calls_ts ON tool_calls(timestamp_ms);

CREATE TABLE IF NOT EXISTS response_parts (
	id TEXT PRIMARY KEY,
	message_id TEXT NOT NULL,
	type TEXT NOT NULL,
	content TEXT NOT NULL DEFAULT '',
	tool_name TEXT NOT NULL DEFAULT '',
	tool_args TEXT NOT NULL DEFAULT '',
	tool_result TEXT NOT NULL DEFAULT '',
	timestamp INTEGER NOT NULL,
	part_order INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_response_parts_message ON response_parts(message_id, part_order);
CREATE INDEX IF NOT EXISTS idx_response_parts_ts ON response_parts(timestamp);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("migrate audit db: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveCalls(messageID string, calls []ToolCall) error {
	if len(calls) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM tool_calls WHERE message_id = ?`, messageID); err != nil {
		return fmt.Errorf("clear calls: %w", err)
	}
	for seq, call := range calls {
		input, err := json.Marshal(call.Input)
		if err != nil {
			return fmt.Errorf("marshal input for %s: %w", call.ToolName, err)
		}
		_, err = tx.Exec(`
INSERT INTO tool_calls (id, message_id, tool_call_id, tool_name, input, output, is_error, error, step_number, timestamp_ms, seq)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			call.ID, messageID, call.ToolCallID, call.ToolName, string(input),
			call.Output, boolToInt(call.IsError), call.Error, call.StepNumber, call.TimestampMS, seq)
		if err != nil {
			return fmt.Errorf("insert call: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Calls(messageID string) []ToolCall {
	rows, err := s.db.Query(`
SELECT id, tool_call_id, tool_name, input, output, is_error, error, step_number, timestamp_ms
FROM tool_calls WHERE message_id = ? ORDER BY seq`, messageID)
	if err != nil {
		logger.WarnCF("audit", "Call query failed", map[string]interface{}{
			"messageId": messageID, "error": err.Error(),
		})
		return nil
	}
	defer rows.Close()

	var calls []ToolCall
	for rows.Next() {
		var call ToolCall
		var input string
		var isError int
		if err := rows.Scan(&call.ID, &call.ToolCallID, &call.ToolName, &input,
			&call.Output, &isError, &call.Error, &call.StepNumber, &call.TimestampMS); err != nil {
			logger.WarnCF("audit", "Call row scan failed", map[string]interface{}{"error": err.Error()})
			continue
		}
		call.IsError = isError != 0
		if input != "" && input != "null" {
			if err := json.Unmarshal([]byte(input), &call.Input); err != nil {
				logger.WarnCF("audit", "Unreadable call input ignored", map[string]interface{}{
					"id": call.ID, "error": err.Error(),
				})
			}
		}
		calls = append(calls, call)
	}
	return calls
}

func (s *SQLiteStore) AppendPart(messageID string, part ResponsePart) error {
	args := ""
	if part.ToolArgs != nil {
		data, err := json.Marshal(part.ToolArgs)
		if err != nil {
			return fmt.Errorf("marshal tool args: %w", err)
		}
		args = string(data)
	}
	_, err := s.db.Exec(`
INSERT INTO response_parts (id, message_id, type, content, tool_name, tool_args, tool_result, timestamp, part_order)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		part.ID, messageID, string(part.Type), part.Content, part.ToolName, args,
		part.ToolResult, part.Timestamp.UnixMilli(), part.Order)
	if err != nil {
		return fmt.Errorf("insert part: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Parts(messageID string) []ResponsePart {
	rows, err := s.db.Query(`
SELECT id, type, content, tool_name, tool_args, tool_result, timestamp, part_order
FROM response_parts WHERE message_id = ? ORDER BY part_order`, messageID)
	if err != nil {
		logger.WarnCF("audit", "Part query failed", map[string]interface{}{
			"messageId": messageID, "error": err.Error(),
		})
		return nil
	}
	defer rows.Close()

	var parts []ResponsePart
	for rows.Next() {
		var part ResponsePart
		var partType, args string
		var ts int64
		if err := rows.Scan(&part.ID, &partType, &part.Content, &part.ToolName,
			&args, &part.ToolResult, &ts, &part.Order); err != nil {
			logger.WarnCF("audit", "Part row scan failed", map[string]interface{}{"error": err.Error()})
			continue
		}
		part.MessageID = messageID
		part.Type = PartType(partType)
		part.Timestamp = time.UnixMilli(ts).UTC()
		if args != "" {
			if err := json.Unmarshal([]byte(args), &part.ToolArgs); err != nil {
				logger.WarnCF("audit", "Unreadable part args ignored", map[string]interface{}{
					"id": part.ID, "error": err.Error(),
				})
			}
		}
		parts = append(parts, part)
	}
	return parts
}

func (s *SQLiteStore) Prune(retentionDays int) (int, error) {
	horizon := retentionHorizon(retentionDays, s.now()).UnixMilli()

	callsResult, err := s.db.Exec(`DELETE FROM tool_calls WHERE timestamp_ms < ?`, horizon)
	if err != nil {
		return 0, fmt.Errorf("prune calls: %w", err)
	}
	partsResult, err := s.db.Exec(`DELETE FROM response_parts WHERE timestamp < ?`, horizon)
	if err != nil {
		return 0, fmt.Errorf("prune parts: %w", err)
	}

	removed := int64(0)
	if n, err := callsResult.RowsAffected(); err == nil {
		removed += n
	}
	if n, err := partsResult.RowsAffected(); err == nil {
		removed += n
	}
	return int(removed), nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
