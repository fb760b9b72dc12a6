package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"runbot/internal/model"
)

// SQLiteStore persists runs through the sqlite3 command line tool, one
// payload-JSON row per run. No driver dependency; the binary must be on PATH.
type SQLiteStore struct {
	DBPath     string
	SQLitePath string
}

func NewSQLiteStore(dbPath string) *SQLiteStore {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = ".runbot/runs.db"
	}
	return &SQLiteStore{
		DBPath:     dbPath,
		SQLitePath: "sqlite3",
	}
}

func (s *SQLiteStore) Init() error {
	if err := os.MkdirAll(filepath.Dir(s.DBPath), 0o755); err != nil {
		return fmt.Errorf("create db dir: %w", err)
	}

	schema := `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS runs (
  run_id TEXT PRIMARY KEY,
  payload_json TEXT NOT NULL,
  updated_at TEXT NOT NULL
);`
	return s.execSQL(schema)
}

func (s *SQLiteStore) Create(run model.RunSession) (model.RunSession, error) {
	return s.put(run)
}

func (s *SQLiteStore) Update(run model.RunSession) (model.RunSession, error) {
	return s.put(run)
}

func (s *SQLiteStore) put(run model.RunSession) (model.RunSession, error) {
	payload, err := json.Marshal(run)
	if err != nil {
		return model.RunSession{}, fmt.Errorf("marshal run %s: %w", run.ID, err)
	}
	sql := fmt.Sprintf(
		"INSERT OR REPLACE INTO runs (run_id, payload_json, updated_at) VALUES (%s, %s, %s);",
		quote(run.ID), quote(string(payload)), quote(run.UpdatedAt),
	)
	if err := s.execSQL(sql); err != nil {
		return model.RunSession{}, err
	}
	return run, nil
}

func (s *SQLiteStore) Get(runID string) (model.RunSession, bool, error) {
	rows, err := s.queryJSON(fmt.Sprintf(
		"SELECT payload_json FROM runs WHERE run_id=%s;", quote(runID),
	))
	if err != nil {
		return model.RunSession{}, false, err
	}
	if len(rows) == 0 {
		return model.RunSession{}, false, nil
	}
	run, err := decodePayload(rows[0])
	if err != nil {
		return model.RunSession{}, false, err
	}
	return run, true, nil
}

func (s *SQLiteStore) List() ([]model.RunSession, error) {
	rows, err := s.queryJSON("SELECT payload_json FROM runs ORDER BY updated_at DESC, run_id ASC;")
	if err != nil {
		return nil, err
	}
	out := make([]model.RunSession, 0, len(rows))
	for _, row := range rows {
		run, err := decodePayload(row)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, nil
}

func decodePayload(row map[string]any) (model.RunSession, error) {
	payload, _ := row["payload_json"].(string)
	var run model.RunSession
	if err := json.Unmarshal([]byte(payload), &run); err != nil {
		return model.RunSession{}, fmt.Errorf("parse run payload: %w", err)
	}
	return run, nil
}

func (s *SQLiteStore) execSQL(sql string) error {
	cmd := exec.Command(s.SQLitePath, s.DBPath, sql)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("sqlite exec failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func (s *SQLiteStore) queryJSON(sql string) ([]map[string]any, error) {
	cmd := exec.Command(s.SQLitePath, "-json", s.DBPath, sql)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("sqlite query failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	output := strings.TrimSpace(stdout.String())
	if output == "" {
		return []map[string]any{}, nil
	}
	rows := []map[string]any{}
	if err := json.Unmarshal(stdout.Bytes(), &rows); err != nil {
		return nil, fmt.Errorf("parse sqlite json output: %w", err)
	}
	return rows, nil
}

func quote(s string) string {
	s = strings.ReplaceAll(s, "'", "''")
	return "'" + s + "'"
}
