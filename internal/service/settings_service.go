package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// Settings holds the dynamic application settings persisted in the settings
// table. They can be changed at runtime without a restart.
type Settings struct {
	SystemPrompt  string `json:"system_prompt"`
	ReplyModel    string `json:"reply_model"`
	AnalysisModel string `json:"analysis_model"`
}

type SettingsService struct {
	db *sql.DB
}

func NewSettingsService(db *sql.DB) *SettingsService {
	return &SettingsService{db: db}
}

// InitAndGet loads persisted settings, seeding any missing key from the
// provided bootstrap defaults. Safe to call once at startup.
func (s *SettingsService) InitAndGet(ctx context.Context, defaults Settings) (*Settings, error) {
	stored, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	settings := defaults
	if v, ok := stored["system_prompt"]; ok {
		settings.SystemPrompt = v
	}
	if v, ok := stored["reply_model"]; ok {
		settings.ReplyModel = v
	}
	if v, ok := stored["analysis_model"]; ok {
		settings.AnalysisModel = v
	}

	if len(stored) < 3 {
		slog.Info("Seeding missing settings from configuration defaults")
		if err := s.Save(ctx, &settings); err != nil {
			return nil, fmt.Errorf("failed to save initial settings: %w", err)
		}
	}
	return &settings, nil
}

// Get retrieves the current settings.
func (s *SettingsService) Get(ctx context.Context) (*Settings, error) {
	stored, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return &Settings{
		SystemPrompt:  stored["system_prompt"],
		ReplyModel:    stored["reply_model"],
		AnalysisModel: stored["analysis_model"],
	}, nil
}

// Save upserts all settings keys inside one transaction.
func (s *SettingsService) Save(ctx context.Context, settings *Settings) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`
	pairs := map[string]string{
		"system_prompt":  settings.SystemPrompt,
		"reply_model":    settings.ReplyModel,
		"analysis_model": settings.AnalysisModel,
	}
	for key, value := range pairs {
		if _, err := tx.ExecContext(ctx, query, key, value); err != nil {
			return fmt.Errorf("could not save setting %s: %w", key, err)
		}
	}
	return tx.Commit()
}

func (s *SettingsService) load(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM settings")
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	defer rows.Close()

	stored := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		stored[key] = value
	}
	return stored, rows.Err()
}
