package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/eyetrack/internal/config"
)

// DefaultSettingsName is the row holding the active node settings.
const DefaultSettingsName = "active"

// ErrNoSettings is returned when no settings document is stored under a name.
var ErrNoSettings = errors.New("no stored settings")

// SaveSettings stores s as a JSON document under name, replacing any
// previous document.
func (db *DB) SaveSettings(name string, s *config.Settings) error {
	doc, err := s.Marshal()
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	_, err = db.Exec(`INSERT INTO settings (name, document, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET document=excluded.document, updated_at=excluded.updated_at`,
		name, string(doc), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save settings %q: %w", name, err)
	}
	return nil
}

// LoadSettings returns the settings stored under name. The document is
// validated the same way a settings file is.
func (db *DB) LoadSettings(name string) (*config.Settings, error) {
	var doc string
	err := db.QueryRow(`SELECT document FROM settings WHERE name = ?`, name).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", ErrNoSettings, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load settings %q: %w", name, err)
	}
	return config.ParseSettings([]byte(doc))
}
