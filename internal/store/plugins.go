package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"payment-service/internal/models"
)

const pluginColumns = "id, name, plugin_type, path, is_active, is_default, created_at, updated_at"

// CreatePlugin inserts a plugin registration
func (s *Store) CreatePlugin(ctx context.Context, p *models.Plugin) error {
	query := `
		INSERT INTO plugins (name, plugin_type, path, is_active, is_default)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	row := s.db.QueryRowxContext(ctx, query, p.Name, p.PluginType, p.Path, p.IsActive, p.IsDefault)
	if err := row.Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return mapError(err)
	}
	return nil
}

// GetPluginByName retrieves a plugin registration
func (s *Store) GetPluginByName(ctx context.Context, name string) (*models.Plugin, error) {
	var p models.Plugin
	err := s.db.GetContext(ctx, &p, "SELECT "+pluginColumns+" FROM plugins WHERE name = $1", name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("plugin %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPlugins returns registrations, optionally filtered by type
func (s *Store) ListPlugins(ctx context.Context, pluginType string) ([]models.Plugin, error) {
	plugins := []models.Plugin{}
	var err error
	if pluginType == "" {
		err = s.db.SelectContext(ctx, &plugins, "SELECT "+pluginColumns+" FROM plugins ORDER BY name")
	} else {
		err = s.db.SelectContext(ctx, &plugins,
			"SELECT "+pluginColumns+" FROM plugins WHERE plugin_type = $1 ORDER BY name", pluginType)
	}
	return plugins, err
}

// ActivePlugin returns the active registration of a type, preferring the default one
func (s *Store) ActivePlugin(ctx context.Context, pluginType string) (*models.Plugin, error) {
	var p models.Plugin
	err := s.db.GetContext(ctx, &p, `
		SELECT `+pluginColumns+` FROM plugins
		WHERE plugin_type = $1 AND is_active
		ORDER BY is_default DESC, name LIMIT 1`, pluginType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("active %s plugin: %w", pluginType, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// SetPluginActive flips is_active under a row lock and returns the updated row.
// Activating a second plugin of a singleton type violates
// ConstraintSingletonPlugin.
func (s *Store) SetPluginActive(ctx context.Context, name string, active bool) (*models.Plugin, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var p models.Plugin
	err = tx.GetContext(ctx, &p,
		"SELECT "+pluginColumns+" FROM plugins WHERE name = $1 FOR UPDATE", name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("plugin %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock plugin: %w", err)
	}

	err = tx.QueryRowxContext(ctx,
		"UPDATE plugins SET is_active = $1, updated_at = NOW() WHERE id = $2 RETURNING updated_at",
		active, p.ID).Scan(&p.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	p.IsActive = active

	if err := tx.Commit(); err != nil {
		return nil, mapError(err)
	}
	return &p, nil
}

// DeletePlugin removes a registration
func (s *Store) DeletePlugin(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM plugins WHERE name = $1", name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("plugin %s: %w", name, ErrNotFound)
	}
	return nil
}

// Registrations is a read view over plugins of one type, used by the
// gateway registry to check identifiers
type Registrations struct {
	store      *Store
	pluginType string
}

// Registrations returns the view for pluginType
func (s *Store) Registrations(pluginType string) *Registrations {
	return &Registrations{store: s, pluginType: pluginType}
}

// IsRegistered reports whether a plugin named id exists
func (r *Registrations) IsRegistered(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.store.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM plugins WHERE name = $1 AND plugin_type = $2)", id, r.pluginType)
	return exists, err
}

// IsActive reports whether the plugin named id is active
func (r *Registrations) IsActive(ctx context.Context, id string) (bool, error) {
	var active bool
	err := r.store.db.GetContext(ctx, &active,
		"SELECT is_active FROM plugins WHERE name = $1 AND plugin_type = $2", id, r.pluginType)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return active, err
}

// ModulePath returns the implementation path registered for id
func (r *Registrations) ModulePath(ctx context.Context, id string) (string, error) {
	var path string
	err := r.store.db.GetContext(ctx, &path,
		"SELECT path FROM plugins WHERE name = $1 AND plugin_type = $2", id, r.pluginType)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("plugin %s: %w", id, ErrNotFound)
	}
	return path, err
}
