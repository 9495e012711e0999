package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"payment-service/internal/models"
	"payment-service/internal/store"
	"payment-service/internal/util"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var pluginNamePattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// RegisterPluginInput is a new plugin registration
type RegisterPluginInput struct {
	Name       string `json:"name" validate:"required,max=64"`
	PluginType string `json:"plugin_type" validate:"required,oneof=PAYMENT_PROCESSOR CURRENCY_BACKEND GENERAL SMS_SERVICE EMAIL_SERVICE"`
	Path       string `json:"path" validate:"required,max=255"`
	IsActive   bool   `json:"is_active"`
	IsDefault  bool   `json:"is_default"`
}

// PluginService manages plugin registrations. At most one plugin of a
// singleton type can be active; the database enforces it.
type PluginService struct {
	plugins     PluginStore
	invalidator PathInvalidator
	publisher   PluginEventPublisher
	validate    *validator.Validate
	logger      *zap.Logger
}

// NewPluginService creates a new plugin service
func NewPluginService(plugins PluginStore, invalidator PathInvalidator, publisher PluginEventPublisher) *PluginService {
	return &PluginService{
		plugins:     plugins,
		invalidator: invalidator,
		publisher:   publisher,
		validate:    validator.New(),
		logger:      util.GetLogger(),
	}
}

// Register creates a registration
func (s *PluginService) Register(ctx context.Context, in RegisterPluginInput) (*models.Plugin, error) {
	ctx, span := util.StartSpan(ctx, "PluginService.Register")
	defer span.End()

	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPlugin, err)
	}
	if !pluginNamePattern.MatchString(in.Name) {
		return nil, fmt.Errorf("%w: name %q must match %s", ErrInvalidPlugin, in.Name, pluginNamePattern)
	}

	p := &models.Plugin{
		Name:       in.Name,
		PluginType: in.PluginType,
		Path:       in.Path,
		IsActive:   in.IsActive,
		IsDefault:  in.IsDefault,
	}
	if err := s.plugins.CreatePlugin(ctx, p); err != nil {
		return nil, s.mapError(p.Name, err)
	}

	s.changed(ctx, p, models.PluginActionRegistered)
	return p, nil
}

// Activate marks a registration active
func (s *PluginService) Activate(ctx context.Context, name string) (*models.Plugin, error) {
	return s.setActive(ctx, name, true)
}

// Deactivate marks a registration inactive
func (s *PluginService) Deactivate(ctx context.Context, name string) (*models.Plugin, error) {
	return s.setActive(ctx, name, false)
}

func (s *PluginService) setActive(ctx context.Context, name string, active bool) (*models.Plugin, error) {
	ctx, span := util.StartSpan(ctx, "PluginService.SetActive")
	defer span.End()

	p, err := s.plugins.SetPluginActive(ctx, name, active)
	if err != nil {
		return nil, s.mapError(name, err)
	}

	action := models.PluginActionDeactivated
	if active {
		action = models.PluginActionActivated
	}
	s.changed(ctx, p, action)
	return p, nil
}

// Delete removes a registration
func (s *PluginService) Delete(ctx context.Context, name string) error {
	ctx, span := util.StartSpan(ctx, "PluginService.Delete")
	defer span.End()

	p, err := s.plugins.GetPluginByName(ctx, name)
	if err != nil {
		return s.mapError(name, err)
	}
	if err := s.plugins.DeletePlugin(ctx, name); err != nil {
		return s.mapError(name, err)
	}

	s.changed(ctx, p, models.PluginActionDeleted)
	return nil
}

// List returns registrations, all of them when pluginType is empty
func (s *PluginService) List(ctx context.Context, pluginType string) ([]models.Plugin, error) {
	return s.plugins.ListPlugins(ctx, pluginType)
}

func (s *PluginService) mapError(name string, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrPluginNotFound, name)
	case store.IsConstraint(err, store.ConstraintSingletonPlugin):
		return fmt.Errorf("%w: %s", ErrSingletonActive, name)
	case store.IsConstraint(err, store.ConstraintPluginName):
		return fmt.Errorf("%w: %s", ErrPluginExists, name)
	default:
		return err
	}
}

// changed drops cached resolutions of the plugin and tells other instances
func (s *PluginService) changed(ctx context.Context, p *models.Plugin, action string) {
	util.PluginChangesTotal.WithLabelValues(action).Inc()

	if err := s.invalidator.Invalidate(ctx, p.Name); err != nil {
		s.logger.Warn("Failed to invalidate plugin path", zap.String("plugin", p.Name), zap.Error(err))
	}

	s.logger.Info("Plugin changed",
		zap.String("plugin", p.Name),
		zap.String("plugin_type", p.PluginType),
		zap.String("action", action))

	event := &models.PluginChangedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypePluginChanged,
			Timestamp: time.Now(),
		},
		Name:       p.Name,
		PluginType: p.PluginType,
		Action:     action,
	}
	if err := s.publisher.PublishPluginChanged(ctx, event); err != nil {
		s.logger.Error("Failed to publish PluginChanged event", zap.Error(err))
	}
}
