package gateway

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"payment-service/internal/cache"
	"payment-service/internal/models"

	"go.uber.org/zap"
)

// PathCacheTTL is how long a resolved plugin path is trusted
const PathCacheTTL = 7 * 24 * time.Hour

var pluginIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Options is what a Factory receives when constructing a gateway
type Options struct {
	PluginID     string
	Settings     map[string]string
	BaseCurrency string
	Logger       *zap.Logger
}

// Factory builds a gateway instance
type Factory func(opts Options) (Gateway, error)

// Loader turns a registered module path into a Factory
type Loader interface {
	Load(path string) (Factory, error)
}

// Catalog is the set of providers compiled into the binary, keyed by module path
type Catalog map[string]Factory

// Load implements Loader
func (c Catalog) Load(path string) (Factory, error) {
	f, ok := c[path]
	if !ok || f == nil {
		return nil, fmt.Errorf("no provider compiled in for %q", path)
	}
	return f, nil
}

// RegistrationStore answers which plugin identifiers exist
type RegistrationStore interface {
	IsRegistered(ctx context.Context, id string) (bool, error)
	IsActive(ctx context.Context, id string) (bool, error)
	ModulePath(ctx context.Context, id string) (string, error)
}

// Resolver hands out gateways by plugin id
type Resolver interface {
	Gateway(ctx context.Context, pluginID string) (Gateway, error)
}

// Registry resolves untrusted plugin identifiers to providers
type Registry struct {
	registrations RegistrationStore
	loader        Loader
	paths         cache.Cache
	settings      map[string]map[string]string
	baseCurrency  string
	logger        *zap.Logger
}

var _ Resolver = (*Registry)(nil)

// NewRegistry creates a registry. settings are keyed by module path.
func NewRegistry(
	registrations RegistrationStore,
	loader Loader,
	paths cache.Cache,
	settings map[string]map[string]string,
	baseCurrency string,
	logger *zap.Logger,
) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		registrations: registrations,
		loader:        loader,
		paths:         paths,
		settings:      settings,
		baseCurrency:  baseCurrency,
		logger:        logger,
	}
}

// ValidatePluginID rejects identifiers that could be used to address
// anything other than a single registered plugin
func ValidatePluginID(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("%w: empty", ErrInvalidPluginID)
	case strings.ContainsAny(id, `/\`):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidPluginID, id)
	case strings.Contains(id, ".."):
		return fmt.Errorf("%w: %q contains a parent reference", ErrInvalidPluginID, id)
	case strings.Count(id, ".") > 1:
		return fmt.Errorf("%w: %q contains more than one dot", ErrInvalidPluginID, id)
	case !pluginIDPattern.MatchString(id):
		return fmt.Errorf("%w: %q contains disallowed characters", ErrInvalidPluginID, id)
	}
	return nil
}

// PathCacheKey is the cache key holding the module path of a payment plugin
func PathCacheKey(id string) string {
	return fmt.Sprintf("%s_plugin_path_%s", models.PluginTypePaymentProcessor, id)
}

// Resolve validates id, finds its registration and loads its factory
func (r *Registry) Resolve(ctx context.Context, id string) (Factory, string, error) {
	if err := ValidatePluginID(id); err != nil {
		return nil, "", err
	}

	path, err := r.modulePath(ctx, id)
	if err != nil {
		return nil, "", err
	}

	factory, err := r.loader.Load(path)
	if err != nil {
		return nil, "", &LoadError{Plugin: id, Path: path, Err: err}
	}
	return factory, path, nil
}

// Gateway resolves id and constructs the provider
func (r *Registry) Gateway(ctx context.Context, id string) (Gateway, error) {
	factory, path, err := r.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}

	gw, err := factory(Options{
		PluginID:     id,
		Settings:     r.settings[path],
		BaseCurrency: r.baseCurrency,
		Logger:       r.logger.With(zap.String("plugin", id)),
	})
	if err != nil {
		return nil, &LoadError{Plugin: id, Path: path, Err: err}
	}
	return gw, nil
}

// Invalidate drops the cached path of id
func (r *Registry) Invalidate(ctx context.Context, id string) error {
	return r.paths.Delete(ctx, PathCacheKey(id))
}

func (r *Registry) modulePath(ctx context.Context, id string) (string, error) {
	key := PathCacheKey(id)

	if path, ok, err := r.paths.Get(ctx, key); err != nil {
		r.logger.Warn("Plugin path cache read failed", zap.String("plugin", id), zap.Error(err))
	} else if ok {
		return path, nil
	}

	registered, err := r.registrations.IsRegistered(ctx, id)
	if err != nil {
		return "", fmt.Errorf("check registration of %s: %w", id, err)
	}
	if !registered {
		return "", fmt.Errorf("%w: %s", ErrUnknownPlugin, id)
	}

	active, err := r.registrations.IsActive(ctx, id)
	if err != nil {
		return "", fmt.Errorf("check activation of %s: %w", id, err)
	}
	if !active {
		return "", fmt.Errorf("%w: %s is not active", ErrUnknownPlugin, id)
	}

	path, err := r.registrations.ModulePath(ctx, id)
	if err != nil {
		return "", fmt.Errorf("read path of %s: %w", id, err)
	}

	if err := r.paths.Set(ctx, key, path, PathCacheTTL); err != nil {
		r.logger.Warn("Plugin path cache write failed", zap.String("plugin", id), zap.Error(err))
	}
	return path, nil
}
