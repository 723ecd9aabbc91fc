package workflow

import (
	"context"
	"fmt"
	"sync"

	"github.com/civicflow/platform/internal/domain"
	"github.com/civicflow/platform/internal/repository"
)

type versionKey struct {
	serviceKey string
	version    int
}

// Registry loads and caches compiled service configurations.
// Only published versions are cached; they never change once published.
type Registry struct {
	db   repository.DBTX
	repo repository.ServiceVersionRepository

	mu    sync.RWMutex
	cache map[versionKey]*Definition
}

// NewRegistry creates a Registry reading service versions through repo.
func NewRegistry(db repository.DBTX, repo repository.ServiceVersionRepository) *Registry {
	return &Registry{
		db:    db,
		repo:  repo,
		cache: make(map[versionKey]*Definition),
	}
}

// Get returns the compiled configuration an application is pinned to.
// Retired versions still resolve so in-flight applications can finish.
func (r *Registry) Get(ctx context.Context, serviceKey string, version int) (*Definition, error) {
	key := versionKey{serviceKey: serviceKey, version: version}
	r.mu.RLock()
	def, ok := r.cache[key]
	r.mu.RUnlock()
	if ok {
		return def, nil
	}

	sv, err := r.repo.Find(ctx, r.db, serviceKey, version)
	if err != nil {
		return nil, fmt.Errorf("load service version: %w", err)
	}
	if sv == nil || sv.Status == domain.ServiceVersionDraft {
		return nil, domain.ErrServiceVersionNotFound(serviceKey, version)
	}
	return r.compileAndStore(sv)
}

// LatestPublished returns the newest published configuration for new applications.
func (r *Registry) LatestPublished(ctx context.Context, serviceKey string) (*Definition, error) {
	sv, err := r.repo.FindLatestPublished(ctx, r.db, serviceKey)
	if err != nil {
		return nil, fmt.Errorf("load latest service version: %w", err)
	}
	if sv == nil {
		return nil, domain.ErrServiceVersionNotFound(serviceKey, 0)
	}

	r.mu.RLock()
	def, ok := r.cache[versionKey{serviceKey: sv.ServiceKey, version: sv.Version}]
	r.mu.RUnlock()
	if ok {
		return def, nil
	}
	return r.compileAndStore(sv)
}

func (r *Registry) compileAndStore(sv *domain.ServiceVersion) (*Definition, error) {
	cfg, err := DecodeConfig(sv.Config)
	if err != nil {
		return nil, err
	}
	// The row is authoritative for identity even if the document disagrees.
	cfg.ServiceKey = sv.ServiceKey
	cfg.Version = sv.Version

	def, err := Compile(cfg)
	if err != nil {
		return nil, fmt.Errorf("compile %s v%d: %w", sv.ServiceKey, sv.Version, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	key := versionKey{serviceKey: sv.ServiceKey, version: sv.Version}
	if existing, ok := r.cache[key]; ok {
		return existing, nil
	}
	r.cache[key] = def
	return def, nil
}

// FeeSchedule returns the fee schedule of a pinned service version.
func (r *Registry) FeeSchedule(ctx context.Context, serviceKey string, version int) (domain.FeeScheduleDef, error) {
	def, err := r.Get(ctx, serviceKey, version)
	if err != nil {
		return domain.FeeScheduleDef{}, err
	}
	return def.Config.FeeSchedule, nil
}
