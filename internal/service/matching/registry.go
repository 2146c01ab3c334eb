package matching

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/possync/reconcile/internal/domain/models"
	"github.com/possync/reconcile/internal/repository"
)

// Registry resolves counterparty names to ids, registering unknown names on
// first sighting with the default fee rate.
type Registry struct {
	repo    repository.CounterpartyRepository
	feeRate decimal.Decimal
	cache   *cache.Cache
	logger  *zap.Logger
}

func NewRegistry(repo repository.CounterpartyRepository, feeRate decimal.Decimal, ttl time.Duration, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		repo:    repo,
		feeRate: feeRate,
		cache:   cache.New(ttl, 2*ttl),
		logger:  logger,
	}
}

func cacheKey(channel models.Channel, name string) string {
	return string(channel) + ":" + name
}

// Resolve returns a name to id map for names on channel. Channels without a
// registry resolve to an empty map.
func (r *Registry) Resolve(ctx context.Context, channel models.Channel, names []string) (map[string]string, error) {
	ids := make(map[string]string)
	if !channel.HasRegistry() {
		return ids, nil
	}

	var missing []string
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if id, ok := r.cache.Get(cacheKey(channel, name)); ok {
			ids[name] = id.(string)
			continue
		}
		missing = append(missing, name)
	}
	missing = repository.DistinctStrings(missing)
	if len(missing) == 0 {
		return ids, nil
	}

	if err := r.repo.EnsureExists(ctx, channel, missing, r.feeRate); err != nil {
		return nil, fmt.Errorf("register %s counterparties: %w", channel, err)
	}
	found, err := r.repo.FindByNames(ctx, channel, missing)
	if err != nil {
		return nil, fmt.Errorf("load %s counterparties: %w", channel, err)
	}
	for _, cp := range found {
		ids[cp.Name] = cp.ID
		r.cache.Set(cacheKey(channel, cp.Name), cp.ID, cache.DefaultExpiration)
	}
	r.logger.Debug("counterparties resolved", zap.String("channel", string(channel)), zap.Strings("names", missing))
	return ids, nil
}

// List returns the registry of channel, or every registry when channel is empty.
func (r *Registry) List(ctx context.Context, channel models.Channel) ([]models.Counterparty, error) {
	list, err := r.repo.List(ctx, channel)
	if err != nil {
		return nil, fmt.Errorf("list counterparties: %w", err)
	}
	return list, nil
}
