// Package tenant resolves tenant configuration for inbound traffic.
package tenant

import (
	"context"
	"sync"

	"github.com/capitalize-ai/conversation-orchestrator/internal/apperr"
	"github.com/capitalize-ai/conversation-orchestrator/internal/model"
)

// Registry is the persistent tenant lookup surface.
type Registry interface {
	GetTenant(ctx context.Context, tenantID string) (*model.TenantConfig, error)
	GetTenantByChannel(ctx context.Context, phoneNumberID string) (*model.TenantConfig, error)
}

// Resolver caches tenant configuration in memory. Entries are dropped when
// the notification consumer applies a config change, so a stale read lasts at
// most one queue round trip.
type Resolver struct {
	registry Registry

	mu        sync.RWMutex
	byTenant  map[string]*model.TenantConfig
	byChannel map[string]string
}

// NewResolver creates a resolver over the registry.
func NewResolver(registry Registry) *Resolver {
	return &Resolver{
		registry:  registry,
		byTenant:  make(map[string]*model.TenantConfig),
		byChannel: make(map[string]string),
	}
}

// ByChannel resolves the tenant owning a channel phone-number id. Unknown
// channels return a not-found error so webhook deliveries for them can be
// acknowledged and dropped.
func (r *Resolver) ByChannel(ctx context.Context, phoneNumberID string) (*model.TenantConfig, error) {
	r.mu.RLock()
	if tenantID, ok := r.byChannel[phoneNumberID]; ok {
		if cfg, ok := r.byTenant[tenantID]; ok {
			r.mu.RUnlock()
			return cfg, nil
		}
	}
	r.mu.RUnlock()

	cfg, err := r.registry.GetTenantByChannel(ctx, phoneNumberID)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, apperr.New(apperr.CodeNotFound, "unknown channel "+phoneNumberID, nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Another request may have raced us here; either copy is equally fresh.
	r.byTenant[cfg.TenantID] = cfg
	r.byChannel[phoneNumberID] = cfg.TenantID
	return cfg, nil
}

// ByID resolves a tenant configuration by tenant id.
func (r *Resolver) ByID(ctx context.Context, tenantID string) (*model.TenantConfig, error) {
	r.mu.RLock()
	if cfg, ok := r.byTenant[tenantID]; ok {
		r.mu.RUnlock()
		return cfg, nil
	}
	r.mu.RUnlock()

	cfg, err := r.registry.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, apperr.New(apperr.CodeNotFound, "unknown tenant "+tenantID, nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byTenant[tenantID] = cfg
	if cfg.Channel.PhoneNumberID != "" {
		r.byChannel[cfg.Channel.PhoneNumberID] = tenantID
	}
	return cfg, nil
}

// Invalidate drops a tenant's cached configuration. Called by the
// notification consumer after applying a config change.
func (r *Resolver) Invalidate(tenantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byTenant, tenantID)
	for channel, id := range r.byChannel {
		if id == tenantID {
			delete(r.byChannel, channel)
		}
	}
}
