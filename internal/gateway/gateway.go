// Package gateway authenticates service identities presenting an API key.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/gatekeeper/internal/crypto"
	"github.com/and161185/gatekeeper/internal/errs"
	"github.com/and161185/gatekeeper/internal/model"
	"github.com/and161185/gatekeeper/internal/obs"
	"github.com/and161185/gatekeeper/internal/repository"
)

// Gateway resolves API keys to services and enforces origin allow-lists.
type Gateway struct {
	services repository.ServiceRepository
	log      *zap.Logger
	metrics  *obs.Metrics
}

// New constructs a Gateway.
func New(services repository.ServiceRepository, log *zap.Logger, metrics *obs.Metrics) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{services: services, log: log, metrics: metrics}
}

// Authenticate resolves apiKey, failing with errs.ErrUnknownService or errs.ErrInactive.
func (g *Gateway) Authenticate(ctx context.Context, apiKey string) (*model.Service, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		g.metrics.ServiceAuth("unknown")
		return nil, errs.ErrUnknownService
	}
	svc, err := g.services.GetByAPIKey(ctx, apiKey)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			g.metrics.ServiceAuth("unknown")
			return nil, errs.ErrUnknownService
		}
		g.metrics.ServiceAuth("error")
		return nil, fmt.Errorf("authenticate service: %w", err)
	}
	if !svc.Active {
		g.metrics.ServiceAuth("inactive")
		return nil, errs.ErrInactive
	}
	g.metrics.ServiceAuth("ok")
	return svc, nil
}

// AuthorizeOrigin checks origin (or referer when origin is empty) against the
// service's allow-list by prefix. An empty allow-list accepts any origin.
func AuthorizeOrigin(svc *model.Service, origin, referer string) bool {
	if len(svc.AllowedOrigins) == 0 {
		return true
	}
	presented := origin
	if presented == "" {
		presented = referer
	}
	if presented == "" {
		return false
	}
	for _, allowed := range svc.AllowedOrigins {
		if allowed != "" && strings.HasPrefix(presented, allowed) {
			return true
		}
	}
	return false
}

// AuthenticateRequest combines Authenticate and AuthorizeOrigin.
func (g *Gateway) AuthenticateRequest(ctx context.Context, apiKey, origin, referer string) (*model.Service, error) {
	svc, err := g.Authenticate(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	if !AuthorizeOrigin(svc, origin, referer) {
		g.log.Info("service origin rejected",
			zap.String("service", svc.Name), zap.String("origin", origin), zap.String("referer", referer))
		g.metrics.ServiceAuth("origin_forbidden")
		return nil, errs.ErrOriginForbidden
	}
	return svc, nil
}

// RegenerateKeys replaces the key and secret in one statement; the old key stops working immediately.
func (g *Gateway) RegenerateKeys(ctx context.Context, id uuid.UUID) (model.ServiceCredentials, error) {
	key, secret, err := crypto.NewServiceCredentials()
	if err != nil {
		return model.ServiceCredentials{}, err
	}
	if err := g.services.RotateCredentials(ctx, id, key, crypto.HashSecret(secret)); err != nil {
		return model.ServiceCredentials{}, err
	}
	g.log.Info("service keys regenerated", zap.String("service_id", id.String()))
	return model.ServiceCredentials{APIKey: key, Secret: secret}, nil
}
