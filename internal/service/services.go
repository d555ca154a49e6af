package service

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	pkgcrypto "github.com/and161185/gatekeeper/internal/crypto"
	"github.com/and161185/gatekeeper/internal/errs"
	"github.com/and161185/gatekeeper/internal/gateway"
	"github.com/and161185/gatekeeper/internal/model"
	"github.com/and161185/gatekeeper/internal/repository"
)

// CreateServiceInput describes a new service identity.
type CreateServiceInput struct {
	Name           string
	Description    string
	AllowedOrigins []string
}

// ServiceAdmin defines administrative operations over service identities.
type ServiceAdmin interface {
	// Create stores a new active service and returns its one-time credentials.
	Create(ctx context.Context, in CreateServiceInput) (*model.Service, model.ServiceCredentials, error)
	List(ctx context.Context) ([]model.Service, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Service, error)
	Update(ctx context.Context, id uuid.UUID, patch model.ServicePatch) (*model.Service, error)
	// RegenerateKeys invalidates the current API key and secret.
	RegenerateKeys(ctx context.Context, id uuid.UUID) (model.ServiceCredentials, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type ServiceAdminImpl struct {
	repo repository.ServiceRepository
	gw   *gateway.Gateway
	log  *zap.Logger
}

// NewServiceAdmin constructs ServiceAdmin.
func NewServiceAdmin(repo repository.ServiceRepository, gw *gateway.Gateway, log *zap.Logger) *ServiceAdminImpl {
	if log == nil {
		log = zap.NewNop()
	}
	return &ServiceAdminImpl{repo: repo, gw: gw, log: log}
}

func cleanOrigins(in []string) ([]string, error) {
	out := make([]string, 0, len(in))
	for _, o := range in {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		u, err := url.Parse(o)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("%w: invalid origin %q", errs.ErrValidation, o)
		}
		out = append(out, strings.TrimRight(o, "/"))
	}
	return out, nil
}

// Create validates input, generates credentials and persists the service.
func (s *ServiceAdminImpl) Create(ctx context.Context, in CreateServiceInput) (*model.Service, model.ServiceCredentials, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, model.ServiceCredentials{}, fmt.Errorf("%w: service name is required", errs.ErrValidation)
	}
	origins, err := cleanOrigins(in.AllowedOrigins)
	if err != nil {
		return nil, model.ServiceCredentials{}, err
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, model.ServiceCredentials{}, err
	}
	key, secret, err := pkgcrypto.NewServiceCredentials()
	if err != nil {
		return nil, model.ServiceCredentials{}, err
	}
	svc := &model.Service{
		ID:             id,
		Name:           name,
		Description:    strings.TrimSpace(in.Description),
		APIKey:         key,
		SecretHash:     pkgcrypto.HashSecret(secret),
		AllowedOrigins: origins,
		Active:         true,
	}
	if err := s.repo.Create(ctx, svc); err != nil {
		return nil, model.ServiceCredentials{}, err
	}
	s.log.Info("service created", zap.String("service_id", id.String()), zap.String("name", name))
	return svc, model.ServiceCredentials{APIKey: key, Secret: secret}, nil
}

// List returns all services.
func (s *ServiceAdminImpl) List(ctx context.Context) ([]model.Service, error) {
	return s.repo.List(ctx)
}

// Get returns a single service.
func (s *ServiceAdminImpl) Get(ctx context.Context, id uuid.UUID) (*model.Service, error) {
	return s.repo.GetByID(ctx, id)
}

// Update applies a partial patch.
func (s *ServiceAdminImpl) Update(ctx context.Context, id uuid.UUID, patch model.ServicePatch) (*model.Service, error) {
	if patch.Name != nil {
		n := strings.TrimSpace(*patch.Name)
		if n == "" {
			return nil, fmt.Errorf("%w: service name must not be empty", errs.ErrValidation)
		}
		patch.Name = &n
	}
	if patch.AllowedOrigins != nil {
		origins, err := cleanOrigins(*patch.AllowedOrigins)
		if err != nil {
			return nil, err
		}
		patch.AllowedOrigins = &origins
	}
	svc, err := s.repo.Update(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	s.log.Info("service updated", zap.String("service_id", id.String()), zap.Bool("active", svc.Active))
	return svc, nil
}

// RegenerateKeys delegates to the gateway.
func (s *ServiceAdminImpl) RegenerateKeys(ctx context.Context, id uuid.UUID) (model.ServiceCredentials, error) {
	return s.gw.RegenerateKeys(ctx, id)
}

// Delete removes the service; its API key stops working immediately.
func (s *ServiceAdminImpl) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Info("service deleted", zap.String("service_id", id.String()))
	return nil
}
