// Package service provides the API-facing orchestration layer.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	apierrors "github.com/Good-Security/shadowpulse/internal/pkg/errors"

	"github.com/Good-Security/shadowpulse/internal/models"
	"github.com/Good-Security/shadowpulse/internal/normalize"
	"github.com/Good-Security/shadowpulse/internal/repository"
)

// CreateTargetRequest is the request for registering a target.
type CreateTargetRequest struct {
	Name       string          `json:"name" validate:"omitempty,max=200"`
	RootDomain string          `json:"root_domain" validate:"required,fqdn"`
	Scope      json.RawMessage `json:"scope,omitempty"`
}

// Graph is the recon-graph projection of one target.
type Graph struct {
	Target   *models.Target    `json:"target"`
	Assets   []*models.Asset   `json:"assets"`
	Services []*models.Service `json:"services"`
	Edges    []*models.Edge    `json:"edges"`
}

// TargetService manages targets and their graph projections.
type TargetService interface {
	Create(ctx context.Context, req CreateTargetRequest) (*models.Target, error)
	GetOrCreateByRootDomain(ctx context.Context, rootDomain string) (*models.Target, error)
	Get(ctx context.Context, id string) (*models.Target, error)
	List(ctx context.Context, limit int) ([]*models.Target, error)
	Graph(ctx context.Context, id string, status models.ArtifactStatus) (*Graph, error)
}

type targetService struct {
	targets   repository.TargetRepository
	inventory repository.InventoryRepository
}

// NewTargetService creates a target service.
func NewTargetService(targets repository.TargetRepository, inventory repository.InventoryRepository) TargetService {
	return &targetService{targets: targets, inventory: inventory}
}

func (s *targetService) Create(ctx context.Context, req CreateTargetRequest) (*models.Target, error) {
	root := normalize.Domain(req.RootDomain)
	if root == "" {
		return nil, apierrors.NewValidationError("root_domain", "must be a valid domain")
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = root
	}

	existing, err := s.targets.GetByRootDomain(ctx, root)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("target for %s already exists: %w", root, apierrors.ErrConflict)
	}

	return s.targets.Create(ctx, name, root, req.Scope)
}

// GetOrCreateByRootDomain bootstraps a target on demand with default
// scope.
func (s *targetService) GetOrCreateByRootDomain(ctx context.Context, rootDomain string) (*models.Target, error) {
	root := normalize.Domain(rootDomain)
	if root == "" {
		return nil, apierrors.NewValidationError("root_domain", "must be a valid domain")
	}
	target, _, err := s.targets.GetOrCreate(ctx, root, root, nil)
	return target, err
}

func (s *targetService) Get(ctx context.Context, id string) (*models.Target, error) {
	target, err := s.targets.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, fmt.Errorf("target %s: %w", id, apierrors.ErrNotFound)
	}
	return target, nil
}

func (s *targetService) List(ctx context.Context, limit int) ([]*models.Target, error) {
	return s.targets.List(ctx, limit)
}

// Graph assembles the asset/service/edge projection, optionally filtered
// by lifecycle status (edges carry no status and are always included).
func (s *targetService) Graph(ctx context.Context, id string, status models.ArtifactStatus) (*Graph, error) {
	target, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	assets, err := s.inventory.ListAssets(ctx, id, status, "", 1000)
	if err != nil {
		return nil, err
	}
	services, err := s.inventory.ListServices(ctx, id, status, 1000)
	if err != nil {
		return nil, err
	}
	edges, err := s.inventory.ListEdges(ctx, id, "", 1000)
	if err != nil {
		return nil, err
	}

	return &Graph{Target: target, Assets: assets, Services: services, Edges: edges}, nil
}

var _ TargetService = (*targetService)(nil)
