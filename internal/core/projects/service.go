// Package projects mutates project records. Every read-modify-write for a
// project id runs through a WriteQueue so concurrent updates to the same
// project never interleave within this process.
package projects

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/reelforge/reelforge/internal/core"
	"github.com/reelforge/reelforge/internal/core/writequeue"
)

var (
	ErrNotFound     = errors.New("project not found")
	ErrInvalidInput = errors.New("invalid project input")
)

// Repository persists project records. GetProject returns nil, nil for a
// missing id.
type Repository interface {
	GetProject(ctx context.Context, id string) (*core.Project, error)
	SaveProject(ctx context.Context, project *core.Project) error
	ListProjects(ctx context.Context, limit int) ([]core.Project, error)
}

// Mutator edits a project in place. Returning an error aborts the save.
type Mutator func(project *core.Project) error

// Service is the single writer for project records.
type Service struct {
	repo   Repository
	queue  *writequeue.Queue
	Logger *logging.Logger
	Clock  func() time.Time
	NewID  func() string
}

// NewService wires a service over repo. A nil queue gets a private one.
func NewService(repo Repository, queue *writequeue.Queue) *Service {
	if queue == nil {
		queue = writequeue.New("projects")
	}
	return &Service{
		repo:  repo,
		queue: queue,
		Clock: time.Now,
		NewID: uuid.NewString,
	}
}

// CreateInput describes a new project.
type CreateInput struct {
	Title    string
	Prompt   string
	Metadata map[string]string
}

// Create stores a new draft project.
func (s *Service) Create(ctx context.Context, in CreateInput) (*core.Project, error) {
	if s == nil || s.repo == nil {
		return nil, errors.New("project service not configured")
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}

	now := s.now()
	project := &core.Project{
		ID:        s.NewID(),
		Title:     title,
		Status:    core.ProjectDraft,
		Prompt:    strings.TrimSpace(in.Prompt),
		Metadata:  in.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.queue.Run(ctx, project.ID, func(ctx context.Context) error {
		return s.repo.SaveProject(ctx, project)
	})
	if err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}

	s.info("Project created", zap.String("project", project.ID), zap.String("title", project.Title))
	return project.Clone(), nil
}

// Get returns the current record.
func (s *Service) Get(ctx context.Context, id string) (*core.Project, error) {
	if s == nil || s.repo == nil {
		return nil, errors.New("project service not configured")
	}
	project, err := s.repo.GetProject(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return project, nil
}

// List returns recent projects.
func (s *Service) List(ctx context.Context, limit int) ([]core.Project, error) {
	if s == nil || s.repo == nil {
		return nil, errors.New("project service not configured")
	}
	return s.repo.ListProjects(ctx, limit)
}

// Update applies mutate to the latest stored copy of the project. Updates for
// the same id are applied one at a time in call order.
func (s *Service) Update(ctx context.Context, id string, mutate Mutator) (*core.Project, error) {
	if s == nil || s.repo == nil {
		return nil, errors.New("project service not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: id is required", ErrInvalidInput)
	}
	if mutate == nil {
		return nil, fmt.Errorf("%w: mutator is required", ErrInvalidInput)
	}

	return writequeue.Do(ctx, s.queue, id, func(ctx context.Context) (*core.Project, error) {
		current, err := s.repo.GetProject(ctx, id)
		if err != nil {
			return nil, err
		}
		if current == nil {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}

		next := current.Clone()
		if err := mutate(next); err != nil {
			return nil, err
		}
		next.ID = current.ID
		next.Version = current.Version
		next.CreatedAt = current.CreatedAt
		if !next.Status.Valid() {
			return nil, fmt.Errorf("%w: status %q", ErrInvalidInput, next.Status)
		}

		if err := s.repo.SaveProject(ctx, next); err != nil {
			return nil, fmt.Errorf("save project %s: %w", id, err)
		}
		return next.Clone(), nil
	})
}

// SetStatus moves the project to status.
func (s *Service) SetStatus(ctx context.Context, id string, status core.ProjectStatus) (*core.Project, error) {
	return s.Update(ctx, id, func(p *core.Project) error {
		p.Status = status
		return nil
	})
}

// AttachAssets appends deliverables to the project and marks it ready.
func (s *Service) AttachAssets(ctx context.Context, id string, assets ...core.Asset) (*core.Project, error) {
	if len(assets) == 0 {
		return nil, fmt.Errorf("%w: no assets", ErrInvalidInput)
	}
	now := s.now()
	project, err := s.Update(ctx, id, func(p *core.Project) error {
		for _, asset := range assets {
			if asset.CreatedAt.IsZero() {
				asset.CreatedAt = now
			}
			p.Assets = append(p.Assets, asset)
		}
		p.Status = core.ProjectReady
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.info("Assets attached",
		zap.String("project", id),
		zap.Int("added", len(assets)),
		zap.Int("total", len(project.Assets)))
	return project, nil
}

func (s *Service) now() time.Time {
	if s.Clock == nil {
		return time.Now().UTC()
	}
	return s.Clock().UTC()
}

func (s *Service) info(msg string, fields ...zap.Field) {
	if s.Logger != nil {
		s.Logger.Info(msg, fields...)
	}
}
