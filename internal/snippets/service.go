package snippets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrSnippetNotFound indicates the requested snippet id has no durable record.
	ErrSnippetNotFound = errors.New("snippets: snippet not found")
	// ErrForbidden indicates the caller does not own the snippet.
	ErrForbidden = errors.New("snippets: caller is not the owner")
	// ErrInvalidTitle indicates an empty or oversized snippet title.
	ErrInvalidTitle = errors.New("snippets: invalid title")

	errMissingDatabase = errors.New("snippets: database connection required")
)

const maxTitleLength = 200

// ServiceConfig describes the dependencies required by the snippet service.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service owns durable snippet records: CRUD for the REST surface and the
// field-level read/write contract consumed by the collaboration engine.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService constructs the snippet service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, clock: clock, logger: logger}, nil
}

// CreateRequest carries the caller-supplied fields for a new snippet.
type CreateRequest struct {
	Title    string
	OwnerID  string
	Markup   string
	Style    string
	Script   string
	IsPublic bool
}

// Create stores a new snippet owned by the caller.
func (s *Service) Create(ctx context.Context, req CreateRequest) (Snippet, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" || len(title) > maxTitleLength {
		return Snippet{}, ErrInvalidTitle
	}

	id, err := uuid.NewV7()
	if err != nil {
		return Snippet{}, err
	}

	snippet := Snippet{
		ID:       id.String(),
		Title:    title,
		OwnerID:  req.OwnerID,
		Markup:   req.Markup,
		Style:    req.Style,
		Script:   req.Script,
		IsPublic: req.IsPublic,
	}
	if err := s.db.WithContext(ctx).Create(&snippet).Error; err != nil {
		return Snippet{}, err
	}
	return snippet, nil
}

// Get loads a snippet by id and counts the view.
func (s *Service) Get(ctx context.Context, id string) (Snippet, error) {
	snippet, err := s.load(ctx, id)
	if err != nil {
		return Snippet{}, err
	}
	if err := s.db.WithContext(ctx).Model(&snippet).
		UpdateColumn("views", gorm.Expr("views + 1")).Error; err != nil {
		return Snippet{}, err
	}
	snippet.Views++
	return snippet, nil
}

// UpdateRequest carries the optional fields of a snippet update; nil means unchanged.
type UpdateRequest struct {
	Title    *string
	Markup   *string
	Style    *string
	Script   *string
	IsPublic *bool
}

// Update applies an owner-authorized partial update.
func (s *Service) Update(ctx context.Context, id, callerID string, req UpdateRequest) (Snippet, error) {
	snippet, err := s.load(ctx, id)
	if err != nil {
		return Snippet{}, err
	}
	if snippet.OwnerID != callerID {
		return Snippet{}, ErrForbidden
	}

	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" || len(title) > maxTitleLength {
			return Snippet{}, ErrInvalidTitle
		}
		snippet.Title = title
	}
	if req.Markup != nil {
		snippet.Markup = *req.Markup
	}
	if req.Style != nil {
		snippet.Style = *req.Style
	}
	if req.Script != nil {
		snippet.Script = *req.Script
	}
	if req.IsPublic != nil {
		snippet.IsPublic = *req.IsPublic
	}

	if err := s.db.WithContext(ctx).Save(&snippet).Error; err != nil {
		return Snippet{}, err
	}
	return snippet, nil
}

// Delete removes an owner-authorized snippet.
func (s *Service) Delete(ctx context.Context, id, callerID string) error {
	snippet, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if snippet.OwnerID != callerID {
		return ErrForbidden
	}
	return s.db.WithContext(ctx).Delete(&Snippet{}, "id = ?", id).Error
}

// Fork copies a snippet's fields into a new public snippet owned by the caller
// and counts the fork on the source.
func (s *Service) Fork(ctx context.Context, id, callerID string) (Snippet, error) {
	source, err := s.load(ctx, id)
	if err != nil {
		return Snippet{}, err
	}

	fork, err := s.Create(ctx, CreateRequest{
		Title:    source.Title + " (fork)",
		OwnerID:  callerID,
		Markup:   source.Markup,
		Style:    source.Style,
		Script:   source.Script,
		IsPublic: true,
	})
	if err != nil {
		return Snippet{}, err
	}

	if err := s.db.WithContext(ctx).Model(&Snippet{}).Where("id = ?", source.ID).
		UpdateColumn("forks", gorm.Expr("forks + 1")).Error; err != nil {
		return Snippet{}, err
	}
	return fork, nil
}

// Page is one page of the public snippet listing.
type Page struct {
	Items []Snippet
	Total int64
	Page  int
	Limit int
}

// ListPublic returns public snippets ordered by most recently updated.
func (s *Service) ListPublic(ctx context.Context, page, limit int) (Page, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}

	var total int64
	if err := s.db.WithContext(ctx).Model(&Snippet{}).
		Where("is_public = ?", true).Count(&total).Error; err != nil {
		return Page{}, err
	}

	var items []Snippet
	err := s.db.WithContext(ctx).
		Where("is_public = ?", true).
		Order("updated_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return Page{}, err
	}

	return Page{Items: items, Total: total, Page: page, Limit: limit}, nil
}

// Exists reports whether a snippet id has a durable record.
func (s *Service) Exists(ctx context.Context, id string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Snippet{}).Where("id = ?", id).Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Fields reads the three editable field bodies for the collaboration engine.
func (s *Service) Fields(ctx context.Context, id string) (FieldContents, error) {
	snippet, err := s.load(ctx, id)
	if err != nil {
		return FieldContents{}, err
	}
	return FieldContents{Markup: snippet.Markup, Style: snippet.Style, Script: snippet.Script}, nil
}

// SaveFields overwrites the field bodies with checkpointed live state.
func (s *Service) SaveFields(ctx context.Context, id string, fields FieldContents, savedAt time.Time) error {
	result := s.db.WithContext(ctx).Model(&Snippet{}).Where("id = ?", id).Updates(map[string]interface{}{
		"markup":        fields.Markup,
		"style":         fields.Style,
		"script":        fields.Script,
		"last_saved_at": savedAt,
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrSnippetNotFound, id)
	}
	return nil
}

func (s *Service) load(ctx context.Context, id string) (Snippet, error) {
	var snippet Snippet
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&snippet).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Snippet{}, fmt.Errorf("%w: %s", ErrSnippetNotFound, id)
	}
	if err != nil {
		return Snippet{}, err
	}
	return snippet, nil
}
