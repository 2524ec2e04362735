package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pairpen/backend/internal/collab"
	"github.com/pairpen/backend/internal/snippets"
)

// snippetDocuments adapts the snippet service to the durable-store contract
// the collaboration engine consumes.
type snippetDocuments struct {
	service *snippets.Service
}

// NewSnippetDocuments wraps the snippet service as a collab.DocumentStore.
func NewSnippetDocuments(service *snippets.Service) collab.DocumentStore {
	return snippetDocuments{service: service}
}

func (d snippetDocuments) Exists(ctx context.Context, roomID string) (bool, error) {
	return d.service.Exists(ctx, roomID)
}

func (d snippetDocuments) Fields(ctx context.Context, roomID string) (map[collab.Field]string, error) {
	fields, err := d.service.Fields(ctx, roomID)
	if errors.Is(err, snippets.ErrSnippetNotFound) {
		return nil, fmt.Errorf("%w: %s", collab.ErrDocumentNotFound, roomID)
	}
	if err != nil {
		return nil, err
	}
	return map[collab.Field]string{
		collab.FieldMarkup: fields.Markup,
		collab.FieldStyle:  fields.Style,
		collab.FieldScript: fields.Script,
	}, nil
}

func (d snippetDocuments) SaveFields(ctx context.Context, roomID string, fields map[collab.Field]string, savedAt time.Time) error {
	return d.service.SaveFields(ctx, roomID, snippets.FieldContents{
		Markup: fields[collab.FieldMarkup],
		Style:  fields[collab.FieldStyle],
		Script: fields[collab.FieldScript],
	}, savedAt)
}
