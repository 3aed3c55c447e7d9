package vector

import (
	"context"
	"fmt"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// weaviateSchema implements SchemaClient on top of the Weaviate REST client.
type weaviateSchema struct {
	schema *weaviate.Client
}

// NewWeaviateSchema returns the SchemaClient used by EnsureClass and index listing.
func NewWeaviateSchema(client *weaviate.Client) SchemaClient {
	return &weaviateSchema{schema: client}
}

func (w *weaviateSchema) ClassExists(ctx context.Context, class string) (bool, error) {
	ok, err := w.schema.Schema().ClassExistenceChecker().WithClassName(class).Do(ctx)
	if err != nil {
		return false, fmt.Errorf("check class %s: %w", class, err)
	}
	return ok, nil
}

func (w *weaviateSchema) CreateClass(ctx context.Context, c *models.Class) error {
	if err := w.schema.Schema().ClassCreator().WithClass(c).Do(ctx); err != nil {
		return fmt.Errorf("create class %s: %w", c.Class, err)
	}
	return nil
}

func (w *weaviateSchema) GetClass(ctx context.Context, class string) (*models.Class, error) {
	c, err := w.schema.Schema().ClassGetter().WithClassName(class).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("get class %s: %w", class, err)
	}
	return c, nil
}

func (w *weaviateSchema) AddProperty(ctx context.Context, class string, p *models.Property) error {
	err := w.schema.Schema().PropertyCreator().WithClassName(class).WithProperty(p).Do(ctx)
	if err != nil {
		return fmt.Errorf("add property %s.%s: %w", class, p.Name, err)
	}
	return nil
}

func (w *weaviateSchema) ListClasses(ctx context.Context) ([]*models.Class, error) {
	dump, err := w.schema.Schema().Getter().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("list classes: %w", err)
	}
	return dump.Classes, nil
}
