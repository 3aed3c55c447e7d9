package vector

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/weaviate/weaviate/entities/models"
	"medichat/internal/apperr"
)

// SchemaClient defines the interface for Weaviate schema operations
type SchemaClient interface {
	ClassExists(ctx context.Context, className string) (bool, error)
	CreateClass(ctx context.Context, class *models.Class) error
	GetClass(ctx context.Context, className string) (*models.Class, error)
	AddProperty(ctx context.Context, className string, property *models.Property) error
	ListClasses(ctx context.Context) ([]*models.Class, error)
}

// Weaviate property names of a stored chunk.
const (
	PropContent = "content"
	PropSource  = "source"
	PropRecord  = "recordId"
)

// ClassName maps an index name such as "medi-chat" onto a valid Weaviate class name ("MediChat").
func ClassName(indexName string) string {
	var b strings.Builder
	upper := true
	for _, r := range indexName {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			upper = true
			continue
		}
		if upper {
			r = unicode.ToUpper(r)
			upper = false
		}
		b.WriteRune(r)
	}
	name := b.String()
	if name == "" || !unicode.IsLetter(rune(name[0])) {
		name = "Index" + name
	}
	return name
}

// Distance returns the Weaviate vector index distance for a metric.
func Distance(m Metric) string {
	switch m {
	case MetricDotProduct:
		return "dot"
	case MetricEuclidean:
		return "l2-squared"
	default:
		return "cosine"
	}
}

func chunkProperties() []*models.Property {
	return []*models.Property{
		{Name: PropContent, DataType: []string{"text"}},
		{Name: PropSource, DataType: []string{"string"}},
		{Name: PropRecord, DataType: []string{"string"}},
	}
}

// EnsureClass creates the class backing an index if it does not exist, and adds any
// missing chunk properties if it does. An existing class with another distance metric is
// a configuration error.
func EnsureClass(ctx context.Context, client SchemaClient, cfg IndexConfig) error {
	className := ClassName(cfg.Name)
	exists, err := client.ClassExists(ctx, className)
	if err != nil {
		return err
	}

	properties := chunkProperties()
	if !exists {
		class := &models.Class{
			Class:             className,
			Description:       fmt.Sprintf("Chunks of index %s (dimension %d)", cfg.Name, cfg.Dimension),
			Vectorizer:        "none",
			Properties:        properties,
			VectorIndexConfig: map[string]interface{}{"distance": Distance(cfg.Metric)},
		}
		return client.CreateClass(ctx, class)
	}

	class, err := client.GetClass(ctx, className)
	if err != nil {
		return err
	}

	if got := classDistance(class); got != "" && got != Distance(cfg.Metric) {
		return apperr.Configuration("ensure_index", "index %s uses distance %s, configured metric %s", cfg.Name, got, cfg.Metric)
	}

	existingProps := make(map[string]bool)
	for _, p := range class.Properties {
		existingProps[p.Name] = true
	}

	for _, p := range properties {
		if !existingProps[p.Name] {
			if err := client.AddProperty(ctx, className, p); err != nil {
				return err
			}
		}
	}

	return nil
}

func classDistance(class *models.Class) string {
	cfg, ok := class.VectorIndexConfig.(map[string]interface{})
	if !ok {
		return ""
	}
	d, _ := cfg["distance"].(string)
	return d
}
