package vector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate/entities/models"
	"medichat/internal/apperr"
)

type MockSchemaClient struct {
	CreatedClass    *models.Class
	ExistingClass   *models.Class
	AddedProperties []*models.Property
	Classes         []*models.Class
}

func (m *MockSchemaClient) ClassExists(ctx context.Context, className string) (bool, error) {
	return m.ExistingClass != nil, nil
}

func (m *MockSchemaClient) CreateClass(ctx context.Context, class *models.Class) error {
	m.CreatedClass = class
	m.ExistingClass = class
	return nil
}

func (m *MockSchemaClient) GetClass(ctx context.Context, className string) (*models.Class, error) {
	return m.ExistingClass, nil
}

func (m *MockSchemaClient) AddProperty(ctx context.Context, className string, property *models.Property) error {
	m.AddedProperties = append(m.AddedProperties, property)
	return nil
}

func (m *MockSchemaClient) ListClasses(ctx context.Context) ([]*models.Class, error) {
	return m.Classes, nil
}

func TestClassName(t *testing.T) {
	assert.Equal(t, "MediChat", ClassName("medi-chat"))
	assert.Equal(t, "MedicalBot", ClassName("medical_bot"))
	assert.Equal(t, "Index2024Docs", ClassName("2024-docs"))
}

func TestEnsureClass_CreatesClass(t *testing.T) {
	client := &MockSchemaClient{}
	cfg := IndexConfig{Name: "medi-chat", Dimension: 384, Metric: MetricDotProduct}
	require.NoError(t, EnsureClass(context.Background(), client, cfg))

	require.NotNil(t, client.CreatedClass, "class not created")
	assert.Equal(t, "MediChat", client.CreatedClass.Class)
	assert.Equal(t, "none", client.CreatedClass.Vectorizer)
	assert.Equal(t, map[string]interface{}{"distance": "dot"}, client.CreatedClass.VectorIndexConfig)

	names := map[string]string{}
	for _, p := range client.CreatedClass.Properties {
		names[p.Name] = p.DataType[0]
	}
	assert.Equal(t, map[string]string{PropContent: "text", PropSource: "string", PropRecord: "string"}, names)
}

func TestEnsureClass_Idempotent(t *testing.T) {
	client := &MockSchemaClient{}
	cfg := IndexConfig{Name: "medi-chat", Dimension: 384, Metric: MetricCosine}
	require.NoError(t, EnsureClass(context.Background(), client, cfg))
	created := client.CreatedClass

	require.NoError(t, EnsureClass(context.Background(), client, cfg))
	assert.Same(t, created, client.CreatedClass, "should not recreate an existing class")
	assert.Empty(t, client.AddedProperties)
}

func TestEnsureClass_AddsMissingProperties(t *testing.T) {
	client := &MockSchemaClient{
		ExistingClass: &models.Class{
			Class:      "MediChat",
			Properties: []*models.Property{{Name: PropContent, DataType: []string{"text"}}},
		},
	}

	require.NoError(t, EnsureClass(context.Background(), client, IndexConfig{Name: "medi-chat", Dimension: 3, Metric: MetricCosine}))
	assert.Nil(t, client.CreatedClass)

	added := map[string]bool{}
	for _, p := range client.AddedProperties {
		added[p.Name] = true
	}
	assert.True(t, added[PropSource])
	assert.True(t, added[PropRecord])
	assert.False(t, added[PropContent], "should not re-add existing property")
}

func TestEnsureClass_MetricMismatch(t *testing.T) {
	client := &MockSchemaClient{
		ExistingClass: &models.Class{
			Class:             "MediChat",
			VectorIndexConfig: map[string]interface{}{"distance": "l2-squared"},
		},
	}

	err := EnsureClass(context.Background(), client, IndexConfig{Name: "medi-chat", Dimension: 3, Metric: MetricCosine})
	assert.ErrorIs(t, err, apperr.ErrConfiguration)
}
