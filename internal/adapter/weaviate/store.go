// Package weaviate stores chunk vectors as objects of one Weaviate class per index.
package weaviate

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"medichat/internal/apperr"
	"medichat/internal/vector"
)

// recordNamespace seeds the name-based UUIDs derived from record ids.
var recordNamespace = uuid.MustParse("6f0c8a4e-3f7e-4c55-9a0e-2b8d6f4b1c11")

// ObjectID maps a record id onto the deterministic object UUID Weaviate requires.
func ObjectID(recordID string) strfmt.UUID {
	return strfmt.UUID(uuid.NewSHA1(recordNamespace, []byte(recordID)).String())
}

// Store is bound to one index for its lifetime; its fields are never written after
// NewStore, so concurrent runs and queries share it freely.
type Store struct {
	client *weaviate.Client
	schema vector.SchemaClient
	cfg    vector.IndexConfig
	class  string
}

func NewStore(client *weaviate.Client, cfg vector.IndexConfig) *Store {
	return &Store{
		client: client,
		schema: vector.NewWeaviateSchema(client),
		cfg:    cfg,
		class:  vector.ClassName(cfg.Name),
	}
}

func (s *Store) EnsureIndex(ctx context.Context, cfg vector.IndexConfig) error {
	if err := s.cfg.CheckBound(cfg); err != nil {
		return err
	}
	return vector.EnsureClass(ctx, s.schema, s.cfg)
}

func (s *Store) Upsert(ctx context.Context, records []vector.Record) error {
	if len(records) == 0 {
		return nil
	}

	objects := make([]*models.Object, 0, len(records))
	for _, rec := range records {
		if err := vector.CheckDimension("upsert", rec.Vector, s.cfg.Dimension); err != nil {
			return err
		}
		source, _ := rec.Metadata["source"].(string)
		objects = append(objects, &models.Object{
			Class: s.class,
			ID:    ObjectID(rec.ID),
			Properties: map[string]interface{}{
				vector.PropContent: rec.Text,
				vector.PropSource:  source,
				vector.PropRecord:  rec.ID,
			},
			Vector: rec.Vector,
		})
	}

	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return err
	}

	var failed []string
	for _, r := range resp {
		if r.Result == nil || r.Result.Errors == nil {
			continue
		}
		for _, e := range r.Result.Errors.Error {
			failed = append(failed, e.Message)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("batch upsert: %d object errors: %s", len(failed), strings.Join(failed, "; "))
	}
	return nil
}

func (s *Store) Query(ctx context.Context, vec []float32, topK int) ([]vector.Match, error) {
	if err := vector.CheckDimension("query", vec, s.cfg.Dimension); err != nil {
		return nil, err
	}

	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(vec)

	fields := []graphql.Field{
		{Name: vector.PropContent},
		{Name: vector.PropSource},
		{Name: vector.PropRecord},
		{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
	}

	res, err := s.client.GraphQL().Get().
		WithClassName(s.class).
		WithNearVector(nearVector).
		WithLimit(topK).
		WithFields(fields...).
		Do(ctx)
	if err != nil {
		return nil, err
	}

	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
	}

	var matches []vector.Match
	data, _ := res.Data["Get"].(map[string]interface{})
	objects, _ := data[s.class].([]interface{})
	for _, o := range objects {
		props, ok := o.(map[string]interface{})
		if !ok {
			continue
		}
		m := vector.Match{Metadata: map[string]interface{}{}}
		m.Text, _ = props[vector.PropContent].(string)
		m.ID, _ = props[vector.PropRecord].(string)
		if source, ok := props[vector.PropSource].(string); ok {
			m.Metadata["source"] = source
		}
		if additional, ok := props["_additional"].(map[string]interface{}); ok {
			if d, ok := additional["distance"].(float64); ok {
				m.Score = score(s.cfg.Metric, d)
			}
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// score turns a Weaviate distance back into a higher-is-better similarity.
func score(metric vector.Metric, distance float64) float32 {
	if metric == vector.MetricCosine || metric == "" {
		return float32(1 - distance)
	}
	return float32(-distance)
}

func (s *Store) ListIndexes(ctx context.Context) ([]vector.IndexInfo, error) {
	classes, err := s.schema.ListClasses(ctx)
	if err != nil {
		return nil, err
	}
	infos := make([]vector.IndexInfo, 0, len(classes))
	for _, c := range classes {
		info := vector.IndexInfo{Name: c.Class, Ready: true}
		if cfg, ok := c.VectorIndexConfig.(map[string]interface{}); ok {
			info.Metric, _ = cfg["distance"].(string)
		}
		if c.Class == s.class {
			info.Dimension = s.cfg.Dimension
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Count returns the number of chunks stored in the index class.
func (s *Store) Count(ctx context.Context) (int, error) {
	res, err := s.client.GraphQL().Aggregate().
		WithClassName(s.class).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, err
	}
	if len(res.Errors) > 0 {
		return 0, apperr.Index("count", s.cfg.Name, fmt.Errorf("graphql error: %v", res.Errors[0].Message))
	}

	agg, _ := res.Data["Aggregate"].(map[string]interface{})
	rows, _ := agg[s.class].([]interface{})
	if len(rows) == 0 {
		return 0, nil
	}
	row, _ := rows[0].(map[string]interface{})
	meta, _ := row["meta"].(map[string]interface{})
	count, _ := meta["count"].(float64)
	return int(count), nil
}
