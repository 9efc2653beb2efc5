package weaviate

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-openapi/strfmt"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"kbingest/internal/vector"
)

const shardReady = "READY"

// Store implements vector.IndexClient and vector.RecordWriter on Weaviate.
// Each index is a Weaviate class.
type Store struct {
	client *weaviate.Client
}

func NewStore(client *weaviate.Client) *Store {
	return &Store{client: client}
}

func (s *Store) IndexExists(ctx context.Context, name string) (bool, error) {
	return s.client.Schema().ClassExistenceChecker().WithClassName(name).Do(ctx)
}

func (s *Store) CreateIndex(ctx context.Context, spec vector.IndexSpec) error {
	err := s.client.Schema().ClassCreator().WithClass(classFor(spec)).Do(ctx)
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "already exists") {
		return fmt.Errorf("%s: %w", spec.Name, vector.ErrIndexExists)
	}
	return err
}

// DescribeIndex reports ready once every shard of the class is READY.
func (s *Store) DescribeIndex(ctx context.Context, name string) (vector.IndexStatus, error) {
	shards, err := s.client.Schema().ShardsGetter().WithClassName(name).Do(ctx)
	if err != nil {
		return vector.IndexStatus{}, err
	}
	if len(shards) == 0 {
		return vector.IndexStatus{Ready: false}, nil
	}
	for _, sh := range shards {
		if sh == nil || sh.Status != shardReady {
			return vector.IndexStatus{Ready: false}, nil
		}
	}
	return vector.IndexStatus{Ready: true}, nil
}

// UpsertRecords writes records in one batch request. Objects are keyed by
// record id, so a repeated write replaces the earlier one.
func (s *Store) UpsertRecords(ctx context.Context, index string, records []vector.Record) error {
	objects := make([]*models.Object, 0, len(records))
	for _, r := range records {
		objects = append(objects, &models.Object{
			Class:      index,
			ID:         strfmt.UUID(r.ID),
			Properties: r.Metadata,
			Vector:     r.Vector,
		})
	}

	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return err
	}

	var failed []string
	for _, obj := range resp {
		if obj.Result == nil || obj.Result.Errors == nil {
			continue
		}
		for _, e := range obj.Result.Errors.Error {
			if e != nil {
				failed = append(failed, fmt.Sprintf("%s: %s", obj.ID, e.Message))
			}
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("batch rejected %d objects: %s", len(failed), strings.Join(failed, "; "))
	}
	return nil
}

// CountRecords returns the number of objects in index, or 0 when the index
// has not been created yet.
func (s *Store) CountRecords(ctx context.Context, index string) (int, error) {
	exists, err := s.IndexExists(ctx, index)
	if err != nil || !exists {
		return 0, err
	}

	res, err := s.client.GraphQL().Aggregate().
		WithClassName(index).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, err
	}
	if len(res.Errors) > 0 {
		return 0, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
	}

	agg, ok := res.Data["Aggregate"].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	rows, ok := agg[index].([]interface{})
	if !ok || len(rows) == 0 {
		return 0, nil
	}
	row, _ := rows[0].(map[string]interface{})
	meta, _ := row["meta"].(map[string]interface{})
	count, _ := meta["count"].(float64)
	return int(count), nil
}
