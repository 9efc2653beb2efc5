package weaviate

import (
	"fmt"

	"github.com/weaviate/weaviate/entities/models"

	"kbingest/internal/vector"
)

// chunkProperties are declared up front so filters on ownership and
// provenance work before the first object lands. Other sanitized metadata
// keys are added by auto-schema.
func chunkProperties() []*models.Property {
	return []*models.Property{
		{
			Name:     vector.TextKey,
			DataType: []string{"text"},
		},
		{
			Name:         "ownerId",
			DataType:     []string{"text"},
			Tokenization: "field",
		},
		{
			Name:         "itemId",
			DataType:     []string{"text"},
			Tokenization: "field",
		},
		{
			Name:         "sourceType",
			DataType:     []string{"text"},
			Tokenization: "field",
		},
		{
			Name:     "title",
			DataType: []string{"text"},
		},
		{
			Name:     "description",
			DataType: []string{"text"},
		},
		{
			Name:         "url",
			DataType:     []string{"text"},
			Tokenization: "field",
		},
		{
			Name:     "chunkIndex",
			DataType: []string{"int"},
		},
	}
}

func classFor(spec vector.IndexSpec) *models.Class {
	return &models.Class{
		Class:       spec.Name,
		Description: fmt.Sprintf("Knowledge chunks (dimension %d)", spec.Dimension),
		Vectorizer:  "none",
		VectorIndexConfig: map[string]interface{}{
			"distance": spec.Metric,
		},
		Properties: chunkProperties(),
	}
}
