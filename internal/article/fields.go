package article

import (
	"errors"
	"fmt"
)

// Field names a staged enrichment attribute whose absence marks a record as
// pending for the corresponding stage.
type Field string

// Staged fields.
const (
	FieldCategories Field = "categories"
	FieldEmbedding  Field = "embedding"
	FieldKeywords   Field = "keywords"
	FieldSentiment  Field = "sentiment"
	FieldImageURL   Field = "image_url"
)

var (
	// ErrUnknownField is returned when a caller asks about a field that is not staged.
	ErrUnknownField = errors.New("unknown staged field")
	// ErrNotFound is returned when no document exists for an id.
	ErrNotFound = errors.New("article not found")
)

// ParseField validates a staged field name.
func ParseField(name string) (Field, error) {
	switch f := Field(name); f {
	case FieldCategories, FieldEmbedding, FieldKeywords, FieldSentiment, FieldImageURL:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
}
