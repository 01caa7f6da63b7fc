package extractor

import (
	"context"
	"errors"
)

// ErrInvalidToken is returned when the upstream service rejects a token.
var ErrInvalidToken = errors.New("Invalid API token") //nolint:staticcheck // message is shown to API clients verbatim

// Item is one record as delivered by the upstream service.
type Item struct {
	IDFromService  string
	Email          string
	FirstName      string
	LastName       string
	AdditionalData map[string]any
}

type Extractor interface {
	Name() string
	ValidateToken(token string) bool
	Extract(ctx context.Context, token string) ([]Item, error)
}
