package terminology

import "context"

type Repository interface {
	// All returns the whole list for a code set in lookup order.
	All(ctx context.Context, codeSet string) ([]*Code, error)
	Search(ctx context.Context, codeSet, query string, limit int) ([]*Code, error)
}
