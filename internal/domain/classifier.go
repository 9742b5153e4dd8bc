package domain

import "context"

// Classifier turns a feature vector into a fraud probability in [0, 1].
type Classifier interface {
	Score(ctx context.Context, f Features) (float64, error)

	// Ready reports whether a model is loaded.
	Ready() bool
}

// ReferenceDirectory maps account numbers to their registered holder.
type ReferenceDirectory interface {
	// Lookup returns ErrNotFound when the account is not registered.
	Lookup(ctx context.Context, account string) (string, error)
}
