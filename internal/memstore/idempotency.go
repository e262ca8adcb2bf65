package memstore

import (
	"context"
	"sync"
)

// Idempotency is the in-process counterpart of redisx.IdempotencyStore.
type Idempotency struct {
	mu     sync.Mutex
	tokens map[string]string // token -> order id, "" while in flight
}

func NewIdempotency() *Idempotency {
	return &Idempotency{tokens: map[string]string{}}
}

func (i *Idempotency) Reserve(_ context.Context, token string) (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, taken := i.tokens[token]; taken {
		return false, nil
	}
	i.tokens[token] = ""
	return true, nil
}

func (i *Idempotency) Complete(_ context.Context, token, orderID string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.tokens[token] = orderID
	return nil
}

func (i *Idempotency) Release(_ context.Context, token string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.tokens[token] == "" {
		delete(i.tokens, token)
	}
	return nil
}

func (i *Idempotency) Lookup(_ context.Context, token string) (string, bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	id := i.tokens[token]
	return id, id != "", nil
}

func (i *Idempotency) Forget(_ context.Context, token string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.tokens, token)
	return nil
}
