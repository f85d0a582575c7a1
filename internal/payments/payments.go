// Package payments talks to the external card processor used for credit
// instruments. Only a simulated processor ships with the store.
package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"libreria/internal/models"

	"github.com/google/uuid"
)

// ErrDeclined is returned when the processor refuses an operation.
var ErrDeclined = errors.New("declined by processor")

// Processor captures and credits money on credit instruments. Every call
// carries an idempotency key; repeating a key returns the first result.
type Processor interface {
	Charge(ctx context.Context, instrumentID string, amount models.Money, idempotencyKey string) (reference string, err error)
	Refund(ctx context.Context, chargeReference string, amount models.Money, idempotencyKey string) (reference string, err error)
	Credit(ctx context.Context, instrumentID string, amount models.Money, idempotencyKey string) (reference string, err error)
}

// SimulatedProcessor approves everything unless told to fail.
type SimulatedProcessor struct {
	mu      sync.Mutex
	results map[string]string
	failing map[string]error
	calls   []Call
}

// Call records one operation that reached the simulated processor.
type Call struct {
	Operation      string
	Target         string
	Amount         models.Money
	IdempotencyKey string
	Reference      string
}

func NewSimulatedProcessor() *SimulatedProcessor {
	return &SimulatedProcessor{
		results: make(map[string]string),
		failing: make(map[string]error),
	}
}

// FailNext makes the next call of operation ("charge", "refund" or "credit")
// fail with err, or ErrDeclined when err is nil.
func (p *SimulatedProcessor) FailNext(operation string, err error) {
	if err == nil {
		err = ErrDeclined
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failing[operation] = err
}

// Calls returns every successful call in order.
func (p *SimulatedProcessor) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Call, len(p.calls))
	copy(out, p.calls)
	return out
}

func (p *SimulatedProcessor) Charge(ctx context.Context, instrumentID string, amount models.Money, key string) (string, error) {
	return p.do(ctx, "charge", instrumentID, amount, key)
}

func (p *SimulatedProcessor) Refund(ctx context.Context, chargeReference string, amount models.Money, key string) (string, error) {
	return p.do(ctx, "refund", chargeReference, amount, key)
}

func (p *SimulatedProcessor) Credit(ctx context.Context, instrumentID string, amount models.Money, key string) (string, error) {
	return p.do(ctx, "credit", instrumentID, amount, key)
}

func (p *SimulatedProcessor) do(ctx context.Context, op, target string, amount models.Money, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if amount <= 0 {
		return "", fmt.Errorf("%s of %s: amount must be positive", op, amount)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if ref, ok := p.results[op+":"+key]; ok {
		return ref, nil
	}
	if err, ok := p.failing[op]; ok {
		delete(p.failing, op)
		return "", err
	}
	ref := fmt.Sprintf("%s-%s", strings.ToUpper(op[:2]), strings.ToUpper(uuid.New().String()[:12]))
	p.results[op+":"+key] = ref
	p.calls = append(p.calls, Call{Operation: op, Target: target, Amount: amount, IdempotencyKey: key, Reference: ref})
	return ref, nil
}
