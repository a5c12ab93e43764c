package gateway

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var ErrSandboxDeclined = errors.New("gateway: sandbox declined the intent")

// Sandbox issues intents locally. It is used when no provider URL is
// configured and by tests.
type Sandbox struct {
	keyID  string
	secret string

	mu      sync.Mutex
	intents map[string]Intent
	decline bool
}

var _ Gateway = (*Sandbox)(nil)

func NewSandbox(keyID, secret string) *Sandbox {
	return &Sandbox{keyID: keyID, secret: secret, intents: make(map[string]Intent)}
}

// Decline makes subsequent CreateIntent calls fail
func (s *Sandbox) Decline(decline bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decline = decline
}

func (s *Sandbox) CreateIntent(_ context.Context, amountCents int64, currency, receipt string) (*Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.decline {
		return nil, ErrSandboxDeclined
	}

	intent := Intent{
		ID:       "order_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:14],
		Amount:   amountCents,
		Currency: currency,
		Receipt:  receipt,
		Status:   "created",
	}
	s.intents[intent.ID] = intent
	return &intent, nil
}

// Intent returns a previously issued intent
func (s *Sandbox) Intent(id string) (Intent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	intent, ok := s.intents[id]
	return intent, ok
}

// Sign produces the callback signature a real provider would send
func (s *Sandbox) Sign(intentID, paymentID string) string {
	return Sign(s.secret, intentID, paymentID)
}

func (s *Sandbox) VerifySignature(intentID, paymentID, signature string) bool {
	return VerifySignature(s.secret, intentID, paymentID, signature)
}

func (s *Sandbox) KeyID() string {
	return s.keyID
}
