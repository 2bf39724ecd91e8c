package auth

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"jobmarket-sync/internal/common/errors"
)

const (
	failedAttemptLimit  = 5
	failedAttemptWindow = time.Minute
)

type memoryAccount struct {
	principal Principal
	password  string
}

// MemoryAuthenticator is the in-process provider used in development and
// tests. It applies the same error taxonomy as a real provider,
// including a small rate limit on repeated failures.
type MemoryAuthenticator struct {
	mu       sync.Mutex
	accounts map[string]*memoryAccount // keyed by email
	failures map[string][]time.Time
}

func NewMemoryAuthenticator() *MemoryAuthenticator {
	return &MemoryAuthenticator{
		accounts: make(map[string]*memoryAccount),
		failures: make(map[string][]time.Time),
	}
}

func (m *MemoryAuthenticator) SignIn(ctx context.Context, email, password string) (Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.rateLimitedLocked(email) {
		return Principal{}, errors.NewRateLimitedError("too many failed sign-in attempts")
	}

	account, ok := m.accounts[email]
	if !ok {
		m.recordFailureLocked(email)
		return Principal{}, errors.NewUnknownAccountError(email)
	}
	if account.password != password {
		m.recordFailureLocked(email)
		return Principal{}, errors.NewInvalidCredentialsError("password mismatch")
	}

	delete(m.failures, email)
	return account.principal, nil
}

func (m *MemoryAuthenticator) SignUp(ctx context.Context, email, password string) (Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[email]; ok {
		return Principal{}, errors.NewEmailInUseError(email)
	}

	principal := Principal{ID: uuid.New().String(), Email: email}
	m.accounts[email] = &memoryAccount{principal: principal, password: password}
	return principal, nil
}

func (m *MemoryAuthenticator) SignOut(ctx context.Context, principalID string) error {
	return nil
}

func (m *MemoryAuthenticator) rateLimitedLocked(email string) bool {
	cutoff := time.Now().Add(-failedAttemptWindow)
	recent := m.failures[email][:0]
	for _, t := range m.failures[email] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	m.failures[email] = recent
	return len(recent) >= failedAttemptLimit
}

func (m *MemoryAuthenticator) recordFailureLocked(email string) {
	m.failures[email] = append(m.failures[email], time.Now())
}
