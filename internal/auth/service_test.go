package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"

	"github.com/irisblue-leo/denexus-sub000/internal/models"
)

// ---------------------------------------------------------------------------
// In-memory mocks
// ---------------------------------------------------------------------------

type mockUsers struct {
	mu      sync.Mutex
	byEmail map[string]*models.User
}

func newMockUsers() *mockUsers {
	return &mockUsers{byEmail: make(map[string]*models.User)}
}

func (m *mockUsers) CreateTx(_ context.Context, _ pgx.Tx, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byEmail[u.Email]; exists {
		return &pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"}
	}
	cp := *u
	m.byEmail[u.Email] = &cp
	return nil
}

func (m *mockUsers) GetByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byEmail[email]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *u
	return &cp, nil
}

func (m *mockUsers) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byEmail {
		if u.ID == id {
			cp := *u
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

type mockKeys struct {
	mu        sync.Mutex
	keys      []*models.APIKey
	createErr error
}

func (m *mockKeys) Create(_ context.Context, k *models.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	cp := *k
	m.keys = append(m.keys, &cp)
	return nil
}

type bonusCall struct {
	userID uuid.UUID
	amount int
}

type mockBonus struct {
	mu    sync.Mutex
	calls []bonusCall
}

func (m *mockBonus) Credit(_ context.Context, _ pgx.Tx, userID uuid.UUID, amount int, _ string, _ *uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, bonusCall{userID, amount})
	return nil
}

// fakeTx satisfies pgx.Tx for code that only needs Commit/Rollback.
type fakeTx struct {
	pgx.Tx
	committed bool
}

func (t *fakeTx) Commit(context.Context) error   { t.committed = true; return nil }
func (t *fakeTx) Rollback(context.Context) error { return nil }

type fakePool struct {
	mu  sync.Mutex
	txs []*fakeTx
}

func (p *fakePool) Begin(context.Context) (pgx.Tx, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	tx := &fakeTx{}
	p.txs = append(p.txs, tx)
	return tx, nil
}

type fixture struct {
	svc   *service
	users *mockUsers
	keys  *mockKeys
	bonus *mockBonus
	pool  *fakePool
}

func newFixture() *fixture {
	f := &fixture{
		users: newMockUsers(),
		keys:  &mockKeys{},
		bonus: &mockBonus{},
		pool:  &fakePool{},
	}
	f.svc = NewService(f.pool, f.users, f.keys, f.bonus, "test-jwt-secret")
	return f
}

// ---------------------------------------------------------------------------
// Register
// ---------------------------------------------------------------------------

func TestRegister(t *testing.T) {
	f := newFixture()

	user, rawKey, err := f.svc.Register(context.Background(), "leo@example.com", "hunter22", "Leo")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if user.Credits != models.SignupBonusCredits {
		t.Errorf("credits: got %d, want %d", user.Credits, models.SignupBonusCredits)
	}
	// The bonus moves through the ledger, inside the committed registration
	// transaction.
	if len(f.bonus.calls) != 1 {
		t.Fatalf("bonus credits: got %d calls, want 1", len(f.bonus.calls))
	}
	if c := f.bonus.calls[0]; c.userID != user.ID || c.amount != models.SignupBonusCredits {
		t.Errorf("bonus call: got %+v", c)
	}
	if len(f.pool.txs) != 1 || !f.pool.txs[0].committed {
		t.Error("registration transaction should commit")
	}

	// The password is stored hashed, never in the clear.
	stored, err := f.users.GetByEmail(context.Background(), "leo@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if stored.PasswordHash == "hunter22" {
		t.Fatal("password must not be stored in the clear")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("hunter22")); err != nil {
		t.Errorf("stored hash should verify: %v", err)
	}

	// The first API key comes back raw exactly once; the store holds only
	// the hash.
	if !strings.HasPrefix(rawKey, keyPrefix) {
		t.Fatalf("raw key: got %q, want %q prefix", rawKey, keyPrefix)
	}
	if len(f.keys.keys) != 1 {
		t.Fatalf("stored keys: got %d, want 1", len(f.keys.keys))
	}
	sum := sha256.Sum256([]byte(rawKey))
	if f.keys.keys[0].KeyHash != hex.EncodeToString(sum[:]) {
		t.Error("stored hash should be SHA-256 of the raw key")
	}
	if f.keys.keys[0].KeyPrefix != rawKey[:12] {
		t.Error("stored prefix should identify the key without revealing it")
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	f := newFixture()

	if _, _, err := f.svc.Register(context.Background(), "leo@example.com", "hunter22", "Leo"); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	_, _, err := f.svc.Register(context.Background(), "leo@example.com", "other", "Leo 2")
	if !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got: %v", err)
	}
}

func TestRegisterToleratesKeyMintFailure(t *testing.T) {
	f := newFixture()
	f.keys.createErr = errors.New("db hiccup")

	user, rawKey, err := f.svc.Register(context.Background(), "leo@example.com", "hunter22", "Leo")
	if err != nil {
		t.Fatalf("Register should survive a failed key mint: %v", err)
	}
	if user == nil || rawKey != "" {
		t.Error("account should exist with no key to show")
	}
}

// ---------------------------------------------------------------------------
// Login / tokens
// ---------------------------------------------------------------------------

func TestLoginRoundTrip(t *testing.T) {
	f := newFixture()
	user, _, err := f.svc.Register(context.Background(), "leo@example.com", "hunter22", "Leo")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	token, err := f.svc.Login(context.Background(), "leo@example.com", "hunter22")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	got, err := f.svc.ValidateToken(context.Background(), token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if got != user.ID {
		t.Errorf("token subject: got %s, want %s", got, user.ID)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	f := newFixture()
	if _, _, err := f.svc.Register(context.Background(), "leo@example.com", "hunter22", "Leo"); err != nil {
		t.Fatal(err)
	}

	if _, err := f.svc.Login(context.Background(), "leo@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password: expected ErrInvalidCredentials, got: %v", err)
	}
	if _, err := f.svc.Login(context.Background(), "nobody@example.com", "hunter22"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown email: expected ErrInvalidCredentials, got: %v", err)
	}
}

func TestValidateTokenRejectsForgery(t *testing.T) {
	f := newFixture()
	other := NewService(f.pool, f.users, f.keys, f.bonus, "different-secret")

	token, err := other.issueToken(uuid.New())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.ValidateToken(context.Background(), token); err == nil {
		t.Error("a token signed with another secret must not validate")
	}
}
