// Package auth registers users, issues JWTs for the dashboard, and mints
// API keys for the /v1 API.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"

	"github.com/irisblue-leo/denexus-sub000/internal/models"
)

var (
	// ErrDuplicateEmail is returned when registering with an email that already exists.
	ErrDuplicateEmail = errors.New("email already registered")

	// ErrInvalidCredentials covers unknown emails and wrong passwords alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

const keyPrefix = "dnx_"

// UserStore is the user persistence interface auth needs.
type UserStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, u *models.User) error
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// KeyStore persists API keys.
type KeyStore interface {
	Create(ctx context.Context, k *models.APIKey) error
}

// BonusGranter credits the signup bonus through the ledger inside the
// registration transaction.
type BonusGranter interface {
	Credit(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int, description string, orderID *uuid.UUID) error
}

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Service interface {
	Register(ctx context.Context, email, password, name string) (*models.User, string, error)
	Login(ctx context.Context, email, password string) (string, error)
	ValidateToken(ctx context.Context, token string) (uuid.UUID, error)
	MintAPIKey(ctx context.Context, userID uuid.UUID) (*models.APIKey, string, error)
}

type service struct {
	pool   TxBeginner
	users  UserStore
	keys   KeyStore
	ledger BonusGranter
	secret []byte
}

func NewService(pool TxBeginner, users UserStore, keys KeyStore, ledgerSvc BonusGranter, jwtSecret string) *service {
	return &service{pool: pool, users: users, keys: keys, ledger: ledgerSvc, secret: []byte(jwtSecret)}
}

// Ensure service implements Service at compile time.
var _ Service = (*service)(nil)

// Register creates the user with a ledger-backed signup bonus and mints the
// first API key. The raw key is returned exactly once; only its hash is
// stored.
func (s *service) Register(ctx context.Context, email, password, name string) (*models.User, string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", err
	}

	user := &models.User{
		ID:           uuid.New(),
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.users.CreateTx(ctx, tx, user); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, "", ErrDuplicateEmail
		}
		return nil, "", err
	}
	if err := s.ledger.Credit(ctx, tx, user.ID, models.SignupBonusCredits, "signup bonus", nil); err != nil {
		return nil, "", err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, "", fmt.Errorf("commit tx: %w", err)
	}
	user.Credits = models.SignupBonusCredits

	_, rawKey, err := s.MintAPIKey(ctx, user.ID)
	if err != nil {
		// The account exists; the user can mint a key from the dashboard.
		return user, "", nil
	}
	return user, rawKey, nil
}

func (s *service) Login(ctx context.Context, email, password string) (string, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrInvalidCredentials
		}
		return "", err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return s.issueToken(user.ID)
}

func (s *service) issueToken(userID uuid.UUID) (string, error) {
	c := jwt.RegisteredClaims{
		Subject:   userID.String(),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(s.secret)
}

func (s *service) ValidateToken(ctx context.Context, token string) (uuid.UUID, error) {
	tok, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	c, ok := tok.Claims.(*jwt.RegisteredClaims)
	if !ok || !tok.Valid {
		return uuid.Nil, errors.New("invalid token")
	}
	return uuid.Parse(c.Subject)
}

// MintAPIKey creates an API key and returns the raw secret once.
func (s *service) MintAPIKey(ctx context.Context, userID uuid.UUID) (*models.APIKey, string, error) {
	rawBytes := make([]byte, 32)
	if _, err := rand.Read(rawBytes); err != nil {
		return nil, "", err
	}
	rawKey := keyPrefix + hex.EncodeToString(rawBytes)
	hash := sha256.Sum256([]byte(rawKey))

	k := &models.APIKey{
		ID:        uuid.New(),
		UserID:    userID,
		KeyHash:   hex.EncodeToString(hash[:]),
		KeyPrefix: rawKey[:12],
		IsActive:  true,
	}
	if err := s.keys.Create(ctx, k); err != nil {
		return nil, "", err
	}
	return k, rawKey, nil
}
