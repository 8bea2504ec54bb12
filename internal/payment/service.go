// Package payment sells credit packages and reconciles gateway webhooks
// into ledger credits.
package payment

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/irisblue-leo/denexus-sub000/internal/models"
)

var (
	// ErrUnknownPackage is returned for a package_id we don't sell.
	ErrUnknownPackage = errors.New("unknown credit package")

	// ErrOrderNotFound is returned when a webhook names an order_no we never
	// issued.
	ErrOrderNotFound = errors.New("order not found")

	// ErrOrderExpired is returned when payment arrives for an order past its
	// window. The money side is the gateway's problem; we refuse the credit.
	ErrOrderExpired = errors.New("order expired")
)

// orderWindow bounds how long a pending order stays payable.
const orderWindow = 30 * time.Minute

// Package is a purchasable credit bundle.
type Package struct {
	ID          string `json:"id"`
	Credits     int    `json:"credits"`
	AmountCents int    `json:"amount_cents"`
}

// Packages is the fixed catalog. Prices are in USD cents.
var Packages = []Package{
	{ID: "starter", Credits: 100, AmountCents: 499},
	{ID: "creator", Credits: 500, AmountCents: 1999},
	{ID: "studio", Credits: 2000, AmountCents: 6999},
}

// OrderRepo is the order persistence interface the payment service needs.
type OrderRepo interface {
	Create(ctx context.Context, o *models.Order) error
	GetByOrderNoForUpdate(ctx context.Context, tx pgx.Tx, orderNo string) (*models.Order, error)
	MarkPaidTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, transactionID string, paidAt time.Time) error
	ExpireStale(ctx context.Context) (int64, error)
	ListByUserID(ctx context.Context, userID uuid.UUID) ([]*models.Order, error)
}

// Ledger is the credit-granting interface the payment service needs.
type Ledger interface {
	Credit(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int, description string, orderID *uuid.UUID) error
}

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Service struct {
	Pool   TxBeginner
	Orders OrderRepo
	Ledger Ledger
	Logger *slog.Logger

	// now is swapped in tests for expiry checks.
	now func() time.Time
}

func NewService(pool TxBeginner, orders OrderRepo, ledgerSvc Ledger, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{Pool: pool, Orders: orders, Ledger: ledgerSvc, Logger: logger, now: time.Now}
}

// CreateOrder opens a pending order for the named package. Credits land
// only when the gateway confirms payment through Reconcile.
func (s *Service) CreateOrder(ctx context.Context, userID uuid.UUID, packageID string) (*models.Order, error) {
	pkg, ok := findPackage(packageID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPackage, packageID)
	}
	order := &models.Order{
		ID:          uuid.New(),
		OrderNo:     newOrderNo(),
		UserID:      userID,
		Credits:     pkg.Credits,
		AmountCents: pkg.AmountCents,
		Status:      models.OrderStatusPending,
		ExpireAt:    s.now().Add(orderWindow),
	}
	if err := s.Orders.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	s.Logger.Info("order created", "order_no", order.OrderNo, "user_id", userID,
		"package", pkg.ID, "credits", pkg.Credits)
	return order, nil
}

// Reconcile applies one gateway payment notification. Idempotent: the
// order row is locked, an already-paid order is acknowledged without a
// second credit, and the status flip plus the ledger credit commit in the
// same transaction.
func (s *Service) Reconcile(ctx context.Context, orderNo, transactionID string) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	order, err := s.Orders.GetByOrderNoForUpdate(ctx, tx, orderNo)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrOrderNotFound
		}
		return fmt.Errorf("lock order: %w", err)
	}

	switch order.Status {
	case models.OrderStatusPaid:
		s.Logger.Info("duplicate payment notification ignored",
			"order_no", orderNo, "transaction_id", transactionID)
		return nil
	case models.OrderStatusExpired:
		return ErrOrderExpired
	}
	if s.now().After(order.ExpireAt) {
		return ErrOrderExpired
	}

	if err := s.Orders.MarkPaidTx(ctx, tx, order.ID, transactionID, s.now()); err != nil {
		return fmt.Errorf("mark paid: %w", err)
	}
	desc := fmt.Sprintf("credit purchase, order %s", order.OrderNo)
	if err := s.Ledger.Credit(ctx, tx, order.UserID, order.Credits, desc, &order.ID); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	s.Logger.Info("order reconciled", "order_no", orderNo,
		"user_id", order.UserID, "credits", order.Credits)
	return nil
}

// ListOrders returns the user's orders, newest first.
func (s *Service) ListOrders(ctx context.Context, userID uuid.UUID) ([]*models.Order, error) {
	return s.Orders.ListByUserID(ctx, userID)
}

// ExpireStale sweeps pending orders past their window.
func (s *Service) ExpireStale(ctx context.Context) error {
	n, err := s.Orders.ExpireStale(ctx)
	if err != nil {
		return fmt.Errorf("expire orders: %w", err)
	}
	if n > 0 {
		s.Logger.Info("orders expired", "count", n)
	}
	return nil
}

func findPackage(id string) (Package, bool) {
	for _, p := range Packages {
		if p.ID == id {
			return p, true
		}
	}
	return Package{}, false
}

// newOrderNo builds a sortable, unguessable order number.
func newOrderNo() string {
	var b [6]byte
	rand.Read(b[:])
	return fmt.Sprintf("ORD-%s-%s", time.Now().UTC().Format("20060102150405"), hex.EncodeToString(b[:]))
}
