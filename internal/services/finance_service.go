package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"fintrack/internal/amqp"
	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/storage"
	"fintrack/internal/validation"
)

// EventPublisher announces committed writes. *amqp.Client satisfies it.
type EventPublisher interface {
	PublishLedgerEvent(ctx context.Context, evt *amqp.LedgerEvent) error
}

// HealthStatus is the healthcheck payload.
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// FinanceService validates procedure input, persists it through the
// repository and publishes a ledger event for every successful mutation.
type FinanceService struct {
	repo      storage.Repository
	publisher EventPublisher
	now       func() time.Time

	clockMu sync.Mutex
	last    time.Time
}

// Operation names match the procedure names of the dispatch layer.
const (
	opCreateUser    = "createUser"
	opListUsers     = "getUsers"
	opCreateExpense = "createExpense"
	opListExpenses  = "getUserExpenses"
	opCreateEarning = "createEarning"
	opListEarnings  = "getUserEarnings"
	opCreateBudget  = "createBudget"
	opUpdateBudget  = "updateBudget"
	opListBudgets   = "getUserBudgets"
	opDashboard     = "getDashboardData"
)

type Option func(*FinanceService)

// WithPublisher enables ledger events. Without one, events are skipped.
func WithPublisher(p EventPublisher) Option {
	return func(s *FinanceService) { s.publisher = p }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *FinanceService) { s.now = now }
}

func NewFinanceService(repo storage.Repository, opts ...Option) *FinanceService {
	s := &FinanceService{repo: repo, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// stamp returns the write timestamp: UTC, microsecond precision (the finest
// every backend stores) and strictly increasing within the process.
func (s *FinanceService) stamp() time.Time {
	t := s.now().UTC().Truncate(time.Microsecond)
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	if !t.After(s.last) {
		t = s.last.Add(time.Microsecond)
	}
	s.last = t
	return t
}

func (s *FinanceService) logger(ctx context.Context, op string) *log.Logger {
	return log.FromContext(ctx).WithComponent(log.ComponentFinance).With(log.NewFields().WithOperation(op)...)
}

// Health reports liveness and the current server time. It has no side effect.
func (s *FinanceService) Health(context.Context) HealthStatus {
	return HealthStatus{Status: "ok", Timestamp: s.now().UTC()}
}

// Ready reports whether the repository answers.
func (s *FinanceService) Ready(ctx context.Context) error {
	if err := s.repo.Ping(ctx); err != nil {
		return core.NewStorageError("ping", err)
	}
	return nil
}

func (s *FinanceService) CreateUser(ctx context.Context, in core.CreateUserInput) (core.User, error) {
	if err := validation.Validate(in); err != nil {
		return core.User{}, err
	}
	u, err := s.repo.CreateUser(ctx, storage.NewUser{Email: in.Email, Name: in.Name, CreatedAt: s.stamp()})
	if err != nil {
		return core.User{}, s.fail(ctx, opCreateUser, err)
	}
	s.logger(ctx, opCreateUser).InfoContext(ctx, "User created", log.FieldUserID, u.ID)
	s.publish(ctx, amqp.EntityUser, amqp.ActionCreated, u.ID, u.ID)
	return u, nil
}

func (s *FinanceService) ListUsers(ctx context.Context) ([]core.User, error) {
	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, s.fail(ctx, opListUsers, err)
	}
	return users, nil
}

func (s *FinanceService) CreateExpense(ctx context.Context, in core.CreateExpenseInput) (core.Expense, error) {
	if err := validation.Validate(in); err != nil {
		return core.Expense{}, err
	}
	e, err := s.repo.CreateExpense(ctx, storage.NewExpense{
		UserID:      in.UserID,
		Amount:      in.Amount,
		Category:    in.Category,
		Description: in.Description,
		Date:        in.Date,
		CreatedAt:   s.stamp(),
	})
	if err != nil {
		return core.Expense{}, s.fail(ctx, opCreateExpense, err)
	}
	s.logger(ctx, opCreateExpense).InfoContext(ctx, "Expense created",
		log.NewFields().WithUserID(e.UserID).WithEntityID(e.ID)...)
	s.publish(ctx, amqp.EntityExpense, amqp.ActionCreated, e.ID, e.UserID)
	return e, nil
}

func (s *FinanceService) ListExpenses(ctx context.Context, in core.ListExpensesInput) ([]core.Expense, error) {
	if err := validation.Validate(in); err != nil {
		return nil, err
	}
	out, err := s.repo.ListExpenses(ctx, storage.ExpenseFilter{
		UserID:   in.UserID,
		Category: in.Category,
		Range:    storage.DateRange{Start: in.StartDate, End: in.EndDate},
	})
	if err != nil {
		return nil, s.fail(ctx, opListExpenses, err)
	}
	return out, nil
}

func (s *FinanceService) CreateEarning(ctx context.Context, in core.CreateEarningInput) (core.Earning, error) {
	if err := validation.Validate(in); err != nil {
		return core.Earning{}, err
	}
	e, err := s.repo.CreateEarning(ctx, storage.NewEarning{
		UserID:      in.UserID,
		Amount:      in.Amount,
		Category:    in.Category,
		Description: in.Description,
		Date:        in.Date,
		CreatedAt:   s.stamp(),
	})
	if err != nil {
		return core.Earning{}, s.fail(ctx, opCreateEarning, err)
	}
	s.logger(ctx, opCreateEarning).InfoContext(ctx, "Earning created",
		log.NewFields().WithUserID(e.UserID).WithEntityID(e.ID)...)
	s.publish(ctx, amqp.EntityEarning, amqp.ActionCreated, e.ID, e.UserID)
	return e, nil
}

func (s *FinanceService) ListEarnings(ctx context.Context, in core.ListEarningsInput) ([]core.Earning, error) {
	if err := validation.Validate(in); err != nil {
		return nil, err
	}
	out, err := s.repo.ListEarnings(ctx, storage.EarningFilter{
		UserID:   in.UserID,
		Category: in.Category,
		Range:    storage.DateRange{Start: in.StartDate, End: in.EndDate},
	})
	if err != nil {
		return nil, s.fail(ctx, opListEarnings, err)
	}
	return out, nil
}

func (s *FinanceService) CreateBudget(ctx context.Context, in core.CreateBudgetInput) (core.Budget, error) {
	if err := validation.Validate(in); err != nil {
		return core.Budget{}, err
	}
	b, err := s.repo.CreateBudget(ctx, storage.NewBudget{
		UserID:    in.UserID,
		Category:  in.Category,
		Amount:    in.Amount,
		Period:    in.Period,
		CreatedAt: s.stamp(),
	})
	if err != nil {
		return core.Budget{}, s.fail(ctx, opCreateBudget, err)
	}
	s.logger(ctx, opCreateBudget).InfoContext(ctx, "Budget created",
		log.NewFields().WithUserID(b.UserID).WithEntityID(b.ID)...)
	s.publish(ctx, amqp.EntityBudget, amqp.ActionCreated, b.ID, b.UserID)
	return b, nil
}

// UpdateBudget applies the fields present in the input and always refreshes
// updated_at, even when nothing else changes.
func (s *FinanceService) UpdateBudget(ctx context.Context, in core.UpdateBudgetInput) (core.Budget, error) {
	if err := validation.Validate(in); err != nil {
		return core.Budget{}, err
	}
	b, err := s.repo.UpdateBudget(ctx, storage.BudgetUpdate{
		ID:        in.ID,
		Amount:    in.Amount,
		Period:    in.Period,
		UpdatedAt: s.stamp(),
	})
	if err != nil {
		return core.Budget{}, s.fail(ctx, opUpdateBudget, err)
	}
	s.logger(ctx, opUpdateBudget).InfoContext(ctx, "Budget updated",
		log.NewFields().WithUserID(b.UserID).WithEntityID(b.ID)...)
	s.publish(ctx, amqp.EntityBudget, amqp.ActionUpdated, b.ID, b.UserID)
	return b, nil
}

func (s *FinanceService) ListBudgets(ctx context.Context, in core.ListBudgetsInput) ([]core.Budget, error) {
	if err := validation.Validate(in); err != nil {
		return nil, err
	}
	out, err := s.repo.ListBudgets(ctx, in.UserID)
	if err != nil {
		return nil, s.fail(ctx, opListBudgets, err)
	}
	return out, nil
}

func (s *FinanceService) Dashboard(ctx context.Context, in core.DashboardInput) (core.DashboardData, error) {
	if err := validation.Validate(in); err != nil {
		return core.DashboardData{}, err
	}
	data, err := s.repo.Dashboard(ctx, in.UserID, storage.DateRange{Start: in.StartDate, End: in.EndDate})
	if err != nil {
		return core.DashboardData{}, s.fail(ctx, opDashboard, err)
	}
	return data.Normalize(), nil
}

// fail logs a repository error and makes sure it carries a kind.
func (s *FinanceService) fail(ctx context.Context, op string, err error) error {
	logger := s.logger(ctx, op)
	kind := core.KindOf(err)
	fields := log.NewFields().WithError(err)
	fields = append(fields, log.FieldErrorKind, kind)
	if kind == core.KindStorage {
		logger.ErrorContext(ctx, "Repository call failed", fields...)
	} else {
		logger.WarnContext(ctx, "Repository rejected request", fields...)
	}
	var coreErr *core.Error
	if !errors.As(err, &coreErr) {
		return core.NewStorageError(op, err)
	}
	return err
}

// publish emits a ledger event after a committed write. Failures are logged
// and never reach the caller.
func (s *FinanceService) publish(ctx context.Context, entity, action string, entityID, userID int64) {
	if s.publisher == nil {
		return
	}
	evt := amqp.NewLedgerEvent(entity, action, entityID, userID)
	if err := s.publisher.PublishLedgerEvent(ctx, evt); err != nil {
		log.FromContext(ctx).WithComponent(log.ComponentFinance).WarnContext(ctx, "Failed to publish ledger event",
			log.FieldEventType, evt.Type(),
			log.FieldEntityID, entityID,
			log.FieldError, err)
	}
}
