// Package memory is an in-process storage.Repository. It enforces the same
// constraints as the SQL backends: unique emails, owner references and
// cascading deletes.
package memory

import (
	"context"
	"sort"
	"sync"

	"fintrack/internal/core"
	"fintrack/internal/storage"
)

type Store struct {
	mu     sync.RWMutex
	nextID map[string]int64

	users    map[int64]core.User
	expenses map[int64]core.Expense
	earnings map[int64]core.Earning
	budgets  map[int64]core.Budget
}

var _ storage.Repository = (*Store)(nil)

func New() *Store {
	return &Store{
		nextID:   make(map[string]int64),
		users:    make(map[int64]core.User),
		expenses: make(map[int64]core.Expense),
		earnings: make(map[int64]core.Earning),
		budgets:  make(map[int64]core.Budget),
	}
}

func (s *Store) next(table string) int64 {
	s.nextID[table]++
	return s.nextID[table]
}

func (s *Store) requireUser(id int64) error {
	if _, ok := s.users[id]; !ok {
		return core.NewNotFoundError("user not found", nil)
	}
	return nil
}

func (s *Store) CreateUser(_ context.Context, u storage.NewUser) (core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.Email == u.Email {
			return core.User{}, core.NewConflictError("email already registered", nil)
		}
	}
	user := core.User{ID: s.next("users"), Email: u.Email, Name: u.Name, CreatedAt: u.CreatedAt}
	s.users[user.ID] = user
	return user, nil
}

func (s *Store) ListUsers(_ context.Context) ([]core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]core.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) DeleteUser(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireUser(id); err != nil {
		return err
	}
	delete(s.users, id)
	for k, e := range s.expenses {
		if e.UserID == id {
			delete(s.expenses, k)
		}
	}
	for k, e := range s.earnings {
		if e.UserID == id {
			delete(s.earnings, k)
		}
	}
	for k, b := range s.budgets {
		if b.UserID == id {
			delete(s.budgets, k)
		}
	}
	return nil
}

func (s *Store) CreateExpense(_ context.Context, e storage.NewExpense) (core.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireUser(e.UserID); err != nil {
		return core.Expense{}, err
	}
	exp := core.Expense{
		ID:          s.next("expenses"),
		UserID:      e.UserID,
		Amount:      e.Amount,
		Category:    e.Category,
		Description: cloneString(e.Description),
		Date:        e.Date,
		CreatedAt:   e.CreatedAt,
	}
	s.expenses[exp.ID] = exp
	return exp, nil
}

func (s *Store) GetExpense(_ context.Context, id int64) (core.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.expenses[id]
	if !ok {
		return core.Expense{}, core.NewNotFoundError("expense not found", nil)
	}
	return e, nil
}

func (s *Store) ListExpenses(_ context.Context, f storage.ExpenseFilter) ([]core.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.filterExpenses(f), nil
}

func (s *Store) filterExpenses(f storage.ExpenseFilter) []core.Expense {
	out := make([]core.Expense, 0)
	for _, e := range s.expenses {
		if e.UserID != f.UserID || !f.Range.Contains(e.Date) {
			continue
		}
		if f.Category != nil && e.Category != *f.Category {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return byDateThenID(out[i].Date, out[i].ID, out[j].Date, out[j].ID)
	})
	return out
}

func (s *Store) CreateEarning(_ context.Context, e storage.NewEarning) (core.Earning, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireUser(e.UserID); err != nil {
		return core.Earning{}, err
	}
	earn := core.Earning{
		ID:          s.next("earnings"),
		UserID:      e.UserID,
		Amount:      e.Amount,
		Category:    e.Category,
		Description: cloneString(e.Description),
		Date:        e.Date,
		CreatedAt:   e.CreatedAt,
	}
	s.earnings[earn.ID] = earn
	return earn, nil
}

func (s *Store) GetEarning(_ context.Context, id int64) (core.Earning, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.earnings[id]
	if !ok {
		return core.Earning{}, core.NewNotFoundError("earning not found", nil)
	}
	return e, nil
}

func (s *Store) ListEarnings(_ context.Context, f storage.EarningFilter) ([]core.Earning, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.filterEarnings(f), nil
}

func (s *Store) filterEarnings(f storage.EarningFilter) []core.Earning {
	out := make([]core.Earning, 0)
	for _, e := range s.earnings {
		if e.UserID != f.UserID || !f.Range.Contains(e.Date) {
			continue
		}
		if f.Category != nil && e.Category != *f.Category {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return byDateThenID(out[i].Date, out[i].ID, out[j].Date, out[j].ID)
	})
	return out
}

func (s *Store) CreateBudget(_ context.Context, b storage.NewBudget) (core.Budget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireUser(b.UserID); err != nil {
		return core.Budget{}, err
	}
	budget := core.Budget{
		ID:        s.next("budgets"),
		UserID:    b.UserID,
		Category:  b.Category,
		Amount:    b.Amount,
		Period:    b.Period,
		CreatedAt: b.CreatedAt,
		UpdatedAt: b.CreatedAt,
	}
	s.budgets[budget.ID] = budget
	return budget, nil
}

func (s *Store) UpdateBudget(_ context.Context, u storage.BudgetUpdate) (core.Budget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.budgets[u.ID]
	if !ok {
		return core.Budget{}, core.NewNotFoundError("budget not found", nil)
	}
	if u.Amount != nil {
		b.Amount = *u.Amount
	}
	if u.Period != nil {
		b.Period = *u.Period
	}
	b.UpdatedAt = u.UpdatedAt
	s.budgets[b.ID] = b
	return b, nil
}

func (s *Store) ListBudgets(_ context.Context, userID int64) ([]core.Budget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]core.Budget, 0)
	for _, b := range s.budgets {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Dashboard reads both tables under one read lock, so the two aggregates
// describe the same snapshot.
func (s *Store) Dashboard(_ context.Context, userID int64, r storage.DateRange) (core.DashboardData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	expenses := s.filterExpenses(storage.ExpenseFilter{UserID: userID, Range: r})
	earnings := s.filterEarnings(storage.EarningFilter{UserID: userID, Range: r})
	return core.BuildDashboard(expenses, earnings), nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func byDateThenID(da core.Date, ida int64, db core.Date, idb int64) bool {
	if !da.Equal(db.Time) {
		return da.Before(db.Time)
	}
	return ida < idb
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
