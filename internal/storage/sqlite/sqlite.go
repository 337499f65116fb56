// Package sqlite implements storage.Repository on an embedded SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"fintrack/internal/core"
	"fintrack/internal/storage"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout keeps a fixed width so timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type Repository struct {
	db *sql.DB
}

var _ storage.Repository = (*Repository)(nil)

// DSN enables foreign keys (required for cascading deletes) on every pooled
// connection.
func DSN(path string) string {
	return "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// Open creates the database file if needed and applies pending migrations.
func Open(ctx context.Context, path string) (*Repository, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", DSN(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := migrate(path); err != nil {
		db.Close()
		return nil, err
	}
	return &Repository{db: db}, nil
}

// migrate uses its own connection since the migrate driver closes it.
func migrate(path string) error {
	migrateDB, err := sql.Open("sqlite", DSN(path))
	if err != nil {
		return fmt.Errorf("open migration database: %w", err)
	}
	driver, err := migratesqlite.WithInstance(migrateDB, &migratesqlite.Config{})
	if err != nil {
		migrateDB.Close()
		return fmt.Errorf("create sqlite driver: %w", err)
	}
	return storage.RunMigrations(migrationsFS, "migrations", "sqlite", driver)
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

const userColumns = `id, email, name, created_at`

func (r *Repository) CreateUser(ctx context.Context, u storage.NewUser) (core.User, error) {
	row := r.db.QueryRowContext(ctx,
		`INSERT INTO users (email, name, created_at) VALUES (?, ?, ?) RETURNING `+userColumns,
		u.Email, u.Name, formatTime(u.CreatedAt))
	user, err := scanUser(row)
	if err != nil {
		return core.User{}, mapError("create user", "user", err)
	}
	return user, nil
}

func (r *Repository) ListUsers(ctx context.Context) ([]core.User, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, mapError("list users", "user", err)
	}
	defer rows.Close()

	users := make([]core.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, mapError("list users", "user", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("list users", "user", err)
	}
	return users, nil
}

func (r *Repository) DeleteUser(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return mapError("delete user", "user", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapError("delete user", "user", err)
	}
	if n == 0 {
		return core.NewNotFoundError("user not found", nil)
	}
	return nil
}

const entryColumns = `id, user_id, amount_cents, category, description, date, created_at`

func (r *Repository) CreateExpense(ctx context.Context, e storage.NewExpense) (core.Expense, error) {
	row := r.db.QueryRowContext(ctx,
		`INSERT INTO expenses (user_id, amount_cents, category, description, date, created_at)
		 VALUES (?, ?, ?, ?, ?, ?) RETURNING `+entryColumns,
		e.UserID, e.Amount.Cents(), string(e.Category), nullableString(e.Description), e.Date.String(), formatTime(e.CreatedAt))
	en, err := scanEntry(row)
	if err != nil {
		return core.Expense{}, mapError("create expense", "expense", err)
	}
	return en.expense(), nil
}

func (r *Repository) GetExpense(ctx context.Context, id int64) (core.Expense, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM expenses WHERE id = ?`, id)
	en, err := scanEntry(row)
	if err != nil {
		return core.Expense{}, mapError("get expense", "expense", err)
	}
	return en.expense(), nil
}

func (r *Repository) ListExpenses(ctx context.Context, f storage.ExpenseFilter) ([]core.Expense, error) {
	var category any
	if f.Category != nil {
		category = string(*f.Category)
	}
	entries, err := r.listEntries(ctx, "expenses", f.UserID, category, f.Range)
	if err != nil {
		return nil, mapError("list expenses", "expense", err)
	}
	out := make([]core.Expense, len(entries))
	for i, en := range entries {
		out[i] = en.expense()
	}
	return out, nil
}

func (r *Repository) CreateEarning(ctx context.Context, e storage.NewEarning) (core.Earning, error) {
	row := r.db.QueryRowContext(ctx,
		`INSERT INTO earnings (user_id, amount_cents, category, description, date, created_at)
		 VALUES (?, ?, ?, ?, ?, ?) RETURNING `+entryColumns,
		e.UserID, e.Amount.Cents(), string(e.Category), nullableString(e.Description), e.Date.String(), formatTime(e.CreatedAt))
	en, err := scanEntry(row)
	if err != nil {
		return core.Earning{}, mapError("create earning", "earning", err)
	}
	return en.earning(), nil
}

func (r *Repository) GetEarning(ctx context.Context, id int64) (core.Earning, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM earnings WHERE id = ?`, id)
	en, err := scanEntry(row)
	if err != nil {
		return core.Earning{}, mapError("get earning", "earning", err)
	}
	return en.earning(), nil
}

func (r *Repository) ListEarnings(ctx context.Context, f storage.EarningFilter) ([]core.Earning, error) {
	var category any
	if f.Category != nil {
		category = string(*f.Category)
	}
	entries, err := r.listEntries(ctx, "earnings", f.UserID, category, f.Range)
	if err != nil {
		return nil, mapError("list earnings", "earning", err)
	}
	out := make([]core.Earning, len(entries))
	for i, en := range entries {
		out[i] = en.earning()
	}
	return out, nil
}

// listEntries serves both ledger tables; table is never user input.
func (r *Repository) listEntries(ctx context.Context, table string, userID int64, category any, dr storage.DateRange) ([]entry, error) {
	start, end := rangeArgs(dr)
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM `+table+`
		 WHERE user_id = ?1
		   AND (?2 IS NULL OR category = ?2)
		   AND (?3 IS NULL OR date >= ?3)
		   AND (?4 IS NULL OR date <= ?4)
		 ORDER BY date, id`,
		userID, category, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entry
	for rows.Next() {
		en, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, en)
	}
	return out, rows.Err()
}

const budgetColumns = `id, user_id, category, amount_cents, period, created_at, updated_at`

func (r *Repository) CreateBudget(ctx context.Context, b storage.NewBudget) (core.Budget, error) {
	ts := formatTime(b.CreatedAt)
	row := r.db.QueryRowContext(ctx,
		`INSERT INTO budgets (user_id, category, amount_cents, period, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?) RETURNING `+budgetColumns,
		b.UserID, string(b.Category), b.Amount.Cents(), string(b.Period), ts, ts)
	budget, err := scanBudget(row)
	if err != nil {
		return core.Budget{}, mapError("create budget", "budget", err)
	}
	return budget, nil
}

func (r *Repository) UpdateBudget(ctx context.Context, u storage.BudgetUpdate) (core.Budget, error) {
	var amount, period any
	if u.Amount != nil {
		amount = u.Amount.Cents()
	}
	if u.Period != nil {
		period = string(*u.Period)
	}
	row := r.db.QueryRowContext(ctx,
		`UPDATE budgets
		 SET amount_cents = COALESCE(?1, amount_cents),
		     period = COALESCE(?2, period),
		     updated_at = ?3
		 WHERE id = ?4
		 RETURNING `+budgetColumns,
		amount, period, formatTime(u.UpdatedAt), u.ID)
	budget, err := scanBudget(row)
	if err != nil {
		return core.Budget{}, mapError("update budget", "budget", err)
	}
	return budget, nil
}

func (r *Repository) ListBudgets(ctx context.Context, userID int64) ([]core.Budget, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+budgetColumns+` FROM budgets WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, mapError("list budgets", "budget", err)
	}
	defer rows.Close()

	budgets := make([]core.Budget, 0)
	for rows.Next() {
		b, err := scanBudget(rows)
		if err != nil {
			return nil, mapError("list budgets", "budget", err)
		}
		budgets = append(budgets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("list budgets", "budget", err)
	}
	return budgets, nil
}

const (
	spendingByCategoryQuery = `
		SELECT category, SUM(amount_cents)
		FROM expenses
		WHERE user_id = ?1
		  AND (?2 IS NULL OR date >= ?2)
		  AND (?3 IS NULL OR date <= ?3)
		GROUP BY category
		ORDER BY category`

	monthlyComparisonQuery = `
		SELECT month, SUM(income_cents), SUM(expense_cents)
		FROM (
			SELECT substr(date, 1, 7) AS month, 0 AS income_cents, amount_cents AS expense_cents
			FROM expenses
			WHERE user_id = ?1 AND (?2 IS NULL OR date >= ?2) AND (?3 IS NULL OR date <= ?3)
			UNION ALL
			SELECT substr(date, 1, 7), amount_cents, 0
			FROM earnings
			WHERE user_id = ?1 AND (?2 IS NULL OR date >= ?2) AND (?3 IS NULL OR date <= ?3)
		)
		GROUP BY month
		ORDER BY month`
)

// Dashboard runs both aggregates in one transaction so they read the same
// snapshot.
func (r *Repository) Dashboard(ctx context.Context, userID int64, dr storage.DateRange) (core.DashboardData, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.DashboardData{}, mapError("dashboard", "dashboard", err)
	}
	defer tx.Rollback()

	start, end := rangeArgs(dr)
	out := core.DashboardData{}.Normalize()

	rows, err := tx.QueryContext(ctx, spendingByCategoryQuery, userID, start, end)
	if err != nil {
		return core.DashboardData{}, mapError("dashboard by category", "dashboard", err)
	}
	for rows.Next() {
		var (
			category string
			cents    int64
		)
		if err := rows.Scan(&category, &cents); err != nil {
			rows.Close()
			return core.DashboardData{}, mapError("dashboard by category", "dashboard", err)
		}
		out.SpendingByCategory = append(out.SpendingByCategory, core.CategoryAmount{
			Category: core.ExpenseCategory(category),
			Amount:   core.MoneyFromCents(cents),
		})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return core.DashboardData{}, mapError("dashboard by category", "dashboard", err)
	}

	rows, err = tx.QueryContext(ctx, monthlyComparisonQuery, userID, start, end)
	if err != nil {
		return core.DashboardData{}, mapError("dashboard by month", "dashboard", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			month           string
			income, expense int64
		)
		if err := rows.Scan(&month, &income, &expense); err != nil {
			return core.DashboardData{}, mapError("dashboard by month", "dashboard", err)
		}
		out.MonthlyIncomeVsExpenses = append(out.MonthlyIncomeVsExpenses, core.MonthlyComparison{
			Month:    month,
			Income:   core.MoneyFromCents(income),
			Expenses: core.MoneyFromCents(expense),
		})
	}
	if err := rows.Err(); err != nil {
		return core.DashboardData{}, mapError("dashboard by month", "dashboard", err)
	}

	if err := tx.Commit(); err != nil {
		return core.DashboardData{}, mapError("dashboard", "dashboard", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(s rowScanner) (core.User, error) {
	var (
		u       core.User
		created string
	)
	if err := s.Scan(&u.ID, &u.Email, &u.Name, &created); err != nil {
		return core.User{}, err
	}
	var err error
	u.CreatedAt, err = parseTime(created)
	return u, err
}

// entry is a row of either ledger table.
type entry struct {
	id, userID  int64
	cents       int64
	category    string
	description *string
	date        core.Date
	createdAt   time.Time
}

func (e entry) expense() core.Expense {
	return core.Expense{
		ID: e.id, UserID: e.userID, Amount: core.MoneyFromCents(e.cents),
		Category: core.ExpenseCategory(e.category), Description: e.description,
		Date: e.date, CreatedAt: e.createdAt,
	}
}

func (e entry) earning() core.Earning {
	return core.Earning{
		ID: e.id, UserID: e.userID, Amount: core.MoneyFromCents(e.cents),
		Category: core.EarningCategory(e.category), Description: e.description,
		Date: e.date, CreatedAt: e.createdAt,
	}
}

func scanEntry(s rowScanner) (entry, error) {
	var (
		en            entry
		desc          sql.NullString
		date, created string
	)
	if err := s.Scan(&en.id, &en.userID, &en.cents, &en.category, &desc, &date, &created); err != nil {
		return entry{}, err
	}
	if desc.Valid {
		en.description = &desc.String
	}
	var err error
	if en.date, err = core.ParseDate(date); err != nil {
		return entry{}, fmt.Errorf("parse date %q: %w", date, err)
	}
	if en.createdAt, err = parseTime(created); err != nil {
		return entry{}, err
	}
	return en, nil
}

func scanBudget(s rowScanner) (core.Budget, error) {
	var (
		b                core.Budget
		category, period string
		cents            int64
		created, updated string
	)
	if err := s.Scan(&b.ID, &b.UserID, &category, &cents, &period, &created, &updated); err != nil {
		return core.Budget{}, err
	}
	b.Category = core.ExpenseCategory(category)
	b.Period = core.BudgetPeriod(period)
	b.Amount = core.MoneyFromCents(cents)
	var err error
	if b.CreatedAt, err = parseTime(created); err != nil {
		return core.Budget{}, err
	}
	if b.UpdatedAt, err = parseTime(updated); err != nil {
		return core.Budget{}, err
	}
	return b, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func rangeArgs(dr storage.DateRange) (start, end any) {
	if dr.Start != nil {
		start = dr.Start.String()
	}
	if dr.End != nil {
		end = dr.End.String()
	}
	return start, end
}

// mapError translates driver errors into core error kinds.
func mapError(op, entity string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return core.NewNotFoundError(entity+" not found", err)
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return core.NewConflictError("email already registered", err)
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return core.NewNotFoundError("user not found", err)
		}
		if se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
			msg := se.Error()
			switch {
			case strings.Contains(msg, "UNIQUE"):
				return core.NewConflictError("email already registered", err)
			case strings.Contains(msg, "FOREIGN KEY"):
				return core.NewNotFoundError("user not found", err)
			}
		}
	}
	return core.NewStorageError(op, fmt.Errorf("%s: %w", op, err))
}
