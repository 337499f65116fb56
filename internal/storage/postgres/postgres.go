// Package postgres implements storage.Repository on a pgx connection pool.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"

	"fintrack/internal/core"
	"fintrack/internal/storage"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

type Repository struct {
	pool *pgxpool.Pool
}

var _ storage.Repository = (*Repository)(nil)

// Open migrates the database behind dsn and connects a pool of at most
// maxConns connections.
func Open(ctx context.Context, dsn string, maxConns int32) (*Repository, error) {
	if err := migrate(dsn); err != nil {
		return nil, err
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Repository{pool: pool}, nil
}

func migrate(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open migration database: %w", err)
	}
	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		db.Close()
		return fmt.Errorf("create pgx driver: %w", err)
	}
	return storage.RunMigrations(migrationsFS, "migrations", "pgx5", driver)
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *Repository) Close() error {
	r.pool.Close()
	return nil
}

const userColumns = `id, email, name, created_at`

func (r *Repository) CreateUser(ctx context.Context, u storage.NewUser) (core.User, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO users (email, name, created_at) VALUES ($1, $2, $3) RETURNING `+userColumns,
		u.Email, u.Name, u.CreatedAt)
	var user core.User
	if err := row.Scan(&user.ID, &user.Email, &user.Name, &user.CreatedAt); err != nil {
		return core.User{}, mapError("create user", "user", err)
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return user, nil
}

func (r *Repository) ListUsers(ctx context.Context) ([]core.User, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, mapError("list users", "user", err)
	}
	users, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.User, error) {
		var u core.User
		err := row.Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt)
		u.CreatedAt = u.CreatedAt.UTC()
		return u, err
	})
	if err != nil {
		return nil, mapError("list users", "user", err)
	}
	return nonNil(users), nil
}

func (r *Repository) DeleteUser(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return mapError("delete user", "user", err)
	}
	if tag.RowsAffected() == 0 {
		return core.NewNotFoundError("user not found", nil)
	}
	return nil
}

// Categories travel as text and are cast to their enum types in SQL.
const entryColumns = `id, user_id, amount, category::text, description, date, created_at`

func (r *Repository) CreateExpense(ctx context.Context, e storage.NewExpense) (core.Expense, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO expenses (user_id, amount, category, description, date, created_at)
		 VALUES ($1, $2::numeric, $3::expense_category, $4, $5, $6) RETURNING `+entryColumns,
		e.UserID, e.Amount.String(), string(e.Category), e.Description, e.Date.Time, e.CreatedAt)
	en, err := scanEntry(row)
	if err != nil {
		return core.Expense{}, mapError("create expense", "expense", err)
	}
	return en.expense(), nil
}

func (r *Repository) GetExpense(ctx context.Context, id int64) (core.Expense, error) {
	en, err := scanEntry(r.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM expenses WHERE id = $1`, id))
	if err != nil {
		return core.Expense{}, mapError("get expense", "expense", err)
	}
	return en.expense(), nil
}

func (r *Repository) ListExpenses(ctx context.Context, f storage.ExpenseFilter) ([]core.Expense, error) {
	var category *string
	if f.Category != nil {
		c := string(*f.Category)
		category = &c
	}
	start, end := rangeArgs(f.Range)
	rows, err := r.pool.Query(ctx,
		`SELECT `+entryColumns+` FROM expenses
		 WHERE user_id = $1
		   AND ($2::expense_category IS NULL OR category = $2::expense_category)
		   AND ($3::date IS NULL OR date >= $3::date)
		   AND ($4::date IS NULL OR date <= $4::date)
		 ORDER BY date, id`,
		f.UserID, category, start, end)
	if err != nil {
		return nil, mapError("list expenses", "expense", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (entry, error) { return scanEntry(row) })
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
	row := r.pool.QueryRow(ctx,
		`INSERT INTO earnings (user_id, amount, category, description, date, created_at)
		 VALUES ($1, $2::numeric, $3::earning_category, $4, $5, $6) RETURNING `+entryColumns,
		e.UserID, e.Amount.String(), string(e.Category), e.Description, e.Date.Time, e.CreatedAt)
	en, err := scanEntry(row)
	if err != nil {
		return core.Earning{}, mapError("create earning", "earning", err)
	}
	return en.earning(), nil
}

func (r *Repository) GetEarning(ctx context.Context, id int64) (core.Earning, error) {
	en, err := scanEntry(r.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM earnings WHERE id = $1`, id))
	if err != nil {
		return core.Earning{}, mapError("get earning", "earning", err)
	}
	return en.earning(), nil
}

func (r *Repository) ListEarnings(ctx context.Context, f storage.EarningFilter) ([]core.Earning, error) {
	var category *string
	if f.Category != nil {
		c := string(*f.Category)
		category = &c
	}
	start, end := rangeArgs(f.Range)
	rows, err := r.pool.Query(ctx,
		`SELECT `+entryColumns+` FROM earnings
		 WHERE user_id = $1
		   AND ($2::earning_category IS NULL OR category = $2::earning_category)
		   AND ($3::date IS NULL OR date >= $3::date)
		   AND ($4::date IS NULL OR date <= $4::date)
		 ORDER BY date, id`,
		f.UserID, category, start, end)
	if err != nil {
		return nil, mapError("list earnings", "earning", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (entry, error) { return scanEntry(row) })
	if err != nil {
		return nil, mapError("list earnings", "earning", err)
	}
	out := make([]core.Earning, len(entries))
	for i, en := range entries {
		out[i] = en.earning()
	}
	return out, nil
}

const budgetColumns = `id, user_id, category::text, amount, period::text, created_at, updated_at`

func (r *Repository) CreateBudget(ctx context.Context, b storage.NewBudget) (core.Budget, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO budgets (user_id, category, amount, period, created_at, updated_at)
		 VALUES ($1, $2::expense_category, $3::numeric, $4::budget_period, $5, $5) RETURNING `+budgetColumns,
		b.UserID, string(b.Category), b.Amount.String(), string(b.Period), b.CreatedAt)
	budget, err := scanBudget(row)
	if err != nil {
		return core.Budget{}, mapError("create budget", "budget", err)
	}
	return budget, nil
}

func (r *Repository) UpdateBudget(ctx context.Context, u storage.BudgetUpdate) (core.Budget, error) {
	var amount, period *string
	if u.Amount != nil {
		a := u.Amount.String()
		amount = &a
	}
	if u.Period != nil {
		p := string(*u.Period)
		period = &p
	}
	row := r.pool.QueryRow(ctx,
		`UPDATE budgets
		 SET amount = COALESCE($1::numeric, amount),
		     period = COALESCE($2::budget_period, period),
		     updated_at = $3
		 WHERE id = $4
		 RETURNING `+budgetColumns,
		amount, period, u.UpdatedAt, u.ID)
	budget, err := scanBudget(row)
	if err != nil {
		return core.Budget{}, mapError("update budget", "budget", err)
	}
	return budget, nil
}

func (r *Repository) ListBudgets(ctx context.Context, userID int64) ([]core.Budget, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+budgetColumns+` FROM budgets WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, mapError("list budgets", "budget", err)
	}
	budgets, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.Budget, error) { return scanBudget(row) })
	if err != nil {
		return nil, mapError("list budgets", "budget", err)
	}
	return nonNil(budgets), nil
}

const (
	spendingByCategoryQuery = `
		SELECT category::text, SUM(amount)
		FROM expenses
		WHERE user_id = $1
		  AND ($2::date IS NULL OR date >= $2::date)
		  AND ($3::date IS NULL OR date <= $3::date)
		GROUP BY category
		ORDER BY category::text`

	monthlyComparisonQuery = `
		SELECT month, SUM(income), SUM(expenses)
		FROM (
			SELECT to_char(date, 'YYYY-MM') AS month, 0::numeric AS income, amount AS expenses
			FROM expenses
			WHERE user_id = $1 AND ($2::date IS NULL OR date >= $2::date) AND ($3::date IS NULL OR date <= $3::date)
			UNION ALL
			SELECT to_char(date, 'YYYY-MM'), amount, 0::numeric
			FROM earnings
			WHERE user_id = $1 AND ($2::date IS NULL OR date >= $2::date) AND ($3::date IS NULL OR date <= $3::date)
		) AS activity
		GROUP BY month
		ORDER BY month`
)

// Dashboard reads both aggregates from one repeatable-read snapshot.
func (r *Repository) Dashboard(ctx context.Context, userID int64, dr storage.DateRange) (core.DashboardData, error) {
	out := core.DashboardData{}.Normalize()
	start, end := rangeArgs(dr)

	err := pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, spendingByCategoryQuery, userID, start, end)
		if err != nil {
			return err
		}
		byCategory, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.CategoryAmount, error) {
			var (
				c   core.CategoryAmount
				cat string
			)
			err := row.Scan(&cat, &c.Amount)
			c.Category = core.ExpenseCategory(cat)
			return c, err
		})
		if err != nil {
			return err
		}

		rows, err = tx.Query(ctx, monthlyComparisonQuery, userID, start, end)
		if err != nil {
			return err
		}
		monthly, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.MonthlyComparison, error) {
			var m core.MonthlyComparison
			err := row.Scan(&m.Month, &m.Income, &m.Expenses)
			return m, err
		})
		if err != nil {
			return err
		}

		out.SpendingByCategory = append(out.SpendingByCategory, byCategory...)
		out.MonthlyIncomeVsExpenses = append(out.MonthlyIncomeVsExpenses, monthly...)
		return nil
	})
	if err != nil {
		return core.DashboardData{}, mapError("dashboard", "dashboard", err)
	}
	return out, nil
}

type entry struct {
	id, userID  int64
	amount      core.Money
	category    string
	description *string
	date        time.Time
	createdAt   time.Time
}

func (e entry) expense() core.Expense {
	return core.Expense{
		ID: e.id, UserID: e.userID, Amount: e.amount,
		Category: core.ExpenseCategory(e.category), Description: e.description,
		Date: core.DateOf(e.date), CreatedAt: e.createdAt,
	}
}

func (e entry) earning() core.Earning {
	return core.Earning{
		ID: e.id, UserID: e.userID, Amount: e.amount,
		Category: core.EarningCategory(e.category), Description: e.description,
		Date: core.DateOf(e.date), CreatedAt: e.createdAt,
	}
}

func scanEntry(row pgx.Row) (entry, error) {
	var en entry
	err := row.Scan(&en.id, &en.userID, &en.amount, &en.category, &en.description, &en.date, &en.createdAt)
	// pgx decodes timestamptz in time.Local
	en.createdAt = en.createdAt.UTC()
	return en, err
}

func scanBudget(row pgx.Row) (core.Budget, error) {
	var (
		b                core.Budget
		category, period string
	)
	if err := row.Scan(&b.ID, &b.UserID, &category, &b.Amount, &period, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return core.Budget{}, err
	}
	b.Category = core.ExpenseCategory(category)
	b.Period = core.BudgetPeriod(period)
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
	return b, nil
}

func rangeArgs(dr storage.DateRange) (start, end *time.Time) {
	if dr.Start != nil {
		start = &dr.Start.Time
	}
	if dr.End != nil {
		end = &dr.End.Time
	}
	return start, end
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// mapError translates pgx errors into core error kinds.
func mapError(op, entity string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return core.NewNotFoundError(entity+" not found", err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolation:
			return core.NewConflictError("email already registered", err)
		case foreignKeyViolation:
			return core.NewNotFoundError("user not found", err)
		}
	}
	return core.NewStorageError(op, fmt.Errorf("%s: %w", op, err))
}
