package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"kesefly/internal/core"
)

const userColumns = `id, email, name, initial_balance, initial_savings, business_initial_balance, business_initial_savings`

func scanUser(row interface{ Scan(...any) error }) (core.User, error) {
	var u core.User
	err := row.Scan(&u.ID, &u.Email, &u.Name,
		&u.Baseline.InitialBalance, &u.Baseline.InitialSavings,
		&u.Baseline.BusinessInitialBalance, &u.Baseline.BusinessInitialSavings)
	return u, err
}

// CreateUser inserts a user with a zero baseline. apiKeyHash may be empty.
func (r *SQLiteRepository) CreateUser(ctx context.Context, email, name, apiKeyHash string) (core.User, error) {
	u := core.User{ID: newID(), Email: email, Name: name}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, name, api_key_hash, created_at) VALUES (?, ?, ?, ?, ?)`,
		u.ID, email, name, nullString(apiKeyHash), r.timestamp())
	if isUniqueViolation(err) {
		return core.User{}, fmt.Errorf("user %s: %w", email, core.ErrDuplicateEmail)
	}
	if err != nil {
		return core.User{}, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

func (r *SQLiteRepository) GetUser(ctx context.Context, id string) (core.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err != nil {
		return core.User{}, notFound(err, "user")
	}
	return u, nil
}

// UserByAPIKeyHash resolves the owner of an API key digest. An unknown
// digest is core.ErrUnauthorized.
func (r *SQLiteRepository) UserByAPIKeyHash(ctx context.Context, hash string) (core.User, error) {
	if hash == "" {
		return core.User{}, core.ErrUnauthorized
	}
	u, err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE api_key_hash = ?`, hash))
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, core.ErrUnauthorized
	}
	if err != nil {
		return core.User{}, fmt.Errorf("lookup api key: %w", err)
	}
	return u, nil
}

func (r *SQLiteRepository) SetAPIKeyHash(ctx context.Context, userID, hash string) error {
	return r.updateOne(ctx, "user", `UPDATE users SET api_key_hash = ? WHERE id = ?`, hash, userID)
}

func (r *SQLiteRepository) SetBaseline(ctx context.Context, userID string, b core.Baseline) error {
	return r.updateOne(ctx, "user", `UPDATE users SET initial_balance = ?, initial_savings = ?,
		business_initial_balance = ?, business_initial_savings = ? WHERE id = ?`,
		b.InitialBalance, b.InitialSavings, b.BusinessInitialBalance, b.BusinessInitialSavings, userID)
}

func (r *SQLiteRepository) GetBusinessProfile(ctx context.Context, userID string) (core.BusinessProfile, error) {
	p := core.BusinessProfile{UserID: userID}
	err := r.db.QueryRowContext(ctx,
		`SELECT company_id, company_name, address, phone, email FROM business_profiles WHERE user_id = ?`, userID).
		Scan(&p.CompanyID, &p.CompanyName, &p.Address, &p.Phone, &p.Email)
	if err != nil {
		return core.BusinessProfile{}, notFound(err, "business profile")
	}
	return p, nil
}

func (r *SQLiteRepository) SaveBusinessProfile(ctx context.Context, p core.BusinessProfile) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO business_profiles (user_id, company_id, company_name, address, phone, email)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET company_id = excluded.company_id, company_name = excluded.company_name,
			address = excluded.address, phone = excluded.phone, email = excluded.email`,
		p.UserID, p.CompanyID, p.CompanyName, p.Address, p.Phone, p.Email)
	if err != nil {
		return fmt.Errorf("save business profile: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) updateOne(ctx context.Context, what, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", what, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", what, core.ErrNotFound)
	}
	return nil
}
