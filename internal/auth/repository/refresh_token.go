package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/dispatchd/dispatch-backend/pkg/database"
	"github.com/dispatchd/dispatch-backend/pkg/errors"
	"github.com/dispatchd/dispatch-backend/pkg/reqctx"
)

// RefreshToken is a stored refresh-token row. The secret itself is never
// stored, only its bcrypt hash.
type RefreshToken struct {
	ID           string         `db:"id"`
	UserID       sql.NullString `db:"user_id"`
	MobileUserID sql.NullString `db:"mobile_user_id"`
	TokenHash    string         `db:"token_hash"`
	ExpiresAt    time.Time      `db:"expires_at"`
	IsRevoked    bool           `db:"is_revoked"`
	FamilyID     string         `db:"family_id"`
	CreatedAt    time.Time      `db:"created_at"`
}

// OwnerID returns the owning actor id and type.
func (t *RefreshToken) OwnerID() (string, reqctx.ActorType) {
	if t.MobileUserID.Valid {
		return t.MobileUserID.String, reqctx.ActorMobile
	}
	return t.UserID.String, reqctx.ActorWeb
}

// RefreshTokenRepository persists refresh tokens. The table carries no tenant
// policy because tokens are resolved before any tenant scope exists, so these
// methods run on the pool or on whatever transaction the caller hands in.
type RefreshTokenRepository struct {
	db *database.DB
}

// NewRefreshTokenRepository creates a new refresh token repository
func NewRefreshTokenRepository(db *database.DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

// Create inserts a token row.
func (r *RefreshTokenRepository) Create(ctx context.Context, q sqlx.ExtContext, t *RefreshToken) error {
	query := `
		INSERT INTO refresh_token (id, user_id, mobile_user_id, token_hash, expires_at, family_id)
		VALUES ($1, $2, $3, $4, $5, $6)`

	if _, err := q.ExecContext(ctx, query,
		t.ID, t.UserID, t.MobileUserID, t.TokenHash, t.ExpiresAt, t.FamilyID,
	); err != nil {
		return database.WrapError(err)
	}
	return nil
}

// FindByID loads a token row by its public id, revoked or not. The caller
// decides what a revoked row means.
func (r *RefreshTokenRepository) FindByID(ctx context.Context, q sqlx.ExtContext, id string) (*RefreshToken, error) {
	query := `
		SELECT id, user_id, mobile_user_id, token_hash, expires_at, is_revoked, family_id, created_at
		FROM refresh_token
		WHERE id = $1`

	var t RefreshToken
	if err := sqlx.GetContext(ctx, q, &t, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Unauthenticated("invalid refresh token")
		}
		return nil, database.WrapError(err)
	}
	return &t, nil
}

// Revoke marks one token row revoked.
func (r *RefreshTokenRepository) Revoke(ctx context.Context, q sqlx.ExtContext, id string) error {
	if _, err := q.ExecContext(ctx, `UPDATE refresh_token SET is_revoked = true WHERE id = $1`, id); err != nil {
		return database.WrapError(err)
	}
	return nil
}

// RevokeIfLive revokes the row only when it is still live, reporting whether
// this call won. Rotation uses it so two concurrent refreshes of the same
// token cannot both mint a successor.
func (r *RefreshTokenRepository) RevokeIfLive(ctx context.Context, q sqlx.ExtContext, id string) (bool, error) {
	res, err := q.ExecContext(ctx,
		`UPDATE refresh_token SET is_revoked = true WHERE id = $1 AND is_revoked = false`, id)
	if err != nil {
		return false, database.WrapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RevokeFamily revokes every token descended from the same original login.
// Called when a revoked token is presented again, which means the token
// leaked: either the legitimate client or the thief holds the live tail, and
// killing the family signs both out.
func (r *RefreshTokenRepository) RevokeFamily(ctx context.Context, q sqlx.ExtContext, familyID string) error {
	if _, err := q.ExecContext(ctx, `UPDATE refresh_token SET is_revoked = true WHERE family_id = $1`, familyID); err != nil {
		return database.WrapError(err)
	}
	return nil
}

// RevokeAllForActor revokes every live token an actor holds, across all
// families. Used by logout-everywhere and by blocking a mobile user.
func (r *RefreshTokenRepository) RevokeAllForActor(ctx context.Context, q sqlx.ExtContext, actorType reqctx.ActorType, actorID string) error {
	column := "user_id"
	if actorType == reqctx.ActorMobile {
		column = "mobile_user_id"
	}
	if _, err := q.ExecContext(ctx,
		`UPDATE refresh_token SET is_revoked = true WHERE `+column+` = $1 AND is_revoked = false`,
		actorID,
	); err != nil {
		return database.WrapError(err)
	}
	return nil
}

// DeleteExpired removes rows whose expiry passed more than the retention
// window ago. Run periodically from the server loop.
func (r *RefreshTokenRepository) DeleteExpired(ctx context.Context, retention time.Duration) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM refresh_token WHERE expires_at < $1`,
		time.Now().Add(-retention),
	)
	if err != nil {
		return 0, database.WrapError(err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
