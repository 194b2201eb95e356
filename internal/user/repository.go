package user

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/arkline/identity-api/internal/apperr"
	"github.com/arkline/identity-api/internal/database"
)

// Repository persists aggregates with bun. All writes go through InTx so a
// multi-record mutation either lands completely or not at all.
type Repository struct {
	db *bun.DB
}

func NewRepository(db *bun.DB) *Repository {
	return &Repository{db: db}
}

// InTx runs fn inside a serializable transaction. fn receives an Ops bound
// to the transaction; any error rolls everything back.
func (r *Repository) InTx(ctx context.Context, fn func(ctx context.Context, ops Ops) error) error {
	return r.db.RunInTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable}, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, &txOps{tx: tx})
	})
}

// Get reads the committed aggregate outside any transaction.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*Aggregate, error) {
	return loadAggregate(ctx, r.db, id)
}

// LookupVerificationToken resolves a submitted email-verification token to
// its owning user. An unknown token yields apperr.NotFound.
func (r *Repository) LookupVerificationToken(ctx context.Context, token uuid.UUID) (*VerificationClaim, error) {
	var settings database.UserSettings
	err := r.db.NewSelect().
		Model(&settings).
		Where("email_verification_token = ?", token).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("verification token not found")
	}
	if err != nil {
		return nil, err
	}
	if settings.EmailVerificationTokenExpiresAt == nil {
		return nil, apperr.NotFound("verification token not found")
	}
	return &VerificationClaim{
		UserID:    settings.UserID,
		Token:     token,
		ExpiresAt: *settings.EmailVerificationTokenExpiresAt,
	}, nil
}

// ListUsers pages through aggregates ordered by creation date, newest first.
func (r *Repository) ListUsers(ctx context.Context, page Page) ([]*Aggregate, int, error) {
	var users []database.User
	count, err := r.db.NewSelect().
		Model(&users).
		Order("created_date DESC").
		Limit(page.Size).
		Offset((page.Number - 1) * page.Size).
		ScanAndCount(ctx)
	if err != nil {
		return nil, 0, err
	}

	aggregates := make([]*Aggregate, 0, len(users))
	for i := range users {
		agg, err := loadAggregate(ctx, r.db, users[i].Identifier)
		if err != nil {
			return nil, 0, err
		}
		aggregates = append(aggregates, agg)
	}
	return aggregates, count, nil
}

// txOps implements Ops against a live transaction.
type txOps struct {
	tx bun.Tx
}

func (o *txOps) Get(ctx context.Context, id uuid.UUID) (*Aggregate, error) {
	return loadAggregate(ctx, o.tx, id)
}

func (o *txOps) Create(ctx context.Context, agg *Aggregate) error {
	now := time.Now().UTC()
	root := &database.User{
		Identifier:   agg.Identifier,
		FirstName:    agg.FirstName,
		LastName:     agg.LastName,
		ClientID:     agg.ClientID,
		Role:         agg.Role,
		Status:       string(agg.Status),
		Version:      agg.Version,
		CreatedDate:  now,
		ModifiedDate: now,
	}
	if _, err := o.tx.NewInsert().Model(root).Exec(ctx); err != nil {
		return err
	}

	communication := &database.UserCommunication{
		Identifier: agg.Communication.Identifier,
		UserID:     agg.Identifier,
		Email:      agg.Communication.Email,
		MobileNo:   agg.Communication.MobileNo,
		Status:     string(agg.Communication.Status),
	}
	if _, err := o.tx.NewInsert().Model(communication).Exec(ctx); err != nil {
		return err
	}

	credentials := &database.UserCredentials{
		Identifier: agg.Credentials.Identifier,
		UserID:     agg.Identifier,
		Username:   agg.Credentials.Username,
		Hash:       agg.Credentials.Hash,
		Salt:       agg.Credentials.Salt,
		Status:     string(agg.Credentials.Status),
	}
	if _, err := o.tx.NewInsert().Model(credentials).Exec(ctx); err != nil {
		return err
	}

	keys := &database.UserKeys{
		Identifier:            agg.Keys.Identifier,
		UserID:                agg.Identifier,
		AesSecretKey:          agg.Keys.AesSecretKey,
		HmacSecretKey:         agg.Keys.HmacSecretKey,
		RefreshToken:          agg.Keys.RefreshToken,
		RefreshTokenExpiresAt: agg.Keys.RefreshTokenExpiresAt,
		Status:                string(agg.Keys.Status),
	}
	if _, err := o.tx.NewInsert().Model(keys).Exec(ctx); err != nil {
		return err
	}

	settings := &database.UserSettings{
		Identifier:                      agg.Settings.Identifier,
		UserID:                          agg.Identifier,
		EmailVerificationToken:          agg.Settings.EmailVerificationToken,
		EmailVerificationTokenExpiresAt: agg.Settings.EmailVerificationTokenExpiresAt,
		IsEmailVerified:                 agg.Settings.IsEmailVerified,
		IsVerificationEmailSent:         agg.Settings.IsVerificationEmailSent,
		IsWelcomeEmailSent:              agg.Settings.IsWelcomeEmailSent,
		Status:                          string(agg.Settings.Status),
	}
	_, err := o.tx.NewInsert().Model(settings).Exec(ctx)
	return err
}

func (o *txOps) SetRefreshToken(ctx context.Context, id uuid.UUID, token string, expiresAt time.Time) error {
	_, err := o.tx.NewUpdate().
		Model((*database.UserKeys)(nil)).
		Set("refresh_token = ?", token).
		Set("refresh_token_expires_at = ?", expiresAt).
		Where("user_id = ?", id).
		Exec(ctx)
	return err
}

func (o *txOps) SetProfile(ctx context.Context, id uuid.UUID, p ProfileUpdate) error {
	_, err := o.tx.NewUpdate().
		Model((*database.User)(nil)).
		Set("first_name = ?", p.FirstName).
		Set("last_name = ?", p.LastName).
		Set("modified_date = ?", time.Now().UTC()).
		Where("identifier = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	_, err = o.tx.NewUpdate().
		Model((*database.UserCommunication)(nil)).
		Set("email = ?", p.Email).
		Set("mobile_no = ?", p.MobileNo).
		Where("user_id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	// Username tracks the email address.
	_, err = o.tx.NewUpdate().
		Model((*database.UserCredentials)(nil)).
		Set("username = ?", p.Email).
		Where("user_id = ?", id).
		Exec(ctx)
	return err
}

func (o *txOps) SetStatusAll(ctx context.Context, id uuid.UUID, status Status) error {
	_, err := o.tx.NewUpdate().
		Model((*database.User)(nil)).
		Set("status = ?", string(status)).
		Set("modified_date = ?", time.Now().UTC()).
		Where("identifier = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	for _, model := range []any{
		(*database.UserCommunication)(nil),
		(*database.UserCredentials)(nil),
		(*database.UserKeys)(nil),
		(*database.UserSettings)(nil),
	} {
		_, err = o.tx.NewUpdate().
			Model(model).
			Set("status = ?", string(status)).
			Where("user_id = ?", id).
			Exec(ctx)
		if err != nil {
			return err
		}
	}
	return nil
}

func (o *txOps) ConsumeVerification(ctx context.Context, id uuid.UUID) error {
	_, err := o.tx.NewUpdate().
		Model((*database.UserSettings)(nil)).
		Set("email_verification_token = NULL").
		Set("email_verification_token_expires_at = NULL").
		Set("is_email_verified = ?", true).
		Where("user_id = ?", id).
		Exec(ctx)
	return err
}

func (o *txOps) ReissueVerification(ctx context.Context, id uuid.UUID, token uuid.UUID, expiresAt time.Time) error {
	_, err := o.tx.NewUpdate().
		Model((*database.UserSettings)(nil)).
		Set("email_verification_token = ?", token).
		Set("email_verification_token_expires_at = ?", expiresAt).
		Where("user_id = ?", id).
		Exec(ctx)
	return err
}

func (o *txOps) BumpVersion(ctx context.Context, id uuid.UUID) error {
	_, err := o.tx.NewUpdate().
		Model((*database.User)(nil)).
		Set("version = version + 1").
		Set("modified_date = ?", time.Now().UTC()).
		Where("identifier = ?", id).
		Exec(ctx)
	return err
}

// loadAggregate assembles the five records into one aggregate. It works for
// both *bun.DB and bun.Tx, so transactional reads see uncommitted state.
func loadAggregate(ctx context.Context, db bun.IDB, id uuid.UUID) (*Aggregate, error) {
	var root database.User
	err := db.NewSelect().Model(&root).Where("identifier = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("user not found")
	}
	if err != nil {
		return nil, err
	}

	var communication database.UserCommunication
	if err := db.NewSelect().Model(&communication).Where("user_id = ?", id).Scan(ctx); err != nil {
		return nil, err
	}
	var credentials database.UserCredentials
	if err := db.NewSelect().Model(&credentials).Where("user_id = ?", id).Scan(ctx); err != nil {
		return nil, err
	}
	var keys database.UserKeys
	if err := db.NewSelect().Model(&keys).Where("user_id = ?", id).Scan(ctx); err != nil {
		return nil, err
	}
	var settings database.UserSettings
	if err := db.NewSelect().Model(&settings).Where("user_id = ?", id).Scan(ctx); err != nil {
		return nil, err
	}

	return &Aggregate{
		Identifier: root.Identifier,
		FirstName:  root.FirstName,
		LastName:   root.LastName,
		ClientID:   root.ClientID,
		Role:       root.Role,
		Status:     Status(root.Status),
		Version:    root.Version,
		Communication: Communication{
			Identifier: communication.Identifier,
			Email:      communication.Email,
			MobileNo:   communication.MobileNo,
			Status:     Status(communication.Status),
		},
		Credentials: Credentials{
			Identifier: credentials.Identifier,
			Username:   credentials.Username,
			Hash:       credentials.Hash,
			Salt:       credentials.Salt,
			Status:     Status(credentials.Status),
		},
		Keys: Keys{
			Identifier:            keys.Identifier,
			AesSecretKey:          keys.AesSecretKey,
			HmacSecretKey:         keys.HmacSecretKey,
			RefreshToken:          keys.RefreshToken,
			RefreshTokenExpiresAt: keys.RefreshTokenExpiresAt,
			Status:                Status(keys.Status),
		},
		Settings: Settings{
			Identifier:                      settings.Identifier,
			EmailVerificationToken:          settings.EmailVerificationToken,
			EmailVerificationTokenExpiresAt: settings.EmailVerificationTokenExpiresAt,
			IsEmailVerified:                 settings.IsEmailVerified,
			IsVerificationEmailSent:         settings.IsVerificationEmailSent,
			IsWelcomeEmailSent:              settings.IsWelcomeEmailSent,
			Status:                          Status(settings.Status),
		},
	}, nil
}
