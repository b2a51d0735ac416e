package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/eduguest/guestidp/pkg/model"
)

// PostgresAuthnRequestStore persists pending exchanges in PostgreSQL.
type PostgresAuthnRequestStore struct {
	db *sql.DB
}

// NewPostgresAuthnRequestStore creates a store over an open connection pool.
func NewPostgresAuthnRequestStore(db *sql.DB) *PostgresAuthnRequestStore {
	return &PostgresAuthnRequestStore{db: db}
}

const authnRequestColumns = `id, request_id, issuer, acs_location, relay_state, requester_entity_id,
		hash, expires_at, user_id, account_linking_required, authn_context_class_refs,
		password_or_webauthn_flow, tiqr_flow, remember_me, remember_me_value,
		stepped_up, login_status, verification_code, retry_verification_code, service_name`

// Create inserts a fresh exchange and returns the stored copy.
func (s *PostgresAuthnRequestStore) Create(ctx context.Context, pending model.PendingRequest) (model.PendingRequest, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO authentication_requests (`+authnRequestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`, pending.ID, pending.RequestID, pending.Issuer, pending.ACSLocation, pending.RelayState,
		pending.RequesterEntityID, nullString(pending.Hash), pending.ExpiresAt, nullString(pending.UserID),
		pending.AccountLinkingRequired, pq.Array(pending.AuthnContextClassRefs),
		pending.PasswordOrWebAuthnFlow, pending.TiqrFlow, pending.RememberMe, pending.RememberMeValue,
		string(pending.SteppedUp), string(pending.LoginStatus),
		pending.VerificationCode, pending.RetryVerificationCode, pending.ServiceName)
	if err != nil {
		return model.PendingRequest{}, fmt.Errorf("failed to insert authentication request: %w", err)
	}
	return s.FindByID(ctx, pending.ID)
}

// FindByID loads an exchange by id.
func (s *PostgresAuthnRequestStore) FindByID(ctx context.Context, id string) (model.PendingRequest, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+authnRequestColumns+`
		FROM authentication_requests
		WHERE id = $1
	`, id)
	return scanAuthnRequest(row)
}

// ConsumeByHash atomically invalidates and returns the exchange holding the
// one-time completion key. The single UPDATE guarantees at-most-once
// consumption under concurrent completions.
func (s *PostgresAuthnRequestStore) ConsumeByHash(ctx context.Context, hash string) (model.PendingRequest, error) {
	if hash == "" {
		return model.PendingRequest{}, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `
		UPDATE authentication_requests
		SET hash = NULL
		WHERE hash = $1 AND expires_at > NOW()
		RETURNING `+authnRequestColumns+`
	`, hash)
	return scanAuthnRequest(row)
}

// Update replaces a stored exchange.
func (s *PostgresAuthnRequestStore) Update(ctx context.Context, pending model.PendingRequest) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE authentication_requests
		SET hash = $2, user_id = $3, remember_me = $4, remember_me_value = $5,
			stepped_up = $6, login_status = $7, verification_code = $8,
			retry_verification_code = $9, service_name = $10
		WHERE id = $1
	`, pending.ID, nullString(pending.Hash), nullString(pending.UserID),
		pending.RememberMe, pending.RememberMeValue,
		string(pending.SteppedUp), string(pending.LoginStatus),
		pending.VerificationCode, pending.RetryVerificationCode, pending.ServiceName)
	if err != nil {
		return fmt.Errorf("failed to update authentication request: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteExpired removes exchanges past their expiry timestamp.
func (s *PostgresAuthnRequestStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM authentication_requests WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired authentication requests: %w", err)
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAuthnRequest(row rowScanner) (model.PendingRequest, error) {
	var pending model.PendingRequest
	var hash, userID sql.NullString
	var steppedUp, loginStatus string
	err := row.Scan(&pending.ID, &pending.RequestID, &pending.Issuer, &pending.ACSLocation,
		&pending.RelayState, &pending.RequesterEntityID, &hash, &pending.ExpiresAt, &userID,
		&pending.AccountLinkingRequired, pq.Array(&pending.AuthnContextClassRefs),
		&pending.PasswordOrWebAuthnFlow, &pending.TiqrFlow, &pending.RememberMe, &pending.RememberMeValue,
		&steppedUp, &loginStatus, &pending.VerificationCode, &pending.RetryVerificationCode,
		&pending.ServiceName)
	if err == sql.ErrNoRows {
		return model.PendingRequest{}, ErrNotFound
	}
	if err != nil {
		return model.PendingRequest{}, fmt.Errorf("failed to scan authentication request: %w", err)
	}
	pending.Hash = hash.String
	pending.UserID = userID.String
	pending.SteppedUp = model.StepUpStatus(steppedUp)
	pending.LoginStatus = model.LoginStatus(loginStatus)
	return pending, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// PostgresUserStore persists guest users in PostgreSQL. The aggregate parts
// (linked accounts, per-service identifiers, credentials) live in JSON
// columns and travel with the user row.
type PostgresUserStore struct {
	db *sql.DB
}

// NewPostgresUserStore creates a store over an open connection pool.
func NewPostgresUserStore(db *sql.DB) *PostgresUserStore {
	return &PostgresUserStore{db: db}
}

const userColumns = `id, uid, email, given_name, family_name, schac_home_organization,
		authenticating_authority, password, forgotten_password, new_user, preferred_language,
		enrollment_verification_key, linked_accounts, eduid_per_service_provider,
		public_key_credentials, created, updated_at`

// Save inserts or replaces a user.
func (s *PostgresUserStore) Save(ctx context.Context, user *model.User) error {
	linkedAccounts, err := json.Marshal(user.LinkedAccounts)
	if err != nil {
		return fmt.Errorf("failed to marshal linked accounts: %w", err)
	}
	eduIDs, err := json.Marshal(user.EduIDPerServiceProvider)
	if err != nil {
		return fmt.Errorf("failed to marshal eduid map: %w", err)
	}
	credentials, err := json.Marshal(user.PublicKeyCredentials)
	if err != nil {
		return fmt.Errorf("failed to marshal public key credentials: %w", err)
	}
	if user.ID == "" {
		err = s.db.QueryRowContext(ctx, `
			INSERT INTO users (uid, email, given_name, family_name, schac_home_organization,
				authenticating_authority, password, forgotten_password, new_user, preferred_language,
				enrollment_verification_key, linked_accounts, eduid_per_service_provider,
				public_key_credentials, created, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
			RETURNING id
		`, user.UID, user.Email, user.GivenName, user.FamilyName, user.SchacHomeOrganization,
			user.AuthenticatingAuthority, user.Password, user.ForgottenPassword, user.NewUser,
			user.PreferredLanguage, nullString(user.EnrollmentVerificationKey),
			linkedAccounts, eduIDs, credentials, user.Created, user.UpdatedAt).Scan(&user.ID)
		if err != nil {
			return fmt.Errorf("failed to insert user: %w", err)
		}
		return nil
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE users
		SET uid = $2, email = $3, given_name = $4, family_name = $5, schac_home_organization = $6,
			authenticating_authority = $7, password = $8, forgotten_password = $9, new_user = $10,
			preferred_language = $11, enrollment_verification_key = $12, linked_accounts = $13,
			eduid_per_service_provider = $14, public_key_credentials = $15, updated_at = $16
		WHERE id = $1
	`, user.ID, user.UID, user.Email, user.GivenName, user.FamilyName, user.SchacHomeOrganization,
		user.AuthenticatingAuthority, user.Password, user.ForgottenPassword, user.NewUser,
		user.PreferredLanguage, nullString(user.EnrollmentVerificationKey),
		linkedAccounts, eduIDs, credentials, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	return nil
}

// FindByID loads a user by internal id.
func (s *PostgresUserStore) FindByID(ctx context.Context, id string) (*model.User, error) {
	return s.findOne(ctx, `WHERE id = $1`, id)
}

// FindByEmail loads a user by email.
func (s *PostgresUserStore) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.findOne(ctx, `WHERE email = $1`, email)
}

// FindByUID loads a user by uid.
func (s *PostgresUserStore) FindByUID(ctx context.Context, uid string) (*model.User, error) {
	return s.findOne(ctx, `WHERE uid = $1`, uid)
}

// FindByEduID loads the user owning the given pseudonymous identifier.
func (s *PostgresUserStore) FindByEduID(ctx context.Context, eduID string) (*model.User, error) {
	return s.findOne(ctx, `WHERE eduid_per_service_provider::text LIKE '%' || $1 || '%'`, eduID)
}

// FindByEnrollmentVerificationKey loads a user by enrollment key.
func (s *PostgresUserStore) FindByEnrollmentVerificationKey(ctx context.Context, key string) (*model.User, error) {
	if key == "" {
		return nil, ErrNotFound
	}
	return s.findOne(ctx, `WHERE enrollment_verification_key = $1`, key)
}

func (s *PostgresUserStore) findOne(ctx context.Context, where string, arg interface{}) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users `+where, arg)

	user := &model.User{}
	var enrollmentKey sql.NullString
	var linkedAccounts, eduIDs, credentials []byte
	err := row.Scan(&user.ID, &user.UID, &user.Email, &user.GivenName, &user.FamilyName,
		&user.SchacHomeOrganization, &user.AuthenticatingAuthority, &user.Password,
		&user.ForgottenPassword, &user.NewUser, &user.PreferredLanguage, &enrollmentKey,
		&linkedAccounts, &eduIDs, &credentials, &user.Created, &user.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	user.EnrollmentVerificationKey = enrollmentKey.String
	if len(linkedAccounts) > 0 {
		if err := json.Unmarshal(linkedAccounts, &user.LinkedAccounts); err != nil {
			return nil, fmt.Errorf("failed to unmarshal linked accounts: %w", err)
		}
	}
	if len(eduIDs) > 0 {
		if err := json.Unmarshal(eduIDs, &user.EduIDPerServiceProvider); err != nil {
			return nil, fmt.Errorf("failed to unmarshal eduid map: %w", err)
		}
	}
	if len(credentials) > 0 {
		if err := json.Unmarshal(credentials, &user.PublicKeyCredentials); err != nil {
			return nil, fmt.Errorf("failed to unmarshal public key credentials: %w", err)
		}
	}
	return user, nil
}
