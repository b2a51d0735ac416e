package storage

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var authnRequestTestColumns = []string{
	"id", "request_id", "issuer", "acs_location", "relay_state", "requester_entity_id",
	"hash", "expires_at", "user_id", "account_linking_required", "authn_context_class_refs",
	"password_or_webauthn_flow", "tiqr_flow", "remember_me", "remember_me_value",
	"stepped_up", "login_status", "verification_code", "retry_verification_code", "service_name",
}

func authnRequestRow(id, hash, userID string, expiresAt time.Time) *sqlmock.Rows {
	return sqlmock.NewRows(authnRequestTestColumns).
		AddRow(id, "req-1", "https://sp.example.com", "https://sp.example.com/acs", "relay", "",
			hash, expiresAt, userID, false, []byte("{}"),
			false, false, false, "",
			"none", "not_logged_in", "", 0, "")
}

func TestPostgresAuthnRequestStoreCreate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresAuthnRequestStore(db)
	pending := newPending(t)

	mock.ExpectExec("INSERT INTO authentication_requests").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT (.+) FROM authentication_requests").
		WithArgs(pending.ID).
		WillReturnRows(authnRequestRow(pending.ID, "", "", pending.ExpiresAt))

	stored, err := store.Create(context.Background(), pending)
	require.NoError(t, err)
	assert.Equal(t, pending.ID, stored.ID)
	assert.Equal(t, "https://sp.example.com/acs", stored.ACSLocation)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAuthnRequestStoreConsumeByHash(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresAuthnRequestStore(db)

	mock.ExpectQuery("UPDATE authentication_requests").
		WithArgs("one-time-key").
		WillReturnRows(authnRequestRow("pending-1", "", "user-1", time.Now().Add(time.Hour)))

	pending, err := store.ConsumeByHash(context.Background(), "one-time-key")
	require.NoError(t, err)
	assert.Equal(t, "pending-1", pending.ID)
	assert.Equal(t, "user-1", pending.UserID)
	assert.Empty(t, pending.Hash)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAuthnRequestStoreConsumeByHashMiss(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresAuthnRequestStore(db)

	mock.ExpectQuery("UPDATE authentication_requests").
		WithArgs("already-used").
		WillReturnRows(sqlmock.NewRows(authnRequestTestColumns))

	_, err = store.ConsumeByHash(context.Background(), "already-used")
	assert.ErrorIs(t, err, ErrNotFound)

	// An empty key never reaches the database.
	_, err = store.ConsumeByHash(context.Background(), "")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAuthnRequestStoreUpdateMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresAuthnRequestStore(db)
	pending := newPending(t)

	mock.ExpectExec("UPDATE authentication_requests").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = store.Update(context.Background(), pending)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAuthnRequestStoreDeleteExpired(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresAuthnRequestStore(db)

	mock.ExpectExec("DELETE FROM authentication_requests").
		WillReturnResult(sqlmock.NewResult(0, 3))

	deleted, err := store.DeleteExpired(context.Background(), time.Now())
	require.NoError(t, err)
	assert.EqualValues(t, 3, deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUserStoreFindByEmail(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresUserStore(db)

	rows := sqlmock.NewRows([]string{
		"id", "uid", "email", "given_name", "family_name", "schac_home_organization",
		"authenticating_authority", "password", "forgotten_password", "new_user", "preferred_language",
		"enrollment_verification_key", "linked_accounts", "eduid_per_service_provider",
		"public_key_credentials", "created", "updated_at",
	}).AddRow("user-1", "jdoe", "jdoe@example.com", "John", "Doe", "guest.example.org",
		"https://idp.example.org", "", false, false, "en",
		nil, []byte(`[]`), []byte(`{"https://sp.example.com":{"value":"abc","created_at":"2026-01-01T00:00:00Z"}}`),
		[]byte(`[]`), int64(1700000000), int64(1700000000))

	mock.ExpectQuery("SELECT (.+) FROM users WHERE email").
		WithArgs("jdoe@example.com").
		WillReturnRows(rows)

	user, err := store.FindByEmail(context.Background(), "jdoe@example.com")
	require.NoError(t, err)
	assert.Equal(t, "user-1", user.ID)
	assert.Equal(t, "abc", user.EduIDPerServiceProvider["https://sp.example.com"].Value)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUserStoreFindMiss(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresUserStore(db)

	mock.ExpectQuery("SELECT (.+) FROM users WHERE id").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err = store.FindByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
