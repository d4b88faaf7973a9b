package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/milkyano/barber-core/services/auth/internal/domain"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testUserID = "3f1c2f4e-8d5b-4a4e-9d61-0b6f1f3c2a10"

func newMockRepo(t *testing.T) (pgxmock.PgxPoolIface, UserRepository) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, NewUserRepository(mock)
}

func TestCreateMapsUniqueViolations(t *testing.T) {
	tests := []struct {
		name       string
		constraint string
		want       error
	}{
		{"phone", phoneUniqueConstraint, domain.ErrPhoneTaken},
		{"email", emailUniqueConstraint, domain.ErrEmailTaken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, repo := newMockRepo(t)
			mock.ExpectQuery("INSERT INTO users").
				WillReturnError(&pgconn.PgError{Code: uniqueViolation, ConstraintName: tt.constraint})

			_, err := repo.Create(context.Background(), &domain.NewUser{
				PhoneNumber: "+61412345678",
				FirstName:   "Jane",
				LastName:    "Doe",
				Role:        domain.RoleCustomer,
			})
			assert.ErrorIs(t, err, domain.ErrConflict)
			assert.ErrorIs(t, err, tt.want)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestCreatePassesThroughOtherErrors(t *testing.T) {
	mock, repo := newMockRepo(t)
	boom := errors.New("connection reset")
	mock.ExpectQuery("INSERT INTO users").WillReturnError(boom)

	_, err := repo.Create(context.Background(), &domain.NewUser{PhoneNumber: "+61412345678", Role: domain.RoleCustomer})
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, domain.ErrConflict)
}

func TestFindByPhoneNoRowsIsNil(t *testing.T) {
	mock, repo := newMockRepo(t)
	mock.ExpectQuery("FROM users WHERE phone_number").
		WithArgs("+61412345678").
		WillReturnError(pgx.ErrNoRows)

	u, err := repo.FindByPhone(context.Background(), "+61412345678")
	require.NoError(t, err)
	assert.Nil(t, u)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByIDSkipsQueryForMalformedID(t *testing.T) {
	mock, repo := newMockRepo(t)

	u, err := repo.FindByID(context.Background(), "not-a-uuid")
	require.NoError(t, err)
	assert.Nil(t, u)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkVerified(t *testing.T) {
	t.Run("transition", func(t *testing.T) {
		mock, repo := newMockRepo(t)
		mock.ExpectExec("SET is_verified = true").
			WithArgs(testUserID).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		changed, err := repo.MarkVerified(context.Background(), testUserID)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already verified", func(t *testing.T) {
		mock, repo := newMockRepo(t)
		mock.ExpectExec("SET is_verified = true").
			WithArgs(testUserID).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs(testUserID).
			WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

		changed, err := repo.MarkVerified(context.Background(), testUserID)
		require.NoError(t, err)
		assert.False(t, changed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing user", func(t *testing.T) {
		mock, repo := newMockRepo(t)
		mock.ExpectExec("SET is_verified = true").
			WithArgs(testUserID).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs(testUserID).
			WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

		_, err := repo.MarkVerified(context.Background(), testUserID)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestUpdatePhoneConflict(t *testing.T) {
	mock, repo := newMockRepo(t)
	mock.ExpectQuery("SET phone_number").
		WithArgs(testUserID, "+61499999999").
		WillReturnError(&pgconn.PgError{Code: uniqueViolation, ConstraintName: phoneUniqueConstraint})

	_, err := repo.UpdatePhone(context.Background(), testUserID, "+61499999999")
	assert.ErrorIs(t, err, domain.ErrPhoneTaken)
}

func TestUpdatePhoneMissingUser(t *testing.T) {
	mock, repo := newMockRepo(t)
	mock.ExpectQuery("SET phone_number").
		WithArgs(testUserID, "+61499999999").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.UpdatePhone(context.Background(), testUserID, "+61499999999")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMutationsRejectMalformedIDWithoutQuery(t *testing.T) {
	ctx := context.Background()
	mock, repo := newMockRepo(t)

	_, err := repo.UpdatePhone(ctx, "not-a-uuid", "+61499999999")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = repo.UpdateProfile(ctx, "not-a-uuid", domain.ProfileUpdate{FirstName: strPtr("Sam")})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, repo.SetPassword(ctx, "not-a-uuid", "hash"), domain.ErrNotFound)
	_, err = repo.SetExternalCustomerID(ctx, "not-a-uuid", "SQ_1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateProfileEmailConflict(t *testing.T) {
	mock, repo := newMockRepo(t)
	mock.ExpectQuery("SET first_name").
		WillReturnError(&pgconn.PgError{Code: uniqueViolation, ConstraintName: emailUniqueConstraint})

	_, err := repo.UpdateProfile(context.Background(), testUserID, domain.ProfileUpdate{Email: strPtr("taken@example.com")})
	assert.ErrorIs(t, err, domain.ErrEmailTaken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateProfileMissingUser(t *testing.T) {
	mock, repo := newMockRepo(t)
	mock.ExpectQuery("SET first_name").WillReturnError(pgx.ErrNoRows)

	_, err := repo.UpdateProfile(context.Background(), testUserID, domain.ProfileUpdate{LastName: strPtr("Lee")})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSetPassword(t *testing.T) {
	mock, repo := newMockRepo(t)
	mock.ExpectExec("SET password_hash").
		WithArgs(testUserID, "hash").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("SET password_hash").
		WithArgs(testUserID, "hash").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, repo.SetPassword(context.Background(), testUserID, "hash"))
	assert.ErrorIs(t, repo.SetPassword(context.Background(), testUserID, "hash"), domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetExternalCustomerIDReturnsCommittedID(t *testing.T) {
	mock, repo := newMockRepo(t)
	mock.ExpectQuery("COALESCE").
		WithArgs(testUserID, "SQ_NEW").
		WillReturnRows(pgxmock.NewRows([]string{"external_customer_id"}).AddRow("SQ_FIRST"))

	got, err := repo.SetExternalCustomerID(context.Background(), testUserID, "SQ_NEW")
	require.NoError(t, err)
	assert.Equal(t, "SQ_FIRST", got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDelete(t *testing.T) {
	mock, repo := newMockRepo(t)
	mock.ExpectExec("DELETE FROM users").
		WithArgs(testUserID).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	assert.ErrorIs(t, repo.Delete(context.Background(), testUserID), domain.ErrNotFound)
	assert.ErrorIs(t, repo.Delete(context.Background(), "nope"), domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClampPage(t *testing.T) {
	l, o := clampPage(0, -5)
	assert.Equal(t, 20, l)
	assert.Equal(t, 0, o)

	l, o = clampPage(500, 10)
	assert.Equal(t, 20, l)
	assert.Equal(t, 10, o)

	l, _ = clampPage(50, 0)
	assert.Equal(t, 50, l)
}
