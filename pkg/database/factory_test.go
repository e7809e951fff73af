package database

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netra-ai/netra/pkg/faults"
)

// fakeValidator implements auth.CredentialValidator for factory tests.
type fakeValidator struct {
	err      error
	calls    int
	lastName string
	lastOp   string
}

func (f *fakeValidator) ValidateServiceCredentials(_ context.Context, serviceName, operation string) error {
	f.calls++
	f.lastName = serviceName
	f.lastOp = operation
	return f.err
}

func newValidatedFactory(t *testing.T, v *fakeValidator) (*SessionFactory, sqlmock.Sqlmock, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	sysDB, sysMock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sysDB.Close() })

	return NewSessionFactory(NewClientFromDB(db, sysDB), v), mock, sysMock
}

// "system" always succeeds with no credentials configured, and goes
// through the privileged pool.
func TestAcquire_SystemBypass(t *testing.T) {
	v := &fakeValidator{err: faults.New(faults.KindConfiguration, faults.CodeMissingServiceCredentials, "none")}
	factory, _, sysMock := newValidatedFactory(t, v)
	sysMock.ExpectBegin()

	session, err := factory.Acquire(context.Background(), "system", "req-1")
	require.NoError(t, err)
	defer session.Close()

	assert.Equal(t, 0, v.calls, "system bypass must not consult the validator")
	assert.NoError(t, sysMock.ExpectationsWereMet())
}

// A service identity is gated by credential validation, and a missing
// configuration surfaces as missing_service_credentials.
func TestAcquire_ServiceMissingCredentials(t *testing.T) {
	v := &fakeValidator{err: faults.New(faults.KindConfiguration, faults.CodeMissingServiceCredentials, "none")}
	factory, mock, sysMock := newValidatedFactory(t, v)

	_, err := factory.Acquire(context.Background(), "service:netra-backend", "req-2")

	require.Error(t, err)
	assert.Equal(t, faults.KindConfiguration, faults.KindOf(err))
	assert.Equal(t, faults.CodeMissingServiceCredentials, faults.CodeOf(err))
	assert.Equal(t, "netra-backend", v.lastName)
	assert.Equal(t, OperationSessionCreation, v.lastOp)
	// No connection may be leased on a refused acquisition.
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.NoError(t, sysMock.ExpectationsWereMet())
}

func TestAcquire_ServiceValidated(t *testing.T) {
	v := &fakeValidator{}
	factory, mock, _ := newValidatedFactory(t, v)
	mock.ExpectBegin()

	session, err := factory.Acquire(context.Background(), "service:netra-backend", "req-3")
	require.NoError(t, err)
	defer session.Close()

	assert.Equal(t, 1, v.calls)
	assert.Equal(t, "service:netra-backend", session.Metadata().UserID)
}

func TestAcquire_ServiceRejected(t *testing.T) {
	v := &fakeValidator{err: faults.New(faults.KindPolicy, faults.CodeServiceRejected, "bad token")}
	factory, _, _ := newValidatedFactory(t, v)

	_, err := factory.Acquire(context.Background(), "service:netra-backend", "req-4")

	require.Error(t, err)
	assert.Equal(t, faults.KindPolicy, faults.KindOf(err))
}

func TestAcquire_EmptyServiceNameIsPolicyError(t *testing.T) {
	v := &fakeValidator{}
	factory, _, _ := newValidatedFactory(t, v)

	_, err := factory.Acquire(context.Background(), "service:", "req-5")

	require.Error(t, err)
	assert.Equal(t, faults.KindPolicy, faults.KindOf(err))
	assert.Equal(t, faults.CodeInvalidServiceIdentity, faults.CodeOf(err))
	assert.Equal(t, 0, v.calls)
}

func TestAcquire_EmptyUserID(t *testing.T) {
	factory, _, _ := newMockFactory(t)

	_, err := factory.Acquire(context.Background(), "", "req-6")

	require.Error(t, err)
	assert.Equal(t, faults.KindValidation, faults.KindOf(err))
}

func TestWithSession_CommitsOnSuccess(t *testing.T) {
	factory, mock, _ := newMockFactory(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE threads").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	var inside *RequestScopedSession
	err := factory.WithSession(context.Background(), "user-1", "req-7", func(s *RequestScopedSession) error {
		inside = s
		_, err := s.ExecContext(context.Background(), "UPDATE threads SET title = 'x'")
		return err
	})

	require.NoError(t, err)
	assert.Equal(t, StateClosed, inside.State())
	assert.NoError(t, mock.ExpectationsWereMet())
}

// An error inside the scope still releases the session before the error
// reaches the caller.
func TestWithSession_RollsBackAndReleasesOnError(t *testing.T) {
	factory, mock, _ := newMockFactory(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	var inside *RequestScopedSession
	err := factory.WithSession(context.Background(), "user-1", "req-8", func(s *RequestScopedSession) error {
		inside = s
		return boom
	})

	require.ErrorIs(t, err, boom)
	assert.Equal(t, StateClosed, inside.State())
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Release-on-cancellation is not optional: a panic inside the scope must
// still release the connection.
func TestWithSession_ReleasesOnPanic(t *testing.T) {
	factory, mock, _ := newMockFactory(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	var inside *RequestScopedSession
	require.Panics(t, func() {
		_ = factory.WithSession(context.Background(), "user-1", "req-9", func(s *RequestScopedSession) error {
			inside = s
			panic("handler blew up")
		})
	})

	assert.Equal(t, StateClosed, inside.State())
	assert.NoError(t, mock.ExpectationsWereMet())
}
