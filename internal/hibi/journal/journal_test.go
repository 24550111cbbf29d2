package journal

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateText(t *testing.T) {
	assert.ErrorIs(t, ValidateText(""), ErrEmptyText)
	assert.NoError(t, ValidateText(" gym "))
	assert.NoError(t, ValidateText(" \t\n"), "only the empty string is rejected")
}

func TestWrapStorage(t *testing.T) {
	assert.NoError(t, WrapStorage("op", nil))

	base := errors.New("boom")
	err := WrapStorage("append event", base)
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "storage: append event: boom", err.Error())

	// Already wrapped errors keep their original op.
	again := WrapStorage("outer", err)
	var se *StorageError
	require.ErrorAs(t, again, &se)
	assert.Equal(t, "append event", se.Op)
}

func TestUser_TotalTokens(t *testing.T) {
	u := &User{}
	assert.Zero(t, u.TotalTokens())

	u.PromptTokens = sql.NullInt64{Int64: 120, Valid: true}
	u.CompletionTokens = sql.NullInt64{Int64: 80, Valid: true}
	assert.EqualValues(t, 200, u.TotalTokens())
}

type usageCall struct {
	user string
	p, c int
}

type fakeLedger struct {
	calls []usageCall
	err   error
}

func (f *fakeLedger) EnsureUser(context.Context, Profile) (*User, bool, error) {
	return nil, false, nil
}

func (f *fakeLedger) GetUser(context.Context, string) (*User, error) {
	return nil, nil
}

func (f *fakeLedger) ListUsers(context.Context) ([]*User, error) {
	return nil, nil
}

func (f *fakeLedger) RecordUsage(_ context.Context, id string, p, c int) error {
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, usageCall{id, p, c})
	return nil
}

func TestAccountant_Record(t *testing.T) {
	l := &fakeLedger{}
	a := NewAccountant(l)

	require.NoError(t, a.Record(context.Background(), "u1", 120, 80))
	assert.Equal(t, []usageCall{{"u1", 120, 80}}, l.calls)
}

func TestAccountant_RejectsNegative(t *testing.T) {
	l := &fakeLedger{}
	a := NewAccountant(l)

	assert.ErrorIs(t, a.Record(context.Background(), "u1", -1, 0), ErrNegativeUsage)
	assert.Empty(t, l.calls)
}

func TestAccountant_WrapsLedgerError(t *testing.T) {
	a := NewAccountant(&fakeLedger{err: ErrUserNotFound})
	err := a.Record(context.Background(), "ghost", 1, 1)

	assert.ErrorIs(t, err, ErrUserNotFound)
	var se *StorageError
	assert.ErrorAs(t, err, &se)
}
