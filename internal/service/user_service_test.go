package service

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bankcards/card-service/internal/errs"
)

func TestRegisterUser(t *testing.T) {
	f := newFixture(t)
	log := logrus.New()
	log.SetOutput(io.Discard)
	users := NewUserService(f.store, log)
	ctx := context.Background()

	user, err := users.RegisterUser(ctx, "bob", "bob@example.com")
	require.NoError(t, err)
	assert.NotZero(t, user.ID)

	got, err := users.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "bob", got.Username)

	_, err = users.RegisterUser(ctx, "", "bob@example.com")
	assert.True(t, errs.IsKind(err, errs.KindInvalidArgument))

	_, err = users.RegisterUser(ctx, "bob", "not-an-email")
	assert.True(t, errs.IsKind(err, errs.KindInvalidArgument))

	_, err = users.GetUser(ctx, 999)
	assert.True(t, errs.IsKind(err, errs.KindNotFound))
}
