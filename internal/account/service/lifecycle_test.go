package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"bluecarbon/internal/account/models"
	"bluecarbon/internal/account/secrets"
	identityservice "bluecarbon/internal/identity/service"
	identitystore "bluecarbon/internal/identity/store"
	jwttoken "bluecarbon/internal/jwt_token"
	otpservice "bluecarbon/internal/otp/service"
	otpstore "bluecarbon/internal/otp/store"
	id "bluecarbon/pkg/domain"
	dErrors "bluecarbon/pkg/domain-errors"
	"bluecarbon/pkg/requestcontext"
)

// inbox records delivered codes per recipient.
type inbox struct {
	mu    sync.Mutex
	codes map[string][]string
}

func (i *inbox) Notify(_ context.Context, to, code, _ string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.codes == nil {
		i.codes = map[string][]string{}
	}
	i.codes[to] = append(i.codes[to], code)
	return nil
}

func (i *inbox) last(to string) string {
	i.mu.Lock()
	defer i.mu.Unlock()
	c := i.codes[to]
	if len(c) == 0 {
		return ""
	}
	return c[len(c)-1]
}

func TestIndustryLifecycle(t *testing.T) {
	ctx := requestcontext.WithTime(context.Background(), time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	mail := &inbox{}
	directory := identityservice.New(identitystore.NewInMemory())
	tokens := jwttoken.NewJWTService("test-key", "bluecarbon-test", 0)
	svc := New(directory, otpservice.New(otpstore.NewInMemory(), mail), tokens,
		WithHasher(secrets.NewHasher(bcrypt.MinCost)))

	const addr = "a@x.io"

	res, err := svc.Register(ctx, &models.RegisterRequest{
		Email: addr, Name: "A", Password: "password123", Role: "INDUSTRY", Tier: "silver",
	})
	require.NoError(t, err)
	require.False(t, res.ActivationSent)
	require.Empty(t, mail.last(addr), "pending industry accounts get no code")

	err = svc.Login(ctx, &models.LoginRequest{Email: addr, Password: "password123"})
	require.True(t, dErrors.HasCode(err, dErrors.CodeInvalidCredentials), "pending account cannot log in")

	_, err = svc.Approve(ctx, res.Account.ID)
	require.NoError(t, err)
	activation := mail.last(addr)
	require.Len(t, activation, 6)

	_, err = svc.Activate(ctx, &models.OTPRequest{Email: addr, OTP: activation})
	require.NoError(t, err)
	_, err = svc.Activate(ctx, &models.OTPRequest{Email: addr, OTP: activation})
	require.True(t, dErrors.HasCode(err, dErrors.CodeInvalidOTP), "activation code is single use")

	require.NoError(t, svc.Login(ctx, &models.LoginRequest{Email: addr, Password: "password123"}))
	login := mail.last(addr)
	require.NotEqual(t, activation, login)

	resp, err := svc.VerifyLogin(ctx, &models.OTPRequest{Email: addr, OTP: login})
	require.NoError(t, err)
	require.Empty(t, resp.User.PasswordHash)

	claims, err := tokens.ValidateToken(resp.Token)
	require.NoError(t, err)
	require.Equal(t, int64(res.Account.ID), claims.AccountID)
	require.Equal(t, string(id.RoleIndustry), claims.Role)
	require.Equal(t, string(id.KindIndustry), claims.Kind)
}

func TestRegisterDuplicateAcrossKinds(t *testing.T) {
	ctx := context.Background()
	svc := New(identityservice.New(identitystore.NewInMemory()), otpservice.New(otpstore.NewInMemory(), &inbox{}),
		jwttoken.NewJWTService("k", "i", 0), WithHasher(secrets.NewHasher(bcrypt.MinCost)))

	_, err := svc.Register(ctx, &models.RegisterRequest{Email: "dup@x.io", Name: "P", Password: "password123", Role: "PUBLIC"})
	require.NoError(t, err)

	for _, role := range []string{"PUBLIC", "INDUSTRY", "VERIFIER"} {
		_, err := svc.Register(ctx, &models.RegisterRequest{Email: "DUP@x.io", Name: "Q", Password: "password123", Role: role, Tier: "t"})
		require.True(t, dErrors.HasCode(err, dErrors.CodeConflict), role)
		require.Equal(t, "email already exists", dErrors.MessageOf(err))
	}
}
