package httpapi

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeKobby/Nuel-s-foodzone-sub000/internal/domain"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]domain.UserAccount)
	}
	s.users[user.Username] = user
	return nil
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func plainManagerStore() *userStoreStub {
	return &userStoreStub{
		users: map[string]domain.UserAccount{
			"manager": {
				Username:  "manager",
				FullName:  "Shift Manager",
				Password:  "manager123",
				Role:      domain.RoleManager,
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	store := plainManagerStore()

	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, "123456", store, nil)
	_, err := manager.Login(context.Background(), domain.LoginRequest{Username: "manager", Password: "manager123"})
	require.NoError(t, err)

	users, err := store.ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.NotEqual(t, "manager123", users[0].Password)
	assert.True(t, strings.HasPrefix(users[0].Password, "$2"), "expected bcrypt hash, got %s", users[0].Password)
	assert.Positive(t, store.updates)
}

func TestLoginTokenCarriesOperatorIdentity(t *testing.T) {
	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, "", plainManagerStore(), nil)

	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: " Manager ", Password: "manager123"})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleManager, resp.Role)

	actor, err := manager.ParseToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, domain.Actor{Username: "manager", Name: "Shift Manager", Role: domain.RoleManager}, actor)

	_, err = manager.Login(context.Background(), domain.LoginRequest{Username: "manager", Password: "wrong"})
	assert.ErrorIs(t, err, errInvalidCredentials)
}

func TestParseTokenRejectsForeignIssuerAndSecret(t *testing.T) {
	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, "", nil, nil)

	foreign := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, operatorClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   "manager",
			Issuer:    "someone-else",
			ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: domain.RoleManager,
	})
	signed, err := foreign.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = manager.ParseToken(signed)
	assert.Error(t, err)

	other := NewAuthManager(context.Background(), "other-secret", time.Hour, "", nil, nil)
	token, err := other.sign("manager", credential{role: domain.RoleManager}, time.Now().Add(time.Hour))
	require.NoError(t, err)
	_, err = manager.ParseToken(token)
	assert.Error(t, err)
}

func TestCreateCashierStoresPasswordHash(t *testing.T) {
	store := plainManagerStore()
	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, "123456", store, nil)

	cashier, err := manager.CreateCashier(context.Background(), domain.CashierCreateRequest{
		Username: "Akosua",
		FullName: "Akosua Mensah",
		Password: "pass1234",
	})
	require.NoError(t, err)
	assert.Equal(t, "akosua", cashier.Username)
	assert.Equal(t, domain.RoleCashier, cashier.Role)

	users, err := store.ListUsers(context.Background())
	require.NoError(t, err)
	var found *domain.UserAccount
	for i := range users {
		if users[i].Username == "akosua" {
			found = &users[i]
		}
	}
	require.NotNil(t, found, "expected cashier to be saved")
	assert.True(t, strings.HasPrefix(found.Password, "$2"))

	_, err = manager.Login(context.Background(), domain.LoginRequest{Username: "akosua", Password: "pass1234"})
	assert.NoError(t, err)

	_, err = manager.CreateCashier(context.Background(), domain.CashierCreateRequest{Username: "akosua", Password: "pass1234"})
	assert.Error(t, err)

	cashiers := manager.ListCashiers(context.Background())
	require.Len(t, cashiers, 1)
	assert.Equal(t, "Akosua Mensah", cashiers[0].FullName)
}

func TestManagerPINIsHashedAndStillValidates(t *testing.T) {
	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, "654321", nil, nil)

	assert.NotEqual(t, "654321", manager.managerPIN)
	assert.True(t, manager.ValidateManagerPIN("654321"))
	assert.False(t, manager.ValidateManagerPIN("111111"))
	assert.False(t, manager.ValidateManagerPIN(""))
}

func TestUnsetManagerPINApprovesNothing(t *testing.T) {
	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, "", nil, nil)
	assert.False(t, manager.ValidateManagerPIN("disabled"))
	assert.False(t, manager.ValidateManagerPIN(""))
}
