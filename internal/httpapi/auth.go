package httpapi

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/codeKobby/Nuel-s-foodzone-sub000/internal/domain"
)

const tokenIssuer = "foodzone"

var errInvalidCredentials = errors.New("invalid credentials")

type AuthManager struct {
	mu         sync.RWMutex
	secret     []byte
	tokenTTL   time.Duration
	managerPIN string
	userStore  UserStore
	users      map[string]credential
	logger     *zap.Logger
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type credential struct {
	fullName string
	password string
	role     string
	active   bool
	created  time.Time
}

type operatorClaims struct {
	jwtlib.RegisteredClaims
	Role string `json:"role"`
	Name string `json:"name,omitempty"`
}

func NewAuthManager(ctx context.Context, secret string, tokenTTL time.Duration, managerPIN string, userStore UserStore, logger *zap.Logger) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 12 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	managerPIN = strings.TrimSpace(managerPIN)
	if managerPIN != "" {
		hashed, err := hashPassword(managerPIN)
		if err != nil {
			logger.Error("manager PIN could not be hashed; pardons are disabled", zap.Error(err))
			hashed = ""
		}
		managerPIN = hashed
	}

	manager := &AuthManager{
		secret:     []byte(secret),
		tokenTTL:   tokenTTL,
		managerPIN: managerPIN,
		userStore:  userStore,
		users:      make(map[string]credential),
		logger:     logger,
	}
	manager.bootstrapUsers(ctx)
	return manager
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	a.bootstrapUsers(ctx)
	username := strings.ToLower(strings.TrimSpace(req.Username))
	a.mu.RLock()
	cred, ok := a.users[username]
	a.mu.RUnlock()
	if !ok {
		return domain.LoginResponse{}, errInvalidCredentials
	}
	if !verifyPassword(cred.password, req.Password) {
		return domain.LoginResponse{}, errInvalidCredentials
	}
	if !cred.active {
		return domain.LoginResponse{}, errors.New("account is inactive")
	}

	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(username, cred, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	return domain.LoginResponse{
		AccessToken: token,
		Role:        cred.role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &operatorClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}), jwtlib.WithIssuer(tokenIssuer))
	if err != nil || !token.Valid {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	return domain.Actor{Username: sub, Name: claims.Name, Role: claims.Role}, nil
}

func (a *AuthManager) sign(username string, cred credential, expiresAt time.Time) (string, error) {
	claims := operatorClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    tokenIssuer,
		},
		Role: cred.role,
		Name: cred.fullName,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// ValidateManagerPIN approves pardons. An unset PIN approves nothing.
func (a *AuthManager) ValidateManagerPIN(pin string) bool {
	input := strings.TrimSpace(pin)
	if input == "" || !isPasswordHash(a.managerPIN) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(a.managerPIN), []byte(input)) == nil
}

func (a *AuthManager) CreateCashier(ctx context.Context, req domain.CashierCreateRequest) (domain.CashierUser, error) {
	a.bootstrapUsers(ctx)
	username := strings.ToLower(strings.TrimSpace(req.Username))
	if len(username) < 4 {
		return domain.CashierUser{}, fmt.Errorf("username must be at least 4 characters")
	}
	if strings.ContainsAny(username, " \t\r\n") {
		return domain.CashierUser{}, fmt.Errorf("username must not contain spaces")
	}
	if len(strings.TrimSpace(req.Password)) < 6 {
		return domain.CashierUser{}, fmt.Errorf("password must be at least 6 characters")
	}
	fullName := strings.TrimSpace(req.FullName)
	if fullName == "" {
		fullName = username
	}

	a.mu.RLock()
	_, exists := a.users[username]
	a.mu.RUnlock()
	if exists {
		return domain.CashierUser{}, fmt.Errorf("username already exists")
	}

	now := time.Now().UTC()
	passwordHash, err := hashPassword(req.Password)
	if err != nil {
		return domain.CashierUser{}, fmt.Errorf("failed to hash password")
	}

	if a.userStore != nil {
		err := a.userStore.CreateUser(ctx, domain.UserAccount{
			Username:  username,
			FullName:  fullName,
			Password:  passwordHash,
			Role:      domain.RoleCashier,
			Active:    true,
			CreatedAt: now,
		})
		if err != nil {
			return domain.CashierUser{}, err
		}
	}

	a.mu.Lock()
	a.users[username] = credential{
		fullName: fullName,
		password: passwordHash,
		role:     domain.RoleCashier,
		active:   true,
		created:  now,
	}
	a.mu.Unlock()

	return domain.CashierUser{
		Username:  username,
		FullName:  fullName,
		Role:      domain.RoleCashier,
		Active:    true,
		CreatedAt: now,
	}, nil
}

func (a *AuthManager) ListCashiers(ctx context.Context) []domain.CashierUser {
	a.bootstrapUsers(ctx)
	a.mu.RLock()
	result := make([]domain.CashierUser, 0, len(a.users))
	for username, user := range a.users {
		if user.role != domain.RoleCashier {
			continue
		}
		result = append(result, domain.CashierUser{
			Username:  username,
			FullName:  user.fullName,
			Role:      user.role,
			Active:    user.active,
			CreatedAt: user.created,
		})
	}
	a.mu.RUnlock()
	sort.Slice(result, func(i, j int) bool {
		return result[i].Username < result[j].Username
	})
	return result
}

// bootstrapUsers refreshes the credential cache from the user store and
// upgrades any plain-text password it finds to a bcrypt hash.
func (a *AuthManager) bootstrapUsers(ctx context.Context) {
	if a.userStore == nil {
		return
	}

	users, err := a.userStore.ListUsers(ctx)
	if err != nil {
		a.logger.Warn("user store unavailable; using cached credentials", zap.Error(err))
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, user := range users {
		username := strings.ToLower(strings.TrimSpace(user.Username))
		if username == "" {
			continue
		}
		password := user.Password
		if !isPasswordHash(password) {
			hashed, err := hashPassword(password)
			if err == nil {
				password = hashed
				if err := a.userStore.UpdateUserPassword(ctx, username, hashed); err != nil {
					a.logger.Warn("password hash upgrade failed", zap.String("username", username), zap.Error(err))
				}
			}
		}
		a.users[username] = credential{
			fullName: user.FullName,
			password: password,
			role:     user.Role,
			active:   user.Active,
			created:  user.CreatedAt,
		}
	}
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
