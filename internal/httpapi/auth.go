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
	"golang.org/x/crypto/bcrypt"

	"muscleup/backend/internal/domain"
)

// UserStore is the slice of the repository the AuthManager needs: front-desk
// accounts live next to the sales so a single postgres (or memory) store
// backs both.
type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// AuthManager issues and validates gym-scoped access tokens and guards the
// manager-PIN override used for sale cancellations at the front desk.
type AuthManager struct {
	mu       sync.RWMutex
	secret   []byte
	tokenTTL time.Duration
	gymID    string
	// pinHash is the bcrypt hash of the manager PIN. Cashiers present the
	// plain PIN when cancelling a sale; admins bypass it by role.
	pinHash  string
	store    UserStore
	accounts map[string]account
}

type account struct {
	hash      string
	role      string
	active    bool
	createdAt time.Time
}

// gymClaims scope a token to one gym so a terminal signed in at one location
// cannot act against another gym's catalog or sales.
type gymClaims struct {
	jwtlib.RegisteredClaims
	Role  string `json:"role"`
	GymID string `json:"gym_id"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, managerPIN string, gymID string, store UserStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	if gymID == "" {
		gymID = "gym-principal"
	}

	m := &AuthManager{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		gymID:    gymID,
		pinHash:  hashManagerPIN(managerPIN),
		store:    store,
		accounts: make(map[string]account),
	}
	// Startup load runs before any request context exists.
	m.refreshAccounts(context.Background())
	return m
}

// hashManagerPIN stores the PIN only as a bcrypt hash. An empty PIN leaves
// the hash empty, which disables the override: ValidateManagerPIN then fails
// for every input.
func hashManagerPIN(pin string) string {
	pin = strings.TrimSpace(pin)
	if pin == "" {
		return ""
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return ""
	}
	return string(hashed)
}

func (m *AuthManager) Login(req domain.LoginRequest) (domain.LoginResponse, error) {
	// TODO: refreshing on every login picks up accounts created outside this
	// process, but should move to a bounded context so a slow store cannot
	// stall the login path.
	m.refreshAccounts(context.Background())

	acct, ok := m.lookup(req.Username)
	if !ok || !checkBcrypt(acct.hash, req.Password) {
		return domain.LoginResponse{}, errors.New("invalid credentials")
	}
	if !acct.active {
		return domain.LoginResponse{}, errors.New("account is inactive")
	}

	expiresAt := time.Now().UTC().Add(m.tokenTTL)
	token, err := m.issueToken(strings.TrimSpace(req.Username), acct.role, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}
	return domain.LoginResponse{
		AccessToken: token,
		Role:        acct.role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (m *AuthManager) issueToken(username string, role string, expiresAt time.Time) (string, error) {
	claims := gymClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "muscleup",
		},
		Role:  role,
		GymID: m.gymID,
	}
	return jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(m.secret)
}

func (m *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &gymClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return domain.Actor{}, errors.New("invalid or expired token")
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	if claims.GymID != m.gymID {
		return domain.Actor{}, errors.New("token issued for another gym")
	}
	return domain.Actor{Username: sub, Role: claims.Role, GymID: claims.GymID}, nil
}

// ValidateManagerPIN checks the override PIN a cashier must present before a
// sale cancellation goes through. Admin tokens skip this at the handler.
func (m *AuthManager) ValidateManagerPIN(pin string) bool {
	pin = strings.TrimSpace(pin)
	if pin == "" || m.pinHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(m.pinHash), []byte(pin)) == nil
}

func (m *AuthManager) CreateCashier(req domain.CashierCreateRequest) (domain.CashierUser, error) {
	m.refreshAccounts(context.Background())

	username := strings.ToLower(strings.TrimSpace(req.Username))
	if err := validateCashierRequest(username, req.Password); err != nil {
		return domain.CashierUser{}, err
	}
	if _, exists := m.lookup(username); exists {
		return domain.CashierUser{}, fmt.Errorf("username already exists")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return domain.CashierUser{}, fmt.Errorf("failed to hash password")
	}

	now := time.Now().UTC()
	if m.store != nil {
		err := m.store.CreateUser(context.Background(), domain.UserAccount{
			Username:  username,
			Password:  string(hash),
			Role:      "cashier",
			Active:    true,
			CreatedAt: now,
		})
		if err != nil {
			return domain.CashierUser{}, err
		}
	}

	m.mu.Lock()
	m.accounts[username] = account{hash: string(hash), role: "cashier", active: true, createdAt: now}
	m.mu.Unlock()

	return domain.CashierUser{Username: username, Role: "cashier", Active: true, CreatedAt: now}, nil
}

func validateCashierRequest(username string, password string) error {
	if len(username) < 4 {
		return fmt.Errorf("username must be at least 4 characters")
	}
	if strings.ContainsAny(username, " \t\r\n") {
		return fmt.Errorf("username must not contain spaces")
	}
	if len(strings.TrimSpace(password)) < 6 {
		return fmt.Errorf("password must be at least 6 characters")
	}
	return nil
}

func (m *AuthManager) ListCashiers() []domain.CashierUser {
	m.refreshAccounts(context.Background())

	m.mu.RLock()
	result := make([]domain.CashierUser, 0, len(m.accounts))
	for username, acct := range m.accounts {
		if acct.role != "cashier" {
			continue
		}
		result = append(result, domain.CashierUser{
			Username:  username,
			Role:      acct.role,
			Active:    acct.active,
			CreatedAt: acct.createdAt,
		})
	}
	m.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].Username < result[j].Username
	})
	return result
}

func (m *AuthManager) lookup(username string) (account, bool) {
	username = strings.ToLower(strings.TrimSpace(username))
	m.mu.RLock()
	acct, ok := m.accounts[username]
	m.mu.RUnlock()
	return acct, ok
}

// refreshAccounts mirrors the user store into the in-memory credential map.
// Legacy plain-text passwords found in the store are rehashed and written
// back so nothing stays in the clear.
func (m *AuthManager) refreshAccounts(ctx context.Context) {
	if m.store == nil {
		return
	}
	users, err := m.store.ListUsers(ctx)
	if err != nil || len(users) == 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range users {
		username := strings.ToLower(strings.TrimSpace(user.Username))
		if username == "" {
			continue
		}
		stored := user.Password
		if !isBcryptHash(stored) {
			if rehashed, err := bcrypt.GenerateFromPassword([]byte(stored), bcrypt.DefaultCost); err == nil {
				stored = string(rehashed)
				_ = m.store.UpdateUserPassword(ctx, username, stored)
			}
		}
		m.accounts[username] = account{
			hash:      stored,
			role:      user.Role,
			active:    user.Active,
			createdAt: user.CreatedAt,
		}
	}
}

func checkBcrypt(hash string, input string) bool {
	if hash == "" || strings.TrimSpace(input) == "" || !isBcryptHash(hash) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(input)) == nil
}

func isBcryptHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
