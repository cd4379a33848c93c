package httpapi

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"shopstack/backend/internal/domain"
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

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"owner": {
				Username:  "owner",
				Password:  "owner123",
				Role:      domain.RoleOwner,
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}

	manager := NewAuthManager("test-secret", time.Hour, store)
	_, err := manager.Login(domain.LoginRequest{
		Username: "owner",
		Password: "owner123",
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	users, err := store.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected 1 user, got %d", len(users))
	}
	if users[0].Password == "owner123" {
		t.Fatalf("expected password to be upgraded from plain-text")
	}
	if !strings.HasPrefix(users[0].Password, "$2") {
		t.Fatalf("expected bcrypt password hash, got %s", users[0].Password)
	}
}

func TestCreateStaffStoresPasswordHash(t *testing.T) {
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"owner": {
				Username:  "owner",
				Password:  "owner123",
				Role:      domain.RoleOwner,
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}

	manager := NewAuthManager("test-secret", time.Hour, store)
	staff, err := manager.CreateStaff("owner", domain.StaffCreateRequest{
		Username: "newstaff",
		Password: "pass1234",
	})
	if err != nil {
		t.Fatalf("create staff failed: %v", err)
	}
	if staff.Username != "newstaff" {
		t.Fatalf("unexpected username %s", staff.Username)
	}
	if staff.ParentID != "owner" {
		t.Fatalf("expected parent owner, got %s", staff.ParentID)
	}

	users, err := store.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	var found *domain.UserAccount
	for i := range users {
		if users[i].Username == "newstaff" {
			found = &users[i]
			break
		}
	}
	if found == nil {
		t.Fatalf("expected staff account to be saved")
	}
	if found.Password == "pass1234" {
		t.Fatalf("expected staff password to be hashed")
	}
	if !strings.HasPrefix(found.Password, "$2") {
		t.Fatalf("expected bcrypt hash prefix, got %s", found.Password)
	}

	_, err = manager.Login(domain.LoginRequest{
		Username: "newstaff",
		Password: "pass1234",
	})
	if err != nil {
		t.Fatalf("login with hashed staff password failed: %v", err)
	}
}

func TestStaffTokenCarriesOwnerTenant(t *testing.T) {
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"owner": {
				Username:  "owner",
				Password:  "owner123",
				Role:      domain.RoleOwner,
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
			"staff": {
				Username:  "staff",
				Password:  "staff123",
				Role:      domain.RoleStaff,
				ParentID:  "owner",
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}

	manager := NewAuthManager("test-secret", time.Hour, store)
	resp, err := manager.Login(domain.LoginRequest{
		Username: "staff",
		Password: "staff123",
	})
	if err != nil {
		t.Fatalf("staff login failed: %v", err)
	}
	if resp.Tenant != "owner" {
		t.Fatalf("expected staff login tenant owner, got %s", resp.Tenant)
	}

	actor, err := manager.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token failed: %v", err)
	}
	if actor.Username != "staff" || actor.Role != domain.RoleStaff || actor.Tenant != "owner" {
		t.Fatalf("unexpected actor from token: %+v", actor)
	}
}

func TestListStaffFiltersByOwner(t *testing.T) {
	store := &userStoreStub{users: map[string]domain.UserAccount{}}
	manager := NewAuthManager("test-secret", time.Hour, store)

	if _, err := manager.CreateStaff("owner-a", domain.StaffCreateRequest{Username: "staffa", Password: "secret1"}); err != nil {
		t.Fatalf("create staff a failed: %v", err)
	}
	if _, err := manager.CreateStaff("owner-b", domain.StaffCreateRequest{Username: "staffb", Password: "secret2"}); err != nil {
		t.Fatalf("create staff b failed: %v", err)
	}

	listed := manager.ListStaff("owner-a")
	if len(listed) != 1 || listed[0].Username != "staffa" {
		t.Fatalf("expected only owner-a staff, got %+v", listed)
	}
}

func TestLoginRejectsInactiveAccount(t *testing.T) {
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"owner": {
				Username:  "owner",
				Password:  "owner123",
				Role:      domain.RoleOwner,
				Active:    false,
				CreatedAt: time.Now().UTC(),
			},
		},
	}

	manager := NewAuthManager("test-secret", time.Hour, store)
	if _, err := manager.Login(domain.LoginRequest{Username: "owner", Password: "owner123"}); err == nil {
		t.Fatalf("expected inactive account login to fail")
	}
}
