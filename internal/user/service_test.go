package user

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthhub/telehealth-billing/internal/organization"
	"github.com/healthhub/telehealth-billing/internal/wallet"
)

type fakeTxRunner struct{}

func (fakeTxRunner) WithTx(_ context.Context, fn func(tx pgx.Tx) error) error {
	return fn(nil)
}

type fakeUserRepo struct {
	users map[uuid.UUID]*User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[uuid.UUID]*User)}
}

func (r *fakeUserRepo) CreateTx(_ context.Context, _ pgx.Tx, u *User) error {
	for _, existing := range r.users {
		if existing.Email == u.Email {
			return ErrEmailTaken
		}
	}
	cp := *u
	r.users[u.ID] = &cp
	return nil
}

func (r *fakeUserRepo) GetByID(_ context.Context, id uuid.UUID) (*User, error) {
	u, ok := r.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *fakeUserRepo) GetByEmail(_ context.Context, email string) (*User, error) {
	for _, u := range r.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrUserNotFound
}

func (r *fakeUserRepo) List(_ context.Context, role Role, limit, offset int) ([]User, error) {
	var result []User
	for _, u := range r.users {
		if role == "" || u.Role == role {
			result = append(result, *u)
		}
	}
	return result, nil
}

// Wallet and organization stores only record what Provision creates.
type stubWalletRepo struct {
	wallet.Repository
	created []*wallet.Wallet
}

func (r *stubWalletRepo) CreateWalletTx(_ context.Context, _ pgx.Tx, w *wallet.Wallet) error {
	cp := *w
	r.created = append(r.created, &cp)
	return nil
}

type stubOrgRepo struct {
	organization.Repository
	created []*organization.Profile
}

func (r *stubOrgRepo) CreateTx(_ context.Context, _ pgx.Tx, p *organization.Profile) error {
	cp := *p
	r.created = append(r.created, &cp)
	return nil
}

func TestProvision(t *testing.T) {
	newService := func() (*Service, *fakeUserRepo, *stubWalletRepo, *stubOrgRepo) {
		repo := newFakeUserRepo()
		wallets := &stubWalletRepo{}
		orgs := &stubOrgRepo{}
		return NewService(repo, wallets, orgs, fakeTxRunner{}, "USD"), repo, wallets, orgs
	}

	t.Run("patient gets no wallet", func(t *testing.T) {
		svc, _, wallets, orgs := newService()

		u, err := svc.Provision(context.Background(), RolePatient, "Ada P", "ada@example.com")
		require.NoError(t, err)
		assert.Equal(t, RolePatient, u.Role)
		assert.Empty(t, wallets.created)
		assert.Empty(t, orgs.created)
	})

	t.Run("doctor gets a wallet", func(t *testing.T) {
		svc, _, wallets, orgs := newService()

		u, err := svc.Provision(context.Background(), RoleDoctor, "Dr Who", "who@example.com")
		require.NoError(t, err)

		require.Len(t, wallets.created, 1)
		assert.Equal(t, u.ID, wallets.created[0].UserID)
		assert.Equal(t, "USD", wallets.created[0].Currency)
		assert.Empty(t, orgs.created)
	})

	t.Run("organization gets a wallet and a credits profile", func(t *testing.T) {
		svc, _, wallets, orgs := newService()

		u, err := svc.Provision(context.Background(), RoleOrganization, "Clinic Group", "billing@clinic.example")
		require.NoError(t, err)

		require.Len(t, wallets.created, 1)
		require.Len(t, orgs.created, 1)
		assert.Equal(t, u.ID, orgs.created[0].UserID)
		assert.Equal(t, "Clinic Group", orgs.created[0].Name)
		assert.True(t, orgs.created[0].CurrentCreditsBalance.IsZero())
	})

	t.Run("email is normalized", func(t *testing.T) {
		svc, repo, _, _ := newService()

		u, err := svc.Provision(context.Background(), RolePatient, "  Ada P  ", "  ADA@Example.COM ")
		require.NoError(t, err)
		assert.Equal(t, "Ada P", u.Name)
		assert.Equal(t, "ada@example.com", u.Email)

		_, err = repo.GetByEmail(context.Background(), "ada@example.com")
		assert.NoError(t, err)
	})

	t.Run("duplicate email", func(t *testing.T) {
		svc, _, _, _ := newService()

		_, err := svc.Provision(context.Background(), RolePatient, "First", "same@example.com")
		require.NoError(t, err)

		_, err = svc.Provision(context.Background(), RoleDoctor, "Second", "same@example.com")
		assert.ErrorIs(t, err, ErrEmailTaken)
	})

	t.Run("validation", func(t *testing.T) {
		svc, _, _, _ := newService()

		_, err := svc.Provision(context.Background(), Role("ghost"), "Name", "a@b.c")
		assert.ErrorIs(t, err, ErrInvalidRole)

		_, err = svc.Provision(context.Background(), RolePatient, "", "a@b.c")
		assert.ErrorIs(t, err, ErrMissingDetails)

		_, err = svc.Provision(context.Background(), RolePatient, "Name", "   ")
		assert.ErrorIs(t, err, ErrMissingDetails)
	})
}
