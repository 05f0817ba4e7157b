package authz

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityResolver_Resolve(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name          string
		assertion     *IdentityAssertion
		wantAccountID int64
		wantRole      string
		wantFallback  bool
		wantErr       error
	}{
		{
			name:          "matches by external subject",
			assertion:     &IdentityAssertion{ExternalSubjectID: "sub-super"},
			wantAccountID: 20,
			wantRole:      "SUPERVISOR_CAMPO",
		},
		{
			name:          "matches by email when subject is unknown",
			assertion:     &IdentityAssertion{ExternalSubjectID: "sub-new", ClaimedEmail: "empleado@agromano.com"},
			wantAccountID: 30,
			wantRole:      "EMPLEADO_CAMPO",
		},
		{
			name:         "suspended account with claims uses the token",
			assertion:    &IdentityAssertion{ExternalSubjectID: "sub-suspended", ClaimedPermissions: NewPermissionSet("mobile:access")},
			wantFallback: true,
		},
		{
			name:      "suspended account without claims is unauthorized",
			assertion: &IdentityAssertion{ExternalSubjectID: "sub-suspended"},
			wantErr:   ErrUnauthorized,
		},
		{
			name:         "unknown identity with claims uses the token",
			assertion:    &IdentityAssertion{ExternalSubjectID: "sub-unknown", ClaimedPermissions: NewPermissionSet("mobile:access")},
			wantFallback: true,
		},
		{
			name:      "unknown identity without claims is unauthorized",
			assertion: &IdentityAssertion{ExternalSubjectID: "sub-unknown", ClaimedEmail: "nobody@example.com"},
			wantErr:   ErrUnauthorized,
		},
		{
			name:      "nil assertion",
			assertion: nil,
			wantErr:   ErrUnauthenticated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := seededStore()
			r := NewIdentityResolver(store, store)

			got, err := r.Resolve(ctx, tt.assertion)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantFallback, got.UsedTokenFallback)
			if tt.wantFallback {
				assert.Nil(t, got.Account)
				return
			}
			require.NotNil(t, got.Account)
			assert.Equal(t, tt.wantAccountID, got.Account.AccountID)
			assert.Equal(t, tt.wantRole, got.Account.RoleCode)
		})
	}
}

func TestIdentityResolver_EmptyEmailNeverMatchesUsername(t *testing.T) {
	store := newFakeStore()
	store.addAccount(LocalAccount{AccountID: 1, Username: "", RoleID: roleEmployee, Status: StatusActive})
	r := NewIdentityResolver(store, store)

	_, err := r.Resolve(context.Background(), &IdentityAssertion{ExternalSubjectID: "x"})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestIdentityResolver_MissingRoleLeavesCodeUnset(t *testing.T) {
	store := newFakeStore()
	store.addAccount(LocalAccount{AccountID: 1, ExternalSubjectID: strPtr("s"), RoleID: 99, Status: StatusActive})
	r := NewIdentityResolver(store, store)

	got, err := r.Resolve(context.Background(), &IdentityAssertion{ExternalSubjectID: "s"})
	require.NoError(t, err)
	require.NotNil(t, got.Account)
	assert.Empty(t, got.Account.RoleCode)
}

func TestIdentityResolver_StoreFailures(t *testing.T) {
	t.Run("account lookup failure", func(t *testing.T) {
		store := seededStore()
		store.accountErr = errors.New("connection refused")
		r := NewIdentityResolver(store, store)

		_, err := r.Resolve(context.Background(), &IdentityAssertion{ExternalSubjectID: "sub-admin"})
		assert.ErrorIs(t, err, ErrStoreUnavailable)
		assert.NotErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("role lookup failure", func(t *testing.T) {
		store := seededStore()
		store.roleErr = classifyStoreError("get role", errors.New("timeout"))
		r := NewIdentityResolver(store, store)

		_, err := r.Resolve(context.Background(), &IdentityAssertion{ExternalSubjectID: "sub-admin"})
		assert.ErrorIs(t, err, ErrStoreUnavailable)
	})

	t.Run("cancelled lookup", func(t *testing.T) {
		store := seededStore()
		store.accountErr = classifyStoreError("get account", context.Canceled)
		r := NewIdentityResolver(store, store)

		_, err := r.Resolve(context.Background(), &IdentityAssertion{ExternalSubjectID: "sub-admin"})
		assert.ErrorIs(t, err, ErrResolutionCancelled)
		assert.NotErrorIs(t, err, ErrStoreUnavailable)
	})
}

func TestIdentityResolver_DoesNotMutateStoreAccount(t *testing.T) {
	account := &LocalAccount{AccountID: 1, RoleID: roleAdmin, Status: StatusActive}
	store := &singleAccountStore{fakeStore: seededStore(), account: account}
	r := NewIdentityResolver(store, store)

	got, err := r.Resolve(context.Background(), &IdentityAssertion{ExternalSubjectID: "any"})
	require.NoError(t, err)
	assert.Equal(t, "ADMIN_AGROMANO", got.Account.RoleCode)
	assert.Empty(t, account.RoleCode)
}

// singleAccountStore always returns the same pointer
type singleAccountStore struct {
	*fakeStore
	account *LocalAccount
}

func (s *singleAccountStore) GetAccountByExternalIDOrUsername(context.Context, string, string) (*LocalAccount, error) {
	return s.account, nil
}
