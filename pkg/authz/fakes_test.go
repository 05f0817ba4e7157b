package authz

import (
	"context"
	"sync"
)

// fakeStore is an in-memory Store. Error fields, when set, are returned by the
// matching method; the call counters let tests assert which tiers ran.
type fakeStore struct {
	mu sync.Mutex

	accounts []LocalAccount
	roles    map[int64]Role
	active   map[int64][]string
	all      map[int64][]string
	roleIDs  map[int64]int64

	accountErr error
	roleErr    error
	activeErr  error
	allErr     error
	roleIDErr  error

	// blockActive makes the strict query wait for ctx to end
	blockActive bool

	calls map[string]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		roles:   map[int64]Role{},
		active:  map[int64][]string{},
		all:     map[int64][]string{},
		roleIDs: map[int64]int64{},
		calls:   map[string]int{},
	}
}

func (f *fakeStore) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
}

func (f *fakeStore) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeStore) addAccount(a LocalAccount) {
	f.accounts = append(f.accounts, a)
	f.roleIDs[a.AccountID] = a.RoleID
}

func (f *fakeStore) GetAccountByExternalIDOrUsername(_ context.Context, externalSubjectID, username string) (*LocalAccount, error) {
	f.record("account")
	if f.accountErr != nil {
		return nil, f.accountErr
	}
	for _, a := range f.accounts {
		if externalSubjectID != "" && a.ExternalSubjectID != nil && *a.ExternalSubjectID == externalSubjectID {
			found := a
			return &found, nil
		}
	}
	for _, a := range f.accounts {
		if username != "" && a.Username == username {
			found := a
			return &found, nil
		}
	}
	return nil, ErrNotFound
}

func (f *fakeStore) RoleIDForAccount(_ context.Context, accountID int64) (int64, error) {
	f.record("role_id")
	if f.roleIDErr != nil {
		return 0, f.roleIDErr
	}
	id, ok := f.roleIDs[accountID]
	if !ok || id == 0 {
		return 0, ErrNotFound
	}
	return id, nil
}

func (f *fakeStore) GetRoleByID(_ context.Context, roleID int64) (*Role, error) {
	f.record("role")
	if f.roleErr != nil {
		return nil, f.roleErr
	}
	r, ok := f.roles[roleID]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (f *fakeStore) ActivePermissionsForRole(ctx context.Context, roleID int64) ([]string, error) {
	f.record("active")
	if f.blockActive {
		<-ctx.Done()
		return nil, classifyStoreError("active permissions", ctx.Err())
	}
	if f.activeErr != nil {
		return nil, f.activeErr
	}
	return append([]string(nil), f.active[roleID]...), nil
}

func (f *fakeStore) AllPermissionsForRole(_ context.Context, roleID int64) ([]string, error) {
	f.record("all")
	if f.allErr != nil {
		return nil, f.allErr
	}
	return append([]string(nil), f.all[roleID]...), nil
}

func strPtr(s string) *string { return &s }

const (
	roleAdmin      int64 = 1
	roleSupervisor int64 = 2
	roleEmployee   int64 = 3
)

// seededStore holds one account per catalog role
func seededStore() *fakeStore {
	f := newFakeStore()
	f.roles[roleAdmin] = Role{RoleID: roleAdmin, Code: "ADMIN_AGROMANO", Name: "Administrador"}
	f.roles[roleSupervisor] = Role{RoleID: roleSupervisor, Code: "SUPERVISOR_CAMPO", Name: "Supervisor de campo"}
	f.roles[roleEmployee] = Role{RoleID: roleEmployee, Code: "EMPLEADO_CAMPO", Name: "Empleado de campo"}

	f.addAccount(LocalAccount{AccountID: 10, ExternalSubjectID: strPtr("sub-admin"), Username: "admin@agromano.com", RoleID: roleAdmin, Status: StatusActive})
	f.addAccount(LocalAccount{AccountID: 20, ExternalSubjectID: strPtr("sub-super"), Username: "supervisor@agromano.com", RoleID: roleSupervisor, Status: StatusActive})
	f.addAccount(LocalAccount{AccountID: 30, Username: "empleado@agromano.com", RoleID: roleEmployee, Status: "activo"})
	f.addAccount(LocalAccount{AccountID: 40, ExternalSubjectID: strPtr("sub-suspended"), Username: "suspendido@agromano.com", RoleID: roleSupervisor, Status: StatusSuspended})
	return f
}
