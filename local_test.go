package nfsidmap

import (
	"errors"
	"os/user"
	"testing"

	"go.uber.org/zap"
)

type fakeAccounts struct {
	users  []Account
	groups []GroupAccount
	calls  int
}

func (f *fakeAccounts) User(name string) (Account, error) {
	f.calls++
	for _, u := range f.users {
		if u.Name == name {
			return u, nil
		}
	}
	return Account{}, mapAccountError(user.UnknownUserError(name))
}

func (f *fakeAccounts) UserByID(uid uint32) (Account, error) {
	f.calls++
	for _, u := range f.users {
		if u.UID == uid {
			return u, nil
		}
	}
	return Account{}, mapAccountError(user.UnknownUserIdError(int(uid)))
}

func (f *fakeAccounts) Group(name string) (GroupAccount, error) {
	f.calls++
	for _, g := range f.groups {
		if g.Name == name {
			return g, nil
		}
	}
	return GroupAccount{}, mapAccountError(user.UnknownGroupError(name))
}

func (f *fakeAccounts) GroupByID(gid uint32) (GroupAccount, error) {
	f.calls++
	for _, g := range f.groups {
		if g.GID == gid {
			return g, nil
		}
	}
	return GroupAccount{}, ErrNotFound
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{
		users: []Account{
			{Name: "alice", UID: 1000, GID: 100},
			{Name: "bob", UID: 1001, GID: 100},
		},
		groups: []GroupAccount{
			{Name: "users", GID: 100},
		},
	}
}

func TestLocalAccounts_LookupUser(t *testing.T) {
	local := NewLocalAccounts(zap.NewNop(), newFakeAccounts(), "example.com", nil)

	alice := UserEntry{Username: "alice", Principal: "alice@example.com", UID: 1000, GID: 100}

	tests := []struct {
		name    string
		lookup  Lookup
		want    UserEntry
		wantErr error
	}{
		{name: "by name", lookup: userNameLookup("alice"), want: alice},
		{name: "by uid", lookup: uidLookup(1000), want: alice},
		{name: "by principal", lookup: principalLookup("alice@example.com"), want: alice},
		{name: "principal in another domain", lookup: principalLookup("alice@other.org"), wantErr: ErrNotFound},
		{name: "principal without domain", lookup: principalLookup("alice"), wantErr: ErrNotFound},
		{name: "unknown name", lookup: userNameLookup("mallory"), wantErr: ErrNotFound},
		{name: "unknown uid", lookup: uidLookup(4242), wantErr: ErrNotFound},
		{name: "unsupported attribute", lookup: Lookup{Attr: AttrGID, Class: ClassUser, Type: ValueInt, ID: 100}, wantErr: ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := local.LookupUser(tt.lookup)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}

			if err != nil {
				t.Fatalf("lookup: %v", err)
			}
			if got != tt.want {
				t.Errorf("user = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestLocalAccounts_LookupGroup(t *testing.T) {
	queries := NewQueryLog(8)
	local := NewLocalAccounts(zap.NewNop(), newFakeAccounts(), "example.com", queries)

	group, err := local.LookupGroup(groupNameLookup("users"))
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if group != (GroupEntry{Name: "users", GID: 100}) {
		t.Errorf("group = %+v", group)
	}

	group, err = local.LookupGroup(gidLookup(100))
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if group.Name != "users" {
		t.Errorf("group = %+v", group)
	}

	if _, err := local.LookupGroup(gidLookup(9)); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}

	logged := queries.List()
	if len(logged) != 3 {
		t.Fatalf("query log = %d records, want 3", len(logged))
	}
	if logged[0].Backend != BackendLocal || logged[0].Value != "9" || logged[0].Error == "" {
		t.Errorf("newest record = %+v", logged[0])
	}
}

func TestMapAccountError(t *testing.T) {
	errs := []error{
		user.UnknownUserError("x"),
		user.UnknownUserIdError(7),
		user.UnknownGroupError("x"),
		user.UnknownGroupIdError("7"),
		errors.New("nss unavailable"),
	}

	for _, err := range errs {
		if got := mapAccountError(err); !errors.Is(got, ErrNotFound) {
			t.Errorf("mapAccountError(%v) = %v, want ErrNotFound", err, got)
		}
	}
}
