package nfsidmap

import (
	"fmt"
	"os/user"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Account is a local user account.
type Account struct {
	Name string
	UID  uint32
	GID  uint32
}

// GroupAccount is a local group.
type GroupAccount struct {
	Name string
	GID  uint32
}

// AccountDB is the local account database. Misses return ErrNotFound.
type AccountDB interface {
	User(name string) (Account, error)
	UserByID(uid uint32) (Account, error)
	Group(name string) (GroupAccount, error)
	GroupByID(gid uint32) (GroupAccount, error)
}

// LocalAccounts resolves identities from the local account database and
// synthesizes principals as name@domain.
type LocalAccounts struct {
	db      AccountDB
	domain  string
	log     *zap.Logger
	queries *QueryLog
}

func NewLocalAccounts(log *zap.Logger, db AccountDB, domain string, queries *QueryLog) *LocalAccounts {
	if log == nil {
		log = zap.NewNop()
	}

	if db == nil {
		db = osAccounts{}
	}

	return &LocalAccounts{
		db:      db,
		domain:  domain,
		log:     log.Named("local"),
		queries: queries,
	}
}

func (l *LocalAccounts) Close() error {
	return nil
}

func (l *LocalAccounts) principal(name string) string {
	return name + "@" + l.domain
}

func (l *LocalAccounts) LookupUser(lookup Lookup) (UserEntry, error) {
	var (
		acct Account
		err  error
	)

	switch lookup.Attr {
	case AttrUserName:
		acct, err = l.db.User(lookup.Name)

	case AttrPrincipal:
		// Only principals in the local domain resolve; the realm after '@'
		// is compared as a whole string, not canonicalized.
		name, _, _ := strings.Cut(lookup.Name, "@")
		acct, err = l.db.User(name)
		if err == nil && l.principal(acct.Name) != lookup.Name {
			l.log.Debug("principal not in local domain",
				zap.String("principal", lookup.Name), zap.String("domain", l.domain))
			err = ErrNotFound
		}

	case AttrUID:
		acct, err = l.db.UserByID(lookup.ID)

	default:
		err = ErrNotFound
	}

	l.record(lookup, err)
	if err != nil {
		return UserEntry{}, err
	}

	user := UserEntry{
		Username:  acct.Name,
		Principal: l.principal(acct.Name),
		UID:       acct.UID,
		GID:       acct.GID,
	}

	if len(user.Username) >= ValueLen || len(user.Principal) >= ValueLen {
		return UserEntry{}, fmt.Errorf("%w: account '%s' longer than %d characters", ErrBufferOverflow, acct.Name, ValueLen-1)
	}

	l.log.Debug("found user",
		zap.String("username", user.Username), zap.String("principal", user.Principal),
		zap.Uint32("uid", user.UID), zap.Uint32("gid", user.GID))

	return user, nil
}

func (l *LocalAccounts) LookupGroup(lookup Lookup) (GroupEntry, error) {
	var (
		grp GroupAccount
		err error
	)

	switch lookup.Attr {
	case AttrGroupName:
		grp, err = l.db.Group(lookup.Name)
	case AttrGID:
		grp, err = l.db.GroupByID(lookup.ID)
	default:
		err = ErrNotFound
	}

	l.record(lookup, err)
	if err != nil {
		return GroupEntry{}, err
	}

	if len(grp.Name) >= ValueLen {
		return GroupEntry{}, fmt.Errorf("%w: group '%s' longer than %d characters", ErrBufferOverflow, grp.Name, ValueLen-1)
	}

	l.log.Debug("found group", zap.String("name", grp.Name), zap.Uint32("gid", grp.GID))

	return GroupEntry{Name: grp.Name, GID: grp.GID}, nil
}

func (l *LocalAccounts) record(lookup Lookup, err error) {
	if l.queries == nil {
		return
	}

	rec := QueryRecord{
		Timestamp: time.Now(),
		Backend:   BackendLocal,
		Kind:      lookup.Class.String(),
		Attribute: lookup.Attr.String(),
		Value:     lookup.Value(),
	}
	if err != nil {
		rec.Error = err.Error()
	}

	l.queries.Log(rec)
}

// osAccounts reads the host account database through os/user.
type osAccounts struct{}

func (osAccounts) User(name string) (Account, error) {
	u, err := user.Lookup(name)
	if err != nil {
		return Account{}, mapAccountError(err)
	}

	return accountFromUser(u)
}

func (osAccounts) UserByID(uid uint32) (Account, error) {
	u, err := user.LookupId(strconv.FormatUint(uint64(uid), 10))
	if err != nil {
		return Account{}, mapAccountError(err)
	}

	return accountFromUser(u)
}

func (osAccounts) Group(name string) (GroupAccount, error) {
	g, err := user.LookupGroup(name)
	if err != nil {
		return GroupAccount{}, mapAccountError(err)
	}

	return groupFromOS(g)
}

func (osAccounts) GroupByID(gid uint32) (GroupAccount, error) {
	g, err := user.LookupGroupId(strconv.FormatUint(uint64(gid), 10))
	if err != nil {
		return GroupAccount{}, mapAccountError(err)
	}

	return groupFromOS(g)
}

func accountFromUser(u *user.User) (Account, error) {
	uid, ok := parseUint(u.Uid)
	if !ok {
		return Account{}, fmt.Errorf("%w: non-numeric uid '%s' for '%s'", ErrNotFound, u.Uid, u.Username)
	}

	gid, ok := parseUint(u.Gid)
	if !ok {
		return Account{}, fmt.Errorf("%w: non-numeric gid '%s' for '%s'", ErrNotFound, u.Gid, u.Username)
	}

	return Account{Name: u.Username, UID: uid, GID: gid}, nil
}

func groupFromOS(g *user.Group) (GroupAccount, error) {
	gid, ok := parseUint(g.Gid)
	if !ok {
		return GroupAccount{}, fmt.Errorf("%w: non-numeric gid '%s' for '%s'", ErrNotFound, g.Gid, g.Name)
	}

	return GroupAccount{Name: g.Name, GID: gid}, nil
}

// mapAccountError folds every lookup failure into ErrNotFound.
func mapAccountError(err error) error {
	return fmt.Errorf("%w: %s", ErrNotFound, err)
}
