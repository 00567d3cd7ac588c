package nfsidmap

import (
	"time"
)

// UserEntry is a resolved user identity. Every identity field is populated
// together so one entry answers lookups by name, uid and principal.
type UserEntry struct {
	Username    string
	Principal   string
	UID         uint32
	GID         uint32
	LastUpdated time.Time
}

// GroupEntry is a resolved group identity.
type GroupEntry struct {
	Name        string
	GID         uint32
	LastUpdated time.Time
}

var userCacheOps = CacheOps[UserEntry]{
	Alloc:   func() (*UserEntry, error) { return &UserEntry{}, nil },
	Release: func(e *UserEntry) { *e = UserEntry{} },
	Copy:    func(dst, src *UserEntry) { *dst = *src },
}

var groupCacheOps = CacheOps[GroupEntry]{
	Alloc:   func() (*GroupEntry, error) { return &GroupEntry{}, nil },
	Release: func(e *GroupEntry) { *e = GroupEntry{} },
	Copy:    func(dst, src *GroupEntry) { *dst = *src },
}

func byUsername(name string) Matcher[UserEntry] {
	return func(e *UserEntry) bool { return e.Username == name }
}

func byUID(uid uint32) Matcher[UserEntry] {
	return func(e *UserEntry) bool { return e.UID == uid }
}

// byPrincipal never matches an entry without a principal.
func byPrincipal(principal string) Matcher[UserEntry] {
	return func(e *UserEntry) bool { return e.Principal != "" && e.Principal == principal }
}

func byGroupName(name string) Matcher[GroupEntry] {
	return func(e *GroupEntry) bool { return e.Name == name }
}

func byGID(gid uint32) Matcher[GroupEntry] {
	return func(e *GroupEntry) bool { return e.GID == gid }
}
