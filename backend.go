package nfsidmap

import (
	"strconv"
)

// ValueType tells a backend how to render a lookup value.
type ValueType int

const (
	ValueString ValueType = iota
	ValueInt
)

// Lookup names the attribute being resolved and the key to resolve.
type Lookup struct {
	Attr  Attribute
	Class Class
	Type  ValueType
	Name  string
	ID    uint32
}

func userNameLookup(name string) Lookup {
	return Lookup{Attr: AttrUserName, Class: ClassUser, Type: ValueString, Name: name}
}

func uidLookup(uid uint32) Lookup {
	return Lookup{Attr: AttrUID, Class: ClassUser, Type: ValueInt, ID: uid}
}

func principalLookup(principal string) Lookup {
	return Lookup{Attr: AttrPrincipal, Class: ClassUser, Type: ValueString, Name: principal}
}

func groupNameLookup(name string) Lookup {
	return Lookup{Attr: AttrGroupName, Class: ClassGroup, Type: ValueString, Name: name}
}

func gidLookup(gid uint32) Lookup {
	return Lookup{Attr: AttrGID, Class: ClassGroup, Type: ValueInt, ID: gid}
}

// Value renders the key as it appears in a query.
func (l Lookup) Value() string {
	if l.Type == ValueInt {
		return strconv.FormatUint(uint64(l.ID), 10)
	}

	return l.Name
}

// Backend resolves identities for the mapper. Implementations translate
// their own failures into the generic error domain.
type Backend interface {
	LookupUser(lookup Lookup) (UserEntry, error)
	LookupGroup(lookup Lookup) (GroupEntry, error)
	Close() error
}

// AttrMask is a set of attributes, one bit per Attribute.
type AttrMask uint

func attrFlag(attr Attribute) AttrMask {
	return 1 << attr
}

func (m AttrMask) Has(attr Attribute) bool {
	return m&attrFlag(attr) != 0
}
