package nfsidmap

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/go-ldap/ldap/v3"
	"go.uber.org/zap"
)

// FilterLen bounds a formatted query filter, terminator included.
const FilterLen = 1024

const (
	userAttributes  = AttrMask(1<<AttrUserName | 1<<AttrPrincipal | 1<<AttrUID | 1<<AttrGID)
	userOptional    = AttrMask(1 << AttrPrincipal)
	groupAttributes = AttrMask(1<<AttrGroupName | 1<<AttrGID)
)

// Searcher is the part of a directory connection the backend uses.
// *ldap.Conn satisfies it.
type Searcher interface {
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
}

// Directory resolves identities with one-shot subtree searches. Searches on
// the shared connection are serialized.
type Directory struct {
	mu      sync.Mutex
	conn    Searcher
	closer  func() error
	cfg     *Config
	log     *zap.Logger
	queries *QueryLog
}

// DialDirectory connects to the directory server named by cfg.
func DialDirectory(log *zap.Logger, cfg *Config, queries *QueryLog) (*Directory, error) {
	if cfg.Version != 3 {
		return nil, fmt.Errorf("%w: unsupported ldap_version %d", ErrInvalidParameter, cfg.Version)
	}

	if log == nil {
		log = zap.NewNop()
	}

	addr := net.JoinHostPort(cfg.Hostname, strconv.FormatUint(uint64(cfg.Port), 10))
	timeout := time.Duration(cfg.Timeout) * time.Second

	conn, err := ldap.DialURL("ldap://"+addr, ldap.DialWithDialer(&net.Dialer{Timeout: timeout}))
	if err != nil {
		log.Error("directory dial failed", zap.String("addr", addr), zap.Error(err))
		return nil, newDirectoryError("dial", "", err)
	}

	if timeout > 0 {
		conn.SetTimeout(timeout)
	}

	closer := func() error {
		conn.Close()
		return nil
	}

	return NewDirectory(log, cfg, conn, closer, queries), nil
}

// NewDirectory wraps an established connection. closer may be nil.
func NewDirectory(log *zap.Logger, cfg *Config, conn Searcher, closer func() error, queries *QueryLog) *Directory {
	if log == nil {
		log = zap.NewNop()
	}

	return &Directory{
		conn:    conn,
		closer:  closer,
		cfg:     cfg,
		log:     log.Named("directory"),
		queries: queries,
	}
}

func (d *Directory) Close() error {
	if d.closer == nil {
		return nil
	}

	return d.closer()
}

// Filter formats the query filter for lookup.
func (d *Directory) Filter(lookup Lookup) (string, error) {
	if lookup.Class < 0 || lookup.Class >= numClasses ||
		lookup.Attr < 0 || lookup.Attr >= numAttributes {
		return "", fmt.Errorf("%w: lookup class %d attribute %d", ErrInvalidParameter, lookup.Class, lookup.Attr)
	}

	class := d.cfg.Classes[lookup.Class]
	attr := d.cfg.Attributes[lookup.Attr]

	var filter string

	switch lookup.Type {
	case ValueInt:
		filter = fmt.Sprintf("(&(objectClass=%s)(%s=%d))", class, attr, lookup.ID)
	case ValueString:
		filter = fmt.Sprintf("(&(objectClass=%s)(%s=%s))", class, attr, lookup.Name)
	default:
		return "", fmt.Errorf("%w: lookup value type %d", ErrInvalidParameter, lookup.Type)
	}

	if len(filter) >= FilterLen {
		d.log.Error("filter buffer overflow", zap.String("attribute", attr), zap.String("value", lookup.Value()))
		return "", fmt.Errorf("%w: filter for '%s=%s' exceeds %d bytes", ErrBufferOverflow, attr, lookup.Value(), FilterLen)
	}

	return filter, nil
}

// QueryAttributes searches for lookup and returns the first value of every
// attribute in required and optional. Absent optional attributes are left
// out of the result.
func (d *Directory) QueryAttributes(lookup Lookup, required, optional AttrMask) (map[Attribute]string, error) {
	filter, err := d.Filter(lookup)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, numAttributes)
	for attr := Attribute(0); attr < numAttributes; attr++ {
		if required.Has(attr) || optional.Has(attr) {
			names = append(names, d.cfg.Attributes[attr])
		}
	}

	req := ldap.NewSearchRequest(
		d.cfg.Base,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		0,
		int(d.cfg.Timeout),
		false,
		filter,
		names,
		nil,
	)

	d.mu.Lock()
	res, err := d.conn.Search(req)
	d.mu.Unlock()

	err = d.checkResult(filter, res, err)
	d.record(lookup, filter, err)
	if err != nil {
		return nil, err
	}

	entry := res.Entries[0]
	values := make(map[Attribute]string, len(names))

	for attr := Attribute(0); attr < numAttributes; attr++ {
		if !required.Has(attr) && !optional.Has(attr) {
			continue
		}

		vals := entry.GetEqualFoldAttributeValues(d.cfg.Attributes[attr])
		if len(vals) > 0 {
			values[attr] = vals[0]
			continue
		}

		if required.Has(attr) {
			d.log.Error("entry missing required attribute",
				zap.String("filter", filter), zap.String("attribute", d.cfg.Attributes[attr]))
			return nil, &DirectoryError{Op: "search", Filter: filter, Attribute: d.cfg.Attributes[attr], Err: ErrNoSuchAttribute}
		}
	}

	return values, nil
}

func (d *Directory) checkResult(filter string, res *ldap.SearchResult, err error) error {
	if err != nil {
		d.log.Error("search failed", zap.String("filter", filter), zap.Error(err))
		return newDirectoryError("search", filter, err)
	}

	if res == nil || len(res.Entries) == 0 {
		d.log.Debug("search returned no entries", zap.String("filter", filter))
		return &DirectoryError{Op: "search", Filter: filter, Err: ErrNotFound}
	}

	return nil
}

func (d *Directory) record(lookup Lookup, filter string, err error) {
	if d.queries == nil {
		return
	}

	rec := QueryRecord{
		Timestamp: time.Now(),
		Backend:   BackendDirectory,
		Kind:      lookup.Class.String(),
		Attribute: lookup.Attr.String(),
		Value:     lookup.Value(),
		Filter:    filter,
	}
	if err != nil {
		rec.Error = err.Error()
	}

	d.queries.Log(rec)
}

func (d *Directory) LookupUser(lookup Lookup) (UserEntry, error) {
	values, err := d.QueryAttributes(lookup, userAttributes&^userOptional, userOptional)
	if err != nil {
		return UserEntry{}, err
	}

	var user UserEntry

	if user.Username, err = d.stringValue(values, AttrUserName); err != nil {
		return UserEntry{}, err
	}
	if user.Principal, err = d.stringValue(values, AttrPrincipal); err != nil {
		return UserEntry{}, err
	}
	if user.UID, err = d.idValue(values, AttrUID); err != nil {
		return UserEntry{}, err
	}
	if user.GID, err = d.idValue(values, AttrGID); err != nil {
		return UserEntry{}, err
	}

	return user, nil
}

func (d *Directory) LookupGroup(lookup Lookup) (GroupEntry, error) {
	values, err := d.QueryAttributes(lookup, groupAttributes, 0)
	if err != nil {
		return GroupEntry{}, err
	}

	var group GroupEntry

	if group.Name, err = d.stringValue(values, AttrGroupName); err != nil {
		return GroupEntry{}, err
	}
	if group.GID, err = d.idValue(values, AttrGID); err != nil {
		return GroupEntry{}, err
	}

	return group, nil
}

func (d *Directory) stringValue(values map[Attribute]string, attr Attribute) (string, error) {
	v := values[attr]
	if len(v) >= ValueLen {
		d.log.Error("attribute value too long",
			zap.String("attribute", d.cfg.Attributes[attr]), zap.Int("len", len(v)), zap.Int("max", ValueLen-1))
		return "", fmt.Errorf("%w: attribute '%s' longer than %d characters", ErrBufferOverflow, d.cfg.Attributes[attr], ValueLen-1)
	}

	return v, nil
}

func (d *Directory) idValue(values map[Attribute]string, attr Attribute) (uint32, error) {
	id, ok := parseUint(values[attr])
	if !ok {
		d.log.Error("failed to parse attribute",
			zap.String("attribute", d.cfg.Attributes[attr]), zap.String("value", values[attr]))
		return 0, fmt.Errorf("%w: attribute '%s'='%s' is not a number", ErrInvalidParameter, d.cfg.Attributes[attr], values[attr])
	}

	return id, nil
}
