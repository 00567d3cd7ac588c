package nfsidmap

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Mapper translates between wire identities and local uid/gid values. It
// owns the configuration, one cache per entity kind and the backend.
type Mapper struct {
	cfg     *Config
	users   *Cache[UserEntry]
	groups  *Cache[GroupEntry]
	backend Backend
	queries *QueryLog
	metrics *Metrics
	log     *zap.Logger
	now     func() time.Time
}

type mapperOptions struct {
	configPath string
	cfg        *Config
	backend    Backend
	accounts   AccountDB
	queries    *QueryLog
	metrics    *Metrics
	now        func() time.Time
}

type Option func(*mapperOptions)

// WithConfigPath reads the configuration from path instead of DefaultConfigPath.
func WithConfigPath(path string) Option {
	return func(o *mapperOptions) { o.configPath = path }
}

// WithConfig skips loading and uses cfg as is.
func WithConfig(cfg *Config) Option {
	return func(o *mapperOptions) { o.cfg = cfg }
}

// WithBackend overrides the backend selected by the configuration.
func WithBackend(b Backend) Option {
	return func(o *mapperOptions) { o.backend = b }
}

// WithAccountDB sets the account database used by the local backend.
func WithAccountDB(db AccountDB) Option {
	return func(o *mapperOptions) { o.accounts = db }
}

func WithQueryLog(l *QueryLog) Option {
	return func(o *mapperOptions) { o.queries = l }
}

func WithMetrics(m *Metrics) Option {
	return func(o *mapperOptions) { o.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(o *mapperOptions) { o.now = now }
}

// New loads the configuration, opens the backend it selects and returns a
// mapper with empty caches. localDomain is the suffix used to synthesize
// principals for local accounts.
func New(log *zap.Logger, localDomain string, opts ...Option) (*Mapper, error) {
	o := mapperOptions{
		configPath: DefaultConfigPath,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("mapper")

	cfg := o.cfg
	if cfg == nil {
		var err error
		if cfg, err = LoadConfig(o.configPath); err != nil {
			log.Error("config load failed", zap.String("path", o.configPath), zap.Error(err))
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	cfg.LocalDomain = localDomain

	if len(cfg.LocalDomain) >= HostnameLen {
		return nil, fmt.Errorf("%w: local domain longer than %d characters", ErrBufferOverflow, HostnameLen-1)
	}

	if o.queries == nil {
		o.queries = NewQueryLog(DefaultQueryLogCapacity)
	}

	backend := o.backend
	if backend == nil {
		var err error
		if backend, err = openBackend(log, cfg, o.accounts, o.queries); err != nil {
			return nil, err
		}
	}

	log.Info("mapper ready",
		zap.String("backend", cfg.Backend),
		zap.String("host", cfg.Hostname),
		zap.Uint32("cache_ttl", cfg.CacheTTL))

	return &Mapper{
		cfg:     cfg,
		users:   NewCache(userCacheOps),
		groups:  NewCache(groupCacheOps),
		backend: backend,
		queries: o.queries,
		metrics: o.metrics,
		log:     log,
		now:     o.now,
	}, nil
}

func openBackend(log *zap.Logger, cfg *Config, accounts AccountDB, queries *QueryLog) (Backend, error) {
	switch cfg.Backend {
	case BackendDirectory:
		dir, err := DialDirectory(log, cfg, queries)
		if err != nil {
			return nil, fmt.Errorf("open directory: %w", err)
		}
		return dir, nil
	case BackendLocal:
		return NewLocalAccounts(log, accounts, cfg.LocalDomain, queries), nil
	default:
		return nil, fmt.Errorf("%w: unknown idmap_backend '%s'", ErrInvalidParameter, cfg.Backend)
	}
}

// Close releases the backend connection and empties both caches.
func (m *Mapper) Close() error {
	err := m.backend.Close()

	m.users.Clear()
	m.groups.Clear()

	return err
}

// Config returns a copy of the effective configuration.
func (m *Mapper) Config() Config {
	return *m.cfg
}

func (m *Mapper) Queries() *QueryLog {
	return m.queries
}

func (m *Mapper) fresh(lastUpdated time.Time) bool {
	return m.now().Sub(lastUpdated) < time.Duration(m.cfg.CacheTTL)*time.Second
}

func (m *Mapper) lookupUser(lookup Lookup, match Matcher[UserEntry]) (UserEntry, error) {
	if user, ok := m.users.Lookup(match); ok {
		if m.fresh(user.LastUpdated) {
			m.metrics.observeCache(ClassUser, "hit")
			return user, nil
		}
		// expired entries are refreshed in place by Insert below
		m.metrics.observeCache(ClassUser, "stale")
	} else {
		m.metrics.observeCache(ClassUser, "miss")
	}

	user, err := m.backend.LookupUser(lookup)
	m.metrics.observeBackend(ClassUser, err)
	if err != nil {
		return UserEntry{}, err
	}
	user.LastUpdated = m.now()

	if m.cfg.CacheTTL != 0 {
		if err := m.users.Insert(byUID(user.UID), &user); err != nil {
			m.log.Warn("user cache insert failed", zap.String("username", user.Username), zap.Error(err))
		}
	}

	return user, nil
}

func (m *Mapper) lookupGroup(lookup Lookup, match Matcher[GroupEntry]) (GroupEntry, error) {
	if group, ok := m.groups.Lookup(match); ok {
		if m.fresh(group.LastUpdated) {
			m.metrics.observeCache(ClassGroup, "hit")
			return group, nil
		}
		m.metrics.observeCache(ClassGroup, "stale")
	} else {
		m.metrics.observeCache(ClassGroup, "miss")
	}

	group, err := m.backend.LookupGroup(lookup)
	m.metrics.observeBackend(ClassGroup, err)
	if err != nil {
		return GroupEntry{}, err
	}
	group.LastUpdated = m.now()

	if m.cfg.CacheTTL != 0 {
		if err := m.groups.Insert(byGID(group.GID), &group); err != nil {
			m.log.Warn("group cache insert failed", zap.String("name", group.Name), zap.Error(err))
		}
	}

	return group, nil
}

// NameToUID resolves a user name to its uid.
func (m *Mapper) NameToUID(name string) (uint32, error) {
	m.log.Debug("--> name_to_uid", zap.String("name", name))

	user, err := m.lookupUser(userNameLookup(name), byUsername(name))
	m.metrics.observeLookup("name_to_uid", err)
	if err != nil {
		m.log.Debug("<-- name_to_uid failed", zap.String("name", name), zap.Error(err))
		return 0, err
	}

	m.log.Debug("<-- name_to_uid", zap.String("name", name), zap.Uint32("uid", user.UID))

	return user.UID, nil
}

// NameToIDs resolves a user name to its uid and primary gid.
func (m *Mapper) NameToIDs(name string) (uint32, uint32, error) {
	m.log.Debug("--> name_to_ids", zap.String("name", name))

	user, err := m.lookupUser(userNameLookup(name), byUsername(name))
	m.metrics.observeLookup("name_to_ids", err)
	if err != nil {
		m.log.Debug("<-- name_to_ids failed", zap.String("name", name), zap.Error(err))
		return 0, 0, err
	}

	m.log.Debug("<-- name_to_ids", zap.String("name", name),
		zap.Uint32("uid", user.UID), zap.Uint32("gid", user.GID))

	return user.UID, user.GID, nil
}

// UIDToName resolves a uid to a user name. The name plus a terminator must
// fit in maxLen bytes.
func (m *Mapper) UIDToName(uid uint32, maxLen int) (string, error) {
	m.log.Debug("--> uid_to_name", zap.Uint32("uid", uid))

	user, err := m.lookupUser(uidLookup(uid), byUID(uid))
	if err == nil && len(user.Username) >= maxLen {
		m.log.Error("username buffer overflow", zap.String("username", user.Username), zap.Int("max", maxLen))
		err = fmt.Errorf("%w: username '%s' > %d", ErrBufferOverflow, user.Username, maxLen)
	}
	m.metrics.observeLookup("uid_to_name", err)
	if err != nil {
		m.log.Debug("<-- uid_to_name failed", zap.Uint32("uid", uid), zap.Error(err))
		return "", err
	}

	m.log.Debug("<-- uid_to_name", zap.Uint32("uid", uid), zap.String("name", user.Username))

	return user.Username, nil
}

// PrincipalToIDs resolves a user@domain principal to its uid and primary gid.
func (m *Mapper) PrincipalToIDs(principal string) (uint32, uint32, error) {
	m.log.Debug("--> principal_to_ids", zap.String("principal", principal))

	user, err := m.lookupUser(principalLookup(principal), byPrincipal(principal))
	m.metrics.observeLookup("principal_to_ids", err)
	if err != nil {
		m.log.Debug("<-- principal_to_ids failed", zap.String("principal", principal), zap.Error(err))
		return 0, 0, err
	}

	m.log.Debug("<-- principal_to_ids", zap.String("principal", principal),
		zap.Uint32("uid", user.UID), zap.Uint32("gid", user.GID))

	return user.UID, user.GID, nil
}

// GroupToGID resolves a group name to its gid.
func (m *Mapper) GroupToGID(name string) (uint32, error) {
	m.log.Debug("--> group_to_gid", zap.String("name", name))

	group, err := m.lookupGroup(groupNameLookup(name), byGroupName(name))
	m.metrics.observeLookup("group_to_gid", err)
	if err != nil {
		m.log.Debug("<-- group_to_gid failed", zap.String("name", name), zap.Error(err))
		return 0, err
	}

	m.log.Debug("<-- group_to_gid", zap.String("name", name), zap.Uint32("gid", group.GID))

	return group.GID, nil
}

// GIDToGroup resolves a gid to a group name. The name plus a terminator must
// fit in maxLen bytes.
func (m *Mapper) GIDToGroup(gid uint32, maxLen int) (string, error) {
	m.log.Debug("--> gid_to_group", zap.Uint32("gid", gid))

	group, err := m.lookupGroup(gidLookup(gid), byGID(gid))
	if err == nil && len(group.Name) >= maxLen {
		m.log.Error("group name buffer overflow", zap.String("name", group.Name), zap.Int("max", maxLen))
		err = fmt.Errorf("%w: group name '%s' > %d", ErrBufferOverflow, group.Name, maxLen)
	}
	m.metrics.observeLookup("gid_to_group", err)
	if err != nil {
		m.log.Debug("<-- gid_to_group failed", zap.Uint32("gid", gid), zap.Error(err))
		return "", err
	}

	m.log.Debug("<-- gid_to_group", zap.Uint32("gid", gid), zap.String("name", group.Name))

	return group.Name, nil
}
