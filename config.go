package nfsidmap

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode"
)

// DefaultConfigPath is read by the mapper unless another path is given.
const DefaultConfigPath = "/etc/ms-nfs41-idmap.conf"

// Field capacities, terminator included.
const (
	HostnameLen = 64 + 1
	NameLen     = 32
	ValueLen    = 257
)

const (
	BackendDirectory = "ldap"
	BackendLocal     = "local"
)

// Class is a directory object class, indexed by entity kind.
type Class int

const (
	ClassUser Class = iota
	ClassGroup

	numClasses
)

func (c Class) String() string {
	switch c {
	case ClassUser:
		return "user"
	case ClassGroup:
		return "group"
	default:
		return "unknown"
	}
}

// Attribute is a logical identity attribute mapped to a schema name by Config.
type Attribute int

const (
	AttrUserName Attribute = iota
	AttrGroupName
	AttrPrincipal
	AttrUID
	AttrGID

	numAttributes
)

func (a Attribute) String() string {
	switch a {
	case AttrUserName:
		return "username"
	case AttrGroupName:
		return "groupname"
	case AttrPrincipal:
		return "principal"
	case AttrUID:
		return "uid"
	case AttrGID:
		return "gid"
	default:
		return "unknown"
	}
}

// Config parameterizes the directory schema mapping and the cache.
type Config struct {
	Hostname    string
	LocalDomain string
	Port        uint32
	Version     uint32
	Timeout     uint32

	Classes    [numClasses]string
	Attributes [numAttributes]string
	Base       string

	// CacheTTL is in seconds; zero disables caching.
	CacheTTL uint32

	Backend string
}

var (
	ErrInvalidSyntax  = errors.New("invalid syntax")
	ErrUnknownOption  = errors.New("unrecognized option")
	ErrInvalidNumber  = errors.New("expected a number")
	ErrInvalidDefault = errors.New("invalid default value")
)

// ConfigError reports the line of the configuration file that failed.
type ConfigError struct {
	Line int
	Text string
	Key  string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config line %d: option '%s': %s: '%s'", e.Line, e.Key, e.Err, e.Text)
	}

	return fmt.Sprintf("config line %d: %s: '%s'", e.Line, e.Err, e.Text)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

type optionKind int

const (
	kindString optionKind = iota
	kindInt
)

type option struct {
	key  string
	def  string
	kind optionKind
	set  func(cfg *Config, value string) error
	get  func(cfg *Config) string
}

func optInt(key, def string, field func(*Config) *uint32) option {
	return option{
		key:  key,
		def:  def,
		kind: kindInt,
		set: func(cfg *Config, value string) error {
			n, ok := parseUint(value)
			if !ok {
				return ErrInvalidNumber
			}
			*field(cfg) = n
			return nil
		},
		get: func(cfg *Config) string {
			return strconv.FormatUint(uint64(*field(cfg)), 10)
		},
	}
}

func optStr(key, def string, maxLen int, field func(*Config) *string) option {
	return option{
		key:  key,
		def:  def,
		kind: kindString,
		set: func(cfg *Config, value string) error {
			if len(value) >= maxLen {
				return ErrBufferOverflow
			}
			*field(cfg) = value
			return nil
		},
		get: func(cfg *Config) string {
			return *field(cfg)
		},
	}
}

func optClass(key, def string, class Class) option {
	return optStr(key, def, NameLen, func(cfg *Config) *string { return &cfg.Classes[class] })
}

func optAttr(key, def string, attr Attribute) option {
	return optStr(key, def, NameLen, func(cfg *Config) *string { return &cfg.Attributes[attr] })
}

var options = []option{
	optStr("ldap_hostname", "localhost", HostnameLen, func(cfg *Config) *string { return &cfg.Hostname }),
	optInt("ldap_port", "389", func(cfg *Config) *uint32 { return &cfg.Port }),
	optInt("ldap_version", "3", func(cfg *Config) *uint32 { return &cfg.Version }),
	optInt("ldap_timeout", "0", func(cfg *Config) *uint32 { return &cfg.Timeout }),

	optStr("ldap_base", "cn=localhost", ValueLen, func(cfg *Config) *string { return &cfg.Base }),
	optClass("ldap_class_users", "user", ClassUser),
	optClass("ldap_class_groups", "group", ClassGroup),
	optAttr("ldap_attr_username", "cn", AttrUserName),
	optAttr("ldap_attr_groupname", "cn", AttrGroupName),
	optAttr("ldap_attr_gssAuthName", "gssAuthName", AttrPrincipal),
	optAttr("ldap_attr_uidNumber", "uidNumber", AttrUID),
	optAttr("ldap_attr_gidNumber", "gidNumber", AttrGID),

	optInt("cache_ttl", "6000", func(cfg *Config) *uint32 { return &cfg.CacheTTL }),

	optStr("idmap_backend", BackendDirectory, NameLen, func(cfg *Config) *string { return &cfg.Backend }),
}

// DefaultConfig returns the configuration built from the option defaults.
func DefaultConfig() (*Config, error) {
	return defaultConfig(options)
}

func defaultConfig(table []option) (*Config, error) {
	cfg := &Config{}

	for _, opt := range table {
		if err := opt.set(cfg, opt.def); err != nil {
			return nil, fmt.Errorf("%w: '%s'=\"%s\": %w", ErrInvalidDefault, opt.key, opt.def, err)
		}
	}

	return cfg, nil
}

// LoadConfig applies the file at path on top of the defaults. A file that
// cannot be opened leaves the defaults in place and is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg, err := DefaultConfig()
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return cfg, nil
	}
	defer func() { _ = f.Close() }()

	if err := cfg.parse(f); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Format renders cfg in the configuration file grammar, one option per line
// in table order.
func (cfg *Config) Format() string {
	var b strings.Builder

	for _, opt := range options {
		if opt.kind == kindString {
			fmt.Fprintf(&b, "%s = \"%s\"\n", opt.key, opt.get(cfg))
			continue
		}
		fmt.Fprintf(&b, "%s = %s\n", opt.key, opt.get(cfg))
	}

	return b.String()
}

func (cfg *Config) parse(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	line := 0

	for scanner.Scan() {
		line++
		text := scanner.Text()

		trimmed := strings.TrimLeftFunc(text, unicode.IsSpace)
		if trimmed == "" || trimmed[0] == '#' {
			continue
		}

		key, value, err := parsePair(text)
		if err != nil {
			return &ConfigError{Line: line, Text: text, Err: err}
		}

		opt, ok := findOption(key)
		if !ok {
			return &ConfigError{Line: line, Text: text, Key: key, Err: ErrUnknownOption}
		}

		if err := opt.set(cfg, value); err != nil {
			return &ConfigError{Line: line, Text: text, Key: key, Err: err}
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	return nil
}

// parsePair accepts 'key = value' or 'key = "value"'. Whitespace outside the
// quotes is ignored and anything after '#' is a comment.
func parsePair(line string) (string, string, error) {
	if i := strings.IndexByte(line, '#'); i >= 0 {
		line = line[:i]
	}

	line = strings.TrimLeftFunc(line, unicode.IsSpace)

	eq := strings.IndexByte(line, '=')
	if eq < 0 {
		return "", "", fmt.Errorf("%w: missing '='", ErrInvalidSyntax)
	}

	key := strings.TrimRightFunc(line[:eq], unicode.IsSpace)
	if key == "" {
		return "", "", fmt.Errorf("%w: empty key", ErrInvalidSyntax)
	}

	rest := strings.TrimLeftFunc(line[eq+1:], unicode.IsSpace)
	if rest == "" {
		return "", "", fmt.Errorf("%w: end of line looking for value", ErrInvalidSyntax)
	}

	if rest[0] == '"' {
		end := strings.IndexByte(rest[1:], '"')
		if end < 0 {
			return "", "", fmt.Errorf("%w: no matching '\"'", ErrInvalidSyntax)
		}
		return key, rest[1 : end+1], nil
	}

	return key, strings.TrimRightFunc(rest, unicode.IsSpace), nil
}

func findOption(key string) (option, bool) {
	for _, opt := range options {
		if strings.EqualFold(opt.key, key) {
			return opt, true
		}
	}

	return option{}, false
}

// parseUint converts the whole string to an unsigned 32-bit decimal.
func parseUint(s string) (uint32, bool) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, false
	}

	return uint32(n), true
}
