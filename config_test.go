package nfsidmap

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "idmap.conf")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	return path
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "does-not-exist.conf"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Hostname != "localhost" {
		t.Errorf("hostname = %q, want localhost", cfg.Hostname)
	}
	if cfg.Port != 389 {
		t.Errorf("port = %d, want 389", cfg.Port)
	}
	if cfg.Version != 3 {
		t.Errorf("version = %d, want 3", cfg.Version)
	}
	if cfg.Timeout != 0 {
		t.Errorf("timeout = %d, want 0", cfg.Timeout)
	}
	if cfg.Base != "cn=localhost" {
		t.Errorf("base = %q, want cn=localhost", cfg.Base)
	}
	if cfg.Classes[ClassUser] != "user" || cfg.Classes[ClassGroup] != "group" {
		t.Errorf("classes = %v", cfg.Classes)
	}

	wantAttrs := [numAttributes]string{
		AttrUserName:  "cn",
		AttrGroupName: "cn",
		AttrPrincipal: "gssAuthName",
		AttrUID:       "uidNumber",
		AttrGID:       "gidNumber",
	}
	if cfg.Attributes != wantAttrs {
		t.Errorf("attributes = %v, want %v", cfg.Attributes, wantAttrs)
	}
	if cfg.CacheTTL != 6000 {
		t.Errorf("cache_ttl = %d, want 6000", cfg.CacheTTL)
	}
	if cfg.Backend != BackendDirectory {
		t.Errorf("backend = %q, want %q", cfg.Backend, BackendDirectory)
	}
}

func TestLoadConfig_Values(t *testing.T) {
	path := writeConfig(t, `
# directory server
ldap_hostname = ldap.example.com
ldap_port = 636   # ldaps
ldap_base = "ou=people, dc=example,dc=com"

LDAP_CLASS_USERS = posixAccount
ldap_class_groups = "posixGroup"
ldap_attr_username = uid
ldap_attr_gssAuthName = krbPrincipalName
cache_ttl = 0
cache_ttl = 30
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Hostname != "ldap.example.com" {
		t.Errorf("hostname = %q", cfg.Hostname)
	}
	if cfg.Port != 636 {
		t.Errorf("port = %d, want 636", cfg.Port)
	}
	if cfg.Base != "ou=people, dc=example,dc=com" {
		t.Errorf("base = %q", cfg.Base)
	}
	if cfg.Classes[ClassUser] != "posixAccount" {
		t.Errorf("user class = %q", cfg.Classes[ClassUser])
	}
	if cfg.Classes[ClassGroup] != "posixGroup" {
		t.Errorf("group class = %q", cfg.Classes[ClassGroup])
	}
	if cfg.Attributes[AttrUserName] != "uid" {
		t.Errorf("username attr = %q", cfg.Attributes[AttrUserName])
	}
	if cfg.Attributes[AttrPrincipal] != "krbPrincipalName" {
		t.Errorf("principal attr = %q", cfg.Attributes[AttrPrincipal])
	}
	if cfg.Attributes[AttrUID] != "uidNumber" {
		t.Errorf("uid attr = %q, want default", cfg.Attributes[AttrUID])
	}
	if cfg.CacheTTL != 30 {
		t.Errorf("cache_ttl = %d, want last assignment 30", cfg.CacheTTL)
	}
}

func TestParsePair(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantKey   string
		wantValue string
		wantErr   bool
	}{
		{
			name:      "unquoted",
			input:     "foo = bar",
			wantKey:   "foo",
			wantValue: "bar",
		},
		{
			name:      "quoted",
			input:     `foo = "bar"`,
			wantKey:   "foo",
			wantValue: "bar",
		},
		{
			name:      "trailing comment",
			input:     "foo = bar # comment",
			wantKey:   "foo",
			wantValue: "bar",
		},
		{
			name:      "no spaces",
			input:     "foo=bar",
			wantKey:   "foo",
			wantValue: "bar",
		},
		{
			name:      "quoted keeps whitespace",
			input:     `  foo =   "  bar baz  "  `,
			wantKey:   "foo",
			wantValue: "  bar baz  ",
		},
		{
			name:      "unquoted keeps inner whitespace",
			input:     "foo = bar baz\t",
			wantKey:   "foo",
			wantValue: "bar baz",
		},
		{
			name:      "quoted empty",
			input:     `foo = ""`,
			wantKey:   "foo",
			wantValue: "",
		},
		{
			name:    "missing equals",
			input:   "foo bar",
			wantErr: true,
		},
		{
			name:    "unterminated quote",
			input:   `foo = "bar`,
			wantErr: true,
		},
		{
			name:    "empty key",
			input:   " = bar",
			wantErr: true,
		},
		{
			name:    "missing value",
			input:   "foo =   ",
			wantErr: true,
		},
		{
			name:    "comment hides value",
			input:   "foo = # bar",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, value, err := parsePair(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidSyntax) {
					t.Fatalf("err = %v, want ErrInvalidSyntax", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if key != tt.wantKey {
				t.Errorf("key = %q, want %q", key, tt.wantKey)
			}
			if value != tt.wantValue {
				t.Errorf("value = %q, want %q", value, tt.wantValue)
			}
		})
	}
}

func TestParseUint(t *testing.T) {
	tests := []struct {
		input  string
		want   uint32
		wantOK bool
	}{
		{input: "123", want: 123, wantOK: true},
		{input: "0", want: 0, wantOK: true},
		{input: "4294967295", want: 4294967295, wantOK: true},
		{input: "4294967296"},
		{input: "123abc"},
		{input: "-1"},
		{input: ""},
		{input: " 1"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := parseUint(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("value = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		wantErr  error
		wantLine int
	}{
		{
			name:     "syntax",
			content:  "ldap_port = 389\nldap_hostname localhost\n",
			wantErr:  ErrInvalidSyntax,
			wantLine: 2,
		},
		{
			name:     "unknown key",
			content:  "# header\n\nldap_colour = blue\n",
			wantErr:  ErrUnknownOption,
			wantLine: 3,
		},
		{
			name:     "trailing characters in number",
			content:  "ldap_port = 123abc\n",
			wantErr:  ErrInvalidNumber,
			wantLine: 1,
		},
		{
			name:     "number out of range",
			content:  "cache_ttl = 99999999999\n",
			wantErr:  ErrInvalidNumber,
			wantLine: 1,
		},
		{
			name:     "class name overflow",
			content:  "ldap_class_users = " + strings.Repeat("x", NameLen) + "\n",
			wantErr:  ErrBufferOverflow,
			wantLine: 1,
		},
		{
			name:     "unterminated quote",
			content:  "ldap_base = \"dc=example\n",
			wantErr:  ErrInvalidSyntax,
			wantLine: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}

			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("err = %T, want *ConfigError", err)
			}
			if cfgErr.Line != tt.wantLine {
				t.Errorf("line = %d, want %d", cfgErr.Line, tt.wantLine)
			}
		})
	}
}

func TestLoadConfig_StringLimitIncludesTerminator(t *testing.T) {
	fits := strings.Repeat("a", NameLen-1)

	cfg, err := LoadConfig(writeConfig(t, "ldap_attr_uidNumber = "+fits+"\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Attributes[AttrUID] != fits {
		t.Errorf("uid attr = %q", cfg.Attributes[AttrUID])
	}
}

func TestDefaultOptionsParse(t *testing.T) {
	for _, opt := range options {
		if err := opt.set(&Config{}, opt.def); err != nil {
			t.Errorf("default for %s: %v", opt.key, err)
		}
	}
}

func TestConfigFormat_RoundTrip(t *testing.T) {
	cfg, err := DefaultConfig()
	if err != nil {
		t.Fatalf("defaults: %v", err)
	}
	cfg.Base = "dc=example, dc=com"
	cfg.CacheTTL = 42

	loaded, err := LoadConfig(writeConfig(t, cfg.Format()))
	if err != nil {
		t.Fatalf("load formatted config: %v", err)
	}

	if *loaded != *cfg {
		t.Errorf("round trip = %+v, want %+v", *loaded, *cfg)
	}
}

func TestDefaultConfig_InvalidDefault(t *testing.T) {
	table := []option{
		optStr("ldap_hostname", "localhost", HostnameLen, func(cfg *Config) *string { return &cfg.Hostname }),
		optInt("ldap_port", "38x", func(cfg *Config) *uint32 { return &cfg.Port }),
	}

	_, err := defaultConfig(table)
	if !errors.Is(err, ErrInvalidDefault) {
		t.Fatalf("err = %v, want ErrInvalidDefault", err)
	}
	if !errors.Is(err, ErrInvalidNumber) {
		t.Errorf("err = %v, want cause ErrInvalidNumber", err)
	}
	if !strings.Contains(err.Error(), "ldap_port") {
		t.Errorf("err = %v, want offending key", err)
	}
}
