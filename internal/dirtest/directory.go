// Package dirtest provides an in-memory directory for exercising the
// identity mapper without a real directory server.
package dirtest

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-ldap/ldap/v3"
	"gopkg.in/yaml.v2"
)

type Fixture struct {
	Entries []Entry `yaml:"entries"`
}

type Entry struct {
	DN    string              `yaml:"dn"`
	Attrs map[string][]string `yaml:"attrs"`
}

// LoadFixture decodes a YAML fixture.
func LoadFixture(data []byte) (Fixture, error) {
	var fixture Fixture
	if err := yaml.Unmarshal(data, &fixture); err != nil {
		return Fixture{}, fmt.Errorf("decode fixture: %w", err)
	}

	return fixture, nil
}

// MustLoadFixture is LoadFixture for literals in tests.
func MustLoadFixture(data string) Fixture {
	fixture, err := LoadFixture([]byte(data))
	if err != nil {
		panic(err)
	}

	return fixture
}

// Directory answers searches from a fixture and counts them.
type Directory struct {
	mu       sync.Mutex
	fixture  Fixture
	searches []SearchLog
	failure  error
}

// SearchLog is one search seen by the directory.
type SearchLog struct {
	BaseDN     string
	Filter     string
	Attributes []string
	Returned   int
}

func New(fixture Fixture) *Directory {
	return &Directory{fixture: fixture}
}

func (d *Directory) SetFixture(fixture Fixture) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.fixture = fixture
}

// FailWith makes every following search return err; nil restores normal
// operation.
func (d *Directory) FailWith(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.failure = err
}

func (d *Directory) Searches() []SearchLog {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]SearchLog, len(d.searches))
	copy(out, d.searches)

	return out
}

func (d *Directory) SearchCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.searches)
}

func (d *Directory) ResetSearches() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.searches = nil
}

// Search evaluates req against the fixture. Only entries under req.BaseDN
// are considered and only requested attributes are returned.
func (d *Directory) Search(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	filter, err := ParseFilter(req.Filter)
	if err != nil {
		return nil, ldap.NewError(ldap.LDAPResultProtocolError, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	log := SearchLog{
		BaseDN:     req.BaseDN,
		Filter:     req.Filter,
		Attributes: append([]string(nil), req.Attributes...),
	}

	if d.failure != nil {
		d.searches = append(d.searches, log)
		return nil, d.failure
	}

	result := &ldap.SearchResult{}

	for _, entry := range d.fixture.Entries {
		if !underBase(entry.DN, req.BaseDN) || !Match(filter, entry.Attrs) {
			continue
		}

		result.Entries = append(result.Entries, ldap.NewEntry(entry.DN, selectAttrs(entry.Attrs, req.Attributes)))
	}

	log.Returned = len(result.Entries)
	d.searches = append(d.searches, log)

	return result, nil
}

func (d *Directory) entries(baseDN string) []Entry {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]Entry, 0, len(d.fixture.Entries))
	for _, entry := range d.fixture.Entries {
		if underBase(entry.DN, baseDN) {
			out = append(out, entry)
		}
	}

	return out
}

func (d *Directory) logSearch(log SearchLog) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.searches = append(d.searches, log)
}

func underBase(dn, base string) bool {
	if base == "" {
		return true
	}

	dn = strings.ToLower(dn)
	base = strings.ToLower(base)

	return dn == base || strings.HasSuffix(dn, ","+base)
}

func selectAttrs(attrs map[string][]string, requested []string) map[string][]string {
	if len(requested) == 0 {
		return attrs
	}

	out := make(map[string][]string, len(requested))
	for _, name := range requested {
		for k, v := range attrs {
			if strings.EqualFold(k, name) {
				out[name] = v
			}
		}
	}

	return out
}
