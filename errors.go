package nfsidmap

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// Generic error domain returned by every mapper operation. Backend specific
// errors are translated into one of these before they leave a backend.
var (
	ErrNotFound         = errors.New("identity not found")
	ErrNoSuchAttribute  = errors.New("missing required attribute")
	ErrBufferOverflow   = errors.New("buffer overflow")
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrBackend          = errors.New("backend failure")
	ErrAllocation       = errors.New("cache entry allocation failed")
)

// DirectoryError describes a failed directory operation. Code holds the LDAP
// result code when the failure came from the server.
type DirectoryError struct {
	Op        string
	Filter    string
	Attribute string
	Code      uint16
	Err       error
}

func (e *DirectoryError) Error() string {
	parts := []string{fmt.Sprintf("directory %s failed", e.Op)}

	if e.Code > 0 {
		parts[0] = fmt.Sprintf("directory %s failed (code %d)", e.Op, e.Code)
	}

	if e.Filter != "" {
		parts = append(parts, fmt.Sprintf("filter: %s", e.Filter))
	}

	if e.Attribute != "" {
		parts = append(parts, fmt.Sprintf("attribute: %s", e.Attribute))
	}

	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	return strings.Join(parts, " - ")
}

func (e *DirectoryError) Unwrap() error {
	return e.Err
}

// Is reports the generic category of the error so callers never need to
// inspect LDAP result codes themselves.
func (e *DirectoryError) Is(target error) bool {
	return target == categorize(e.Code, e.Err)
}

func newDirectoryError(op, filter string, err error) *DirectoryError {
	dirErr := &DirectoryError{
		Op:     op,
		Filter: filter,
		Err:    err,
	}

	var ldapErr *ldap.Error
	if errors.As(err, &ldapErr) {
		dirErr.Code = ldapErr.ResultCode
		if ldapErr.Err != nil {
			dirErr.Err = errors.New(ldapErr.Err.Error())
		} else {
			dirErr.Err = errors.New(ldap.LDAPResultCodeMap[ldapErr.ResultCode])
		}
	}

	return dirErr
}

func categorize(code uint16, err error) error {
	switch code {
	case ldap.LDAPResultNoSuchObject:
		return ErrNotFound
	case ldap.LDAPResultNoSuchAttribute:
		return ErrNoSuchAttribute
	case ldap.LDAPResultSuccess:
		switch {
		case errors.Is(err, ErrNotFound):
			return ErrNotFound
		case errors.Is(err, ErrNoSuchAttribute):
			return ErrNoSuchAttribute
		case errors.Is(err, ErrBufferOverflow):
			return ErrBufferOverflow
		case errors.Is(err, ErrInvalidParameter):
			return ErrInvalidParameter
		}
	}

	return ErrBackend
}
