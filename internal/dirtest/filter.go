package dirtest

import (
	"fmt"
	"strings"
)

type FilterType int

const (
	FilterAnd FilterType = iota
	FilterOr
	FilterNot
	FilterEqual
	FilterPresent
	FilterSubstring
)

// Filter is a parsed RFC 4515 search filter. Values are kept raw; the
// mapper never escapes them.
type Filter struct {
	Type     FilterType
	Attr     string
	Value    string
	Children []*Filter
	Initial  string
	Any      []string
	Final    string
}

func ParseFilter(filterStr string) (*Filter, error) {
	filterStr = strings.TrimSpace(filterStr)
	if len(filterStr) == 0 {
		return nil, fmt.Errorf("empty filter")
	}

	if filterStr[0] != '(' || filterStr[len(filterStr)-1] != ')' {
		return nil, fmt.Errorf("filter must be enclosed in parentheses")
	}

	return parseFilterComp(filterStr[1 : len(filterStr)-1])
}

func parseFilterComp(s string) (*Filter, error) {
	if len(s) == 0 {
		return nil, fmt.Errorf("empty filter component")
	}

	switch s[0] {
	case '&':
		return parseFilterList(s[1:], FilterAnd)
	case '|':
		return parseFilterList(s[1:], FilterOr)
	case '!':
		child, err := ParseFilter(s[1:])
		if err != nil {
			return nil, fmt.Errorf("parse NOT filter: %w", err)
		}
		return &Filter{Type: FilterNot, Children: []*Filter{child}}, nil
	default:
		return parseItem(s)
	}
}

func parseFilterList(s string, filterType FilterType) (*Filter, error) {
	filter := &Filter{Type: filterType}

	for len(s) > 0 {
		if s[0] != '(' {
			return nil, fmt.Errorf("expected '(' in filter list, got %c", s[0])
		}

		depth := 0
		end := -1
		for i := 0; i < len(s); i++ {
			if s[i] == '(' {
				depth++
			} else if s[i] == ')' {
				depth--
				if depth == 0 {
					end = i
					break
				}
			}
		}

		if end < 0 {
			return nil, fmt.Errorf("unbalanced parentheses in filter list")
		}

		child, err := ParseFilter(s[:end+1])
		if err != nil {
			return nil, err
		}
		filter.Children = append(filter.Children, child)
		s = s[end+1:]
	}

	if len(filter.Children) == 0 {
		return nil, fmt.Errorf("empty filter list")
	}

	return filter, nil
}

func parseItem(s string) (*Filter, error) {
	i := strings.IndexByte(s, '=')
	if i <= 0 {
		return nil, fmt.Errorf("invalid filter item: %s", s)
	}

	attr := strings.ToLower(s[:i])
	value := s[i+1:]

	switch {
	case value == "*":
		return &Filter{Type: FilterPresent, Attr: attr}, nil
	case strings.Contains(value, "*"):
		return parseSubstringFilter(attr, value), nil
	default:
		return &Filter{Type: FilterEqual, Attr: attr, Value: value}, nil
	}
}

func parseSubstringFilter(attr, value string) *Filter {
	filter := &Filter{
		Type: FilterSubstring,
		Attr: attr,
	}

	parts := strings.Split(value, "*")

	filter.Initial = parts[0]
	filter.Final = parts[len(parts)-1]

	for _, part := range parts[1 : len(parts)-1] {
		if part != "" {
			filter.Any = append(filter.Any, part)
		}
	}

	return filter
}

// Match evaluates filter against a multi-valued attribute set. Attribute
// names and values compare case-insensitively.
func Match(filter *Filter, attrs map[string][]string) bool {
	normalized := make(map[string][]string, len(attrs))
	for k, v := range attrs {
		normalized[strings.ToLower(k)] = v
	}

	return match(filter, normalized)
}

func match(filter *Filter, attrs map[string][]string) bool {
	switch filter.Type {
	case FilterAnd:
		for _, child := range filter.Children {
			if !match(child, attrs) {
				return false
			}
		}
		return true

	case FilterOr:
		for _, child := range filter.Children {
			if match(child, attrs) {
				return true
			}
		}
		return false

	case FilterNot:
		return !match(filter.Children[0], attrs)

	case FilterEqual:
		for _, v := range attrs[filter.Attr] {
			if strings.EqualFold(v, filter.Value) {
				return true
			}
		}
		return false

	case FilterPresent:
		return len(attrs[filter.Attr]) > 0

	case FilterSubstring:
		for _, v := range attrs[filter.Attr] {
			if matchSubstring(v, filter.Initial, filter.Any, filter.Final) {
				return true
			}
		}
		return false
	}

	return false
}

func matchSubstring(value, initial string, any []string, final string) bool {
	value = strings.ToLower(value)
	initial = strings.ToLower(initial)
	final = strings.ToLower(final)

	if !strings.HasPrefix(value, initial) {
		return false
	}
	value = value[len(initial):]

	if !strings.HasSuffix(value, final) {
		return false
	}
	value = value[:len(value)-len(final)]

	for _, part := range any {
		idx := strings.Index(value, strings.ToLower(part))
		if idx == -1 {
			return false
		}
		value = value[idx+len(part):]
	}

	return true
}
