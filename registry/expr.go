package registry

import (
	"fmt"
	"strconv"
	"strings"
)

// parseTypeExpression turns a textual v13 type such as "Vec<T::AccountId>"
// or "(u32, [u8; 4])" into a node. Named types become proxies resolved
// through the catalog at use time.
func parseTypeExpression(expr string) (Node, error) {
	expr = normalizeTypeName(expr)
	if expr == "" {
		return nil, fmt.Errorf("%w: empty type expression", ErrUnknownType)
	}

	switch {
	case expr == "()":
		return &NullNode{Name: "()"}, nil
	case strings.HasPrefix(expr, "(") && strings.HasSuffix(expr, ")"):
		parts, err := splitTopLevel(expr[1 : len(expr)-1])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", expr, err)
		}

		elems := make([]Node, 0, len(parts))
		for _, part := range parts {
			node, err := parseTypeExpression(part)
			if err != nil {
				return nil, err
			}

			elems = append(elems, node)
		}

		return &TupleNode{Elems: elems}, nil
	case strings.HasPrefix(expr, "[") && strings.HasSuffix(expr, "]"):
		return parseArrayExpression(expr)
	}

	open := strings.IndexByte(expr, '<')
	if open < 0 {
		return &ProxyNode{Key: expr}, nil
	}

	if !strings.HasSuffix(expr, ">") {
		return nil, fmt.Errorf("%w: malformed generic %q", ErrUnknownType, expr)
	}

	name := strings.TrimSpace(expr[:open])

	args, err := splitTopLevel(expr[open+1 : len(expr)-1])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", expr, err)
	}

	parsed := make([]Node, 0, len(args))
	for _, arg := range args {
		node, err := parseTypeExpression(arg)
		if err != nil {
			return nil, err
		}

		parsed = append(parsed, node)
	}

	return genericNode(expr, name, args, parsed)
}

func genericNode(expr, name string, args []string, parsed []Node) (Node, error) {
	arity := func(n int) error {
		if len(parsed) != n {
			return fmt.Errorf("%w: %s takes %d arguments, got %d", ErrUnknownType, name, n, len(parsed))
		}

		return nil
	}

	switch name {
	case "Vec", "VecDeque", "BTreeSet", "BoundedVec", "WeakBoundedVec", "BoundedBTreeSet":
		if len(parsed) == 0 {
			return nil, arity(1)
		}

		return &VectorNode{Elem: parsed[0]}, nil
	case "Option":
		if err := arity(1); err != nil {
			return nil, err
		}

		return &OptionNode{Elem: parsed[0]}, nil
	case "Compact":
		if err := arity(1); err != nil {
			return nil, err
		}

		return &CompactNode{Elem: parsed[0]}, nil
	case "Box", "Rc", "Arc":
		if err := arity(1); err != nil {
			return nil, err
		}

		return parsed[0], nil
	case "BTreeMap", "HashMap", "BoundedBTreeMap":
		if len(parsed) < 2 {
			return nil, arity(2)
		}

		return &VectorNode{Elem: &TupleNode{Elems: parsed[:2]}}, nil
	case "Result":
		if err := arity(2); err != nil {
			return nil, err
		}

		return &EnumNode{Name: expr, Variants: []Variant{
			{Name: "Ok", Index: 0, Node: parsed[0]},
			{Name: "Err", Index: 1, Node: parsed[1]},
		}}, nil
	case "PhantomData", "sp_std::marker::PhantomData":
		return &NullNode{Name: expr}, nil
	default:
		// unknown generic wrappers such as Balance<T> resolve by their base name
		return &ProxyNode{Key: name}, nil
	}
}

func parseArrayExpression(expr string) (Node, error) {
	inner := expr[1 : len(expr)-1]

	semi := strings.LastIndexByte(inner, ';')
	if semi < 0 {
		return nil, fmt.Errorf("%w: malformed array %q", ErrUnknownType, expr)
	}

	n, err := strconv.Atoi(strings.TrimSpace(inner[semi+1:]))
	if err != nil || n < 0 {
		return nil, fmt.Errorf("%w: malformed array length in %q", ErrUnknownType, expr)
	}

	elem, err := parseTypeExpression(inner[:semi])
	if err != nil {
		return nil, err
	}

	return &FixedArrayNode{Len: n, Elem: elem}, nil
}

// normalizeTypeName removes whitespace noise and trait qualifications:
// "T::Balance" and "<T as Trait<I>>::Balance" both become "Balance".
func normalizeTypeName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "\n", "")
	name = strings.ReplaceAll(name, "\t", "")

	for strings.HasPrefix(name, "<") {
		idx := strings.LastIndex(name, ">::")
		if idx < 0 {
			break
		}

		name = strings.TrimSpace(name[idx+3:])
	}

	if strings.HasPrefix(name, "T::") {
		name = name[3:]
	}

	// module paths on plain names, e.g. "schedule::Priority"
	if !strings.ContainsAny(name, "<>[]();, ") {
		if idx := strings.LastIndex(name, "::"); idx >= 0 {
			name = name[idx+2:]
		}
	}

	return name
}

// splitTopLevel splits a comma separated list without descending into
// nested brackets.
func splitTopLevel(s string) ([]string, error) {
	var (
		parts []string
		depth int
		start int
	)

	for i, r := range s {
		switch r {
		case '<', '(', '[':
			depth++
		case '>', ')', ']':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("%w: unbalanced brackets", ErrUnknownType)
			}
		case ',':
			if depth == 0 {
				parts = append(parts, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}

	if depth != 0 {
		return nil, fmt.Errorf("%w: unbalanced brackets", ErrUnknownType)
	}

	if last := strings.TrimSpace(s[start:]); last != "" {
		parts = append(parts, last)
	}

	return parts, nil
}
