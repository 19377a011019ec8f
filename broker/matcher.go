package broker

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"go.mongodb.org/mongo-driver/bson"
)

// matcher filters subscription deliveries. The expression is a gjson query
// condition such as `amount>10` or `customer.tier=="gold"`, evaluated against
// the relaxed Extended JSON form of the event.
type matcher struct {
	path string
}

var matcherOps = []string{"==", "!=", "<=", ">=", "!%", "=", "<", ">", "%"}

func compileMatcher(expr string) (*matcher, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}
	if err := checkCondition(expr); err != nil {
		return nil, fmt.Errorf("%w: matcher %q: %v", ErrInvalidRequest, expr, err)
	}
	return &matcher{path: "#(" + expr + ")"}, nil
}

// checkCondition rejects conditions gjson would parse into a query that
// never matches. A condition is a path, optionally followed by an operator
// and a JSON literal.
func checkCondition(expr string) error {
	depth, quoted := 0, false
	for i := 0; i < len(expr); i++ {
		c := expr[i]
		switch {
		case quoted:
			if c == '\\' {
				i++
			} else if c == '"' {
				quoted = false
			}
		case c == '"':
			quoted = true
		case c == '(':
			depth++
		case c == ')':
			if depth--; depth < 0 {
				return errors.New("unbalanced parentheses")
			}
		case depth == 0 && strings.IndexByte("=!<>%", c) >= 0:
			path, rest := strings.TrimSpace(expr[:i]), expr[i:]
			if path == "" {
				return errors.New("missing path")
			}
			for _, op := range matcherOps {
				if strings.HasPrefix(rest, op) {
					if value := strings.TrimSpace(rest[len(op):]); !gjson.Valid(value) {
						return fmt.Errorf("operand %q is not a JSON value", value)
					}
					return nil
				}
			}
			return fmt.Errorf("unknown operator at %q", rest)
		}
	}
	if quoted || depth != 0 {
		return errors.New("unbalanced parentheses or quotes")
	}
	return nil
}

// Match reports whether event satisfies the condition. A nil matcher matches
// everything.
func (m *matcher) Match(event []byte) (bool, error) {
	if m == nil {
		return true, nil
	}
	doc, err := bson.MarshalExtJSON(bson.Raw(event), false, false)
	if err != nil {
		return false, fmt.Errorf("event to json: %w", err)
	}
	wrapped := make([]byte, 0, len(doc)+2)
	wrapped = append(wrapped, '[')
	wrapped = append(wrapped, doc...)
	wrapped = append(wrapped, ']')
	return gjson.GetBytes(wrapped, m.path).Exists(), nil
}
