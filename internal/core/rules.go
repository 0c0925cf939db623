package core

import (
	"fmt"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/tabimport/internal/schema"
)

// rule is a compiled business rule. It returns a message when the coerced
// row violates it. Rules never fire on absent operands.
type rule func(data map[string]any, now time.Time) (string, bool)

func compileRules(s *schema.Schema) []rule {
	specs := s.Rules()
	out := make([]rule, 0, len(specs))
	for _, spec := range specs {
		out = append(out, compileRule(s, spec))
	}
	return out
}

func compileRule(s *schema.Schema, spec schema.Rule) rule {
	label := labelOf(s, spec.Field)
	other := labelOf(s, spec.Other)
	msg := func(def string) string {
		if spec.Message != "" {
			return spec.Message
		}
		return def
	}

	switch spec.Kind {
	case schema.RuleMin:
		return func(data map[string]any, _ time.Time) (string, bool) {
			n, ok := data[spec.Field].(float64)
			if ok && n < spec.Value {
				return msg(fmt.Sprintf("%s must be at least %s", label, formatNumber(spec.Value))), true
			}
			return "", false
		}

	case schema.RuleMax:
		return func(data map[string]any, _ time.Time) (string, bool) {
			n, ok := data[spec.Field].(float64)
			if ok && n > spec.Value {
				return msg(fmt.Sprintf("%s must be at most %s", label, formatNumber(spec.Value))), true
			}
			return "", false
		}

	case schema.RuleLessThan:
		return func(data map[string]any, _ time.Time) (string, bool) {
			n, ok1 := data[spec.Field].(float64)
			limit, ok2 := data[spec.Other].(float64)
			if ok1 && ok2 && limit > 0 && n >= limit {
				return msg(fmt.Sprintf("%s must be less than %s", label, other)), true
			}
			return "", false
		}

	case schema.RuleBefore:
		return func(data map[string]any, _ time.Time) (string, bool) {
			d, ok1 := data[spec.Field].(string)
			limit, ok2 := data[spec.Other].(string)
			// YYYY-MM-DD compares correctly as text.
			if ok1 && ok2 && d >= limit {
				return msg(fmt.Sprintf("%s must be before %s", label, other)), true
			}
			return "", false
		}

	case schema.RuleNotFuture:
		return func(data map[string]any, now time.Time) (string, bool) {
			d, ok := data[spec.Field].(string)
			if ok && d > now.Format("2006-01-02") {
				return msg(fmt.Sprintf("%s cannot be in the future", label)), true
			}
			return "", false
		}

	case schema.RuleOneOf:
		allowed := make(map[string]bool, len(spec.Values))
		for _, v := range spec.Values {
			allowed[Normalize(v)] = true
		}
		return func(data map[string]any, _ time.Time) (string, bool) {
			v, ok := data[spec.Field]
			if ok && !allowed[Normalize(fmt.Sprint(v))] {
				return msg(fmt.Sprintf("%s must be one of: %s", label, strings.Join(spec.Values, ", "))), true
			}
			return "", false
		}

	case schema.RuleEmail:
		return func(data map[string]any, _ time.Time) (string, bool) {
			v, ok := data[spec.Field].(string)
			if ok && !isEmail(v) {
				return msg(fmt.Sprintf("%s must be a valid email address", label)), true
			}
			return "", false
		}
	}

	// schema.New rejects unknown kinds.
	return func(map[string]any, time.Time) (string, bool) { return "", false }
}

func labelOf(s *schema.Schema, key string) string {
	if f, ok := s.Field(key); ok {
		return f.Label
	}
	return key
}

func isEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s && strings.Contains(s[strings.LastIndex(s, "@"):], ".")
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
