// ABOUTME: Condition matching for permissions and policies
// ABOUTME: Anything unresolvable or malformed makes the condition fail

package authz

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Operator is a predicate name usable in {"op": ..., "value": ...} conditions.
type Operator string

const (
	OpEq         Operator = "eq"
	OpNeq        Operator = "neq"
	OpIn         Operator = "in"
	OpNotIn      Operator = "not_in"
	OpContains   Operator = "contains"
	OpStartsWith Operator = "starts_with"
	OpEndsWith   Operator = "ends_with"
	OpGT         Operator = "gt"
	OpGTE        Operator = "gte"
	OpLT         Operator = "lt"
	OpLTE        Operator = "lte"
	OpExists     Operator = "exists"
	OpRegex      Operator = "regex"
	OpIPInCIDR   Operator = "ip_in_cidr"
	OpTimeBefore Operator = "time_before"
	OpTimeAfter  Operator = "time_after"
)

// conditionsHold reports whether every condition matches ac. Empty
// conditions always hold.
func conditionsHold(conds map[string]any, ac *Context) bool {
	for key, want := range conds {
		if !conditionHolds(key, want, ac) {
			return false
		}
	}
	return true
}

func conditionHolds(key string, want any, ac *Context) bool {
	actual, found := resolve(key, ac)

	pred, ok := want.(map[string]any)
	if !ok {
		if !found {
			return false
		}
		if list, isList := want.([]any); isList {
			return inList(actual, list)
		}
		return fmt.Sprint(actual) == fmt.Sprint(want)
	}

	opName, _ := pred["op"].(string)
	op := Operator(opName)
	if op == OpExists {
		return found
	}
	if !found {
		return false
	}
	return evaluate(op, actual, pred["value"])
}

// resolve looks key up as claims.<k>, context.<k>, or a bare key in Claims
// then Data.
func resolve(key string, ac *Context) (any, bool) {
	if k, ok := strings.CutPrefix(key, "claims."); ok {
		v, found := ac.Claims[k]
		return v, found
	}
	if k, ok := strings.CutPrefix(key, "context."); ok {
		v, found := ac.Data[k]
		return v, found && v != nil
	}
	if v, found := ac.Claims[key]; found {
		return v, true
	}
	v, found := ac.Data[key]
	return v, found && v != nil
}

func evaluate(op Operator, actual, want any) bool {
	switch op {
	case OpEq:
		return fmt.Sprint(actual) == fmt.Sprint(want)
	case OpNeq:
		return fmt.Sprint(actual) != fmt.Sprint(want)
	case OpIn:
		list, ok := want.([]any)
		return ok && inList(actual, list)
	case OpNotIn:
		list, ok := want.([]any)
		return ok && !inList(actual, list)
	case OpContains:
		return strings.Contains(fmt.Sprint(actual), fmt.Sprint(want))
	case OpStartsWith:
		return strings.HasPrefix(fmt.Sprint(actual), fmt.Sprint(want))
	case OpEndsWith:
		return strings.HasSuffix(fmt.Sprint(actual), fmt.Sprint(want))
	case OpGT, OpGTE, OpLT, OpLTE:
		return compare(op, actual, want)
	case OpRegex:
		re, err := regexp.Compile(fmt.Sprint(want))
		return err == nil && re.MatchString(fmt.Sprint(actual))
	case OpIPInCIDR:
		return ipInCIDR(fmt.Sprint(actual), want)
	case OpTimeBefore, OpTimeAfter:
		at, ok := toTime(actual)
		if !ok {
			return false
		}
		wt, ok := toTime(want)
		if !ok {
			return false
		}
		if op == OpTimeBefore {
			return at.Before(wt)
		}
		return at.After(wt)
	default:
		return false
	}
}

func inList(actual any, list []any) bool {
	s := fmt.Sprint(actual)
	for _, item := range list {
		if fmt.Sprint(item) == s {
			return true
		}
	}
	return false
}

func compare(op Operator, actual, want any) bool {
	a, ok := toFloat(actual)
	if !ok {
		return false
	}
	b, ok := toFloat(want)
	if !ok {
		return false
	}
	switch op {
	case OpGT:
		return a > b
	case OpGTE:
		return a >= b
	case OpLT:
		return a < b
	default:
		return a <= b
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func ipInCIDR(ipStr string, cidrs any) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}

	var list []string
	switch v := cidrs.(type) {
	case string:
		list = []string{v}
	case []any:
		for _, item := range v {
			list = append(list, fmt.Sprint(item))
		}
	default:
		return false
	}

	for _, cidr := range list {
		_, network, err := net.ParseCIDR(cidr)
		if err == nil && network.Contains(ip) {
			return true
		}
	}
	return false
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		return parsed, err == nil
	default:
		return time.Time{}, false
	}
}
