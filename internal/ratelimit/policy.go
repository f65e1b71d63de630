package ratelimit

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// Policy is the quota applied to one (category, subject class) pair.
type Policy struct {
	Category Category
	Class    SubjectClass
	Limit    int
	Window   time.Duration
}

// Describe renders the policy the way rejection messages show it,
// e.g. "60 per 1 minute".
func (p Policy) Describe() string {
	return fmt.Sprintf("%d per %s", p.Limit, describeWindow(p.Window))
}

func describeWindow(d time.Duration) string {
	units := []struct {
		size time.Duration
		name string
	}{
		{time.Hour, "hour"},
		{time.Minute, "minute"},
		{time.Second, "second"},
	}
	for _, u := range units {
		if d >= u.size && d%u.size == 0 {
			n := int64(d / u.size)
			if n == 1 {
				return "1 " + u.name
			}
			return fmt.Sprintf("%d %ss", n, u.name)
		}
	}
	return d.String()
}

// ConfigurationError reports an incomplete or invalid policy table. It is
// always fatal at startup.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	return "rate limit configuration: " + e.Err.Error()
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

type policyKey struct {
	category Category
	class    SubjectClass
}

// PolicyTable maps (category, subject class) to a policy. It is immutable
// after NewPolicyTable returns and safe for concurrent reads.
type PolicyTable struct {
	policies map[policyKey]Policy
	exempt   map[Category]bool
}

// NewPolicyTable validates the policy set and builds the table. Every
// non-exempt category must have exactly one policy per subject class with a
// positive limit and window. All problems are reported together.
func NewPolicyTable(policies []Policy, exempt []Category) (*PolicyTable, error) {
	t := &PolicyTable{
		policies: make(map[policyKey]Policy, len(policies)),
		exempt:   map[Category]bool{CategoryExempt: true},
	}

	var errs error
	for _, c := range exempt {
		if !c.Valid() {
			errs = multierr.Append(errs, fmt.Errorf("unknown exempt category %q", c))
			continue
		}
		t.exempt[c] = true
	}

	for _, p := range policies {
		if !p.Category.Valid() {
			errs = multierr.Append(errs, fmt.Errorf("unknown category %q", p.Category))
			continue
		}
		if !p.Class.Valid() {
			errs = multierr.Append(errs, fmt.Errorf("unknown subject class %q for %s", p.Class, p.Category))
			continue
		}
		if p.Limit <= 0 {
			errs = multierr.Append(errs, fmt.Errorf("%s/%s: limit must be positive, got %d", p.Category, p.Class, p.Limit))
		}
		if p.Window <= 0 {
			errs = multierr.Append(errs, fmt.Errorf("%s/%s: window must be positive, got %s", p.Category, p.Class, p.Window))
		}

		k := policyKey{p.Category, p.Class}
		if _, dup := t.policies[k]; dup {
			errs = multierr.Append(errs, fmt.Errorf("%s/%s: duplicate policy", p.Category, p.Class))
			continue
		}
		t.policies[k] = p
	}

	for _, c := range Categories {
		if t.exempt[c] {
			continue
		}
		for _, class := range SubjectClasses {
			if _, ok := t.policies[policyKey{c, class}]; !ok {
				errs = multierr.Append(errs, fmt.Errorf("%s/%s: missing policy", c, class))
			}
		}
	}

	if errs != nil {
		return nil, &ConfigurationError{Err: errs}
	}
	return t, nil
}

// Lookup returns the policy for the pair. The second result is false only for
// exempt categories, since the table is complete for everything else.
func (t *PolicyTable) Lookup(category Category, class SubjectClass) (Policy, bool) {
	p, ok := t.policies[policyKey{category, class}]
	return p, ok
}

func (t *PolicyTable) IsExempt(category Category) bool {
	return t.exempt[category]
}

// Exempt returns the exempt categories, sorted.
func (t *PolicyTable) Exempt() []Category {
	out := make([]Category, 0, len(t.exempt))
	for c := range t.exempt {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Policies returns a copy of every policy ordered by category then class,
// for auditing.
func (t *PolicyTable) Policies() []Policy {
	out := make([]Policy, 0, len(t.policies))
	for _, p := range t.policies {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return strings.Compare(string(out[i].Class), string(out[j].Class)) < 0
	})
	return out
}

// DefaultPolicies is the built-in policy set. Every window is one minute.
func DefaultPolicies() []Policy {
	limits := map[Category][3]int{
		// anonymous, authenticated, elevated
		CategoryPublic: {100, 300, 600},
		CategoryAuth:   {10, 10, 20},
		CategoryRead:   {60, 120, 600},
		CategoryWrite:  {20, 60, 300},
		CategoryAdmin:  {5, 10, 100},
	}

	var policies []Policy
	for _, c := range Categories {
		l, ok := limits[c]
		if !ok {
			continue
		}
		for i, class := range SubjectClasses {
			policies = append(policies, Policy{
				Category: c,
				Class:    class,
				Limit:    l[i],
				Window:   time.Minute,
			})
		}
	}
	return policies
}

// MergePolicies returns base with every pair present in overrides replaced.
// Overrides for pairs absent from base are appended.
func MergePolicies(base, overrides []Policy) []Policy {
	out := make([]Policy, len(base))
	copy(out, base)

	index := make(map[policyKey]int, len(out))
	for i, p := range out {
		index[policyKey{p.Category, p.Class}] = i
	}
	for _, o := range overrides {
		k := policyKey{o.Category, o.Class}
		if i, ok := index[k]; ok {
			out[i] = o
			continue
		}
		index[k] = len(out)
		out = append(out, o)
	}
	return out
}
