package ratelimit

import (
	"fmt"
	"strings"
)

// Category is the sensitivity class of an endpoint. It is bound to a route
// when the route is registered.
type Category string

const (
	CategoryPublic Category = "public"
	CategoryAuth   Category = "auth" // credential issuance
	CategoryRead   Category = "read"
	CategoryWrite  Category = "write"
	CategoryAdmin  Category = "admin"
	CategoryExempt Category = "exempt"
)

// Categories lists every known category in a stable order.
var Categories = []Category{
	CategoryPublic,
	CategoryAuth,
	CategoryRead,
	CategoryWrite,
	CategoryAdmin,
	CategoryExempt,
}

func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}

// SubjectClass is the trust tier of a subject.
type SubjectClass string

const (
	ClassAnonymous     SubjectClass = "anonymous"
	ClassAuthenticated SubjectClass = "authenticated"
	ClassElevated      SubjectClass = "elevated"
)

var SubjectClasses = []SubjectClass{
	ClassAnonymous,
	ClassAuthenticated,
	ClassElevated,
}

func (s SubjectClass) Valid() bool {
	switch s {
	case ClassAnonymous, ClassAuthenticated, ClassElevated:
		return true
	default:
		return false
	}
}

func ParseSubjectClass(s string) (SubjectClass, error) {
	class := SubjectClass(strings.ToLower(strings.TrimSpace(s)))
	if !class.Valid() {
		return "", fmt.Errorf("unknown subject class %q", s)
	}
	return class, nil
}

// Subject is the metered entity derived from a request. Two requests share a
// counter only if their keys are equal.
type Subject struct {
	Key   string
	Class SubjectClass
}

// Anonymous reports whether the subject is keyed by network origin.
func (s Subject) Anonymous() bool {
	return s.Class == ClassAnonymous
}

// Key identifies a counter independent of the window bucket.
type Key struct {
	Category Category
	Subject  Subject
}
