package edmpath

import (
	"fmt"
)

// ErrorKind classifies compile and resolve failures.
type ErrorKind int

const (
	KindInvalidLogicalPath ErrorKind = iota + 1
	KindMaxPhysicalDepthExceeded
	KindPerAnchorCycleLimitExceeded
	KindTotalCycleLimitExceeded
	KindInvalidAnchorPath
	KindInvalidMapping
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidLogicalPath:
		return "InvalidLogicalPath"
	case KindMaxPhysicalDepthExceeded:
		return "MaxPhysicalDepthExceeded"
	case KindPerAnchorCycleLimitExceeded:
		return "PerAnchorCycleLimitExceeded"
	case KindTotalCycleLimitExceeded:
		return "TotalCycleLimitExceeded"
	case KindInvalidAnchorPath:
		return "InvalidAnchorPath"
	case KindInvalidMapping:
		return "InvalidMapping"
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Error is returned for every compile or resolve failure. Only the fields
// that matter for the kind are set.
type Error struct {
	Kind ErrorKind

	// EdmPath is the logical path being compiled or resolved.
	EdmPath string

	// MongoPath is the offending physical path, if any.
	MongoPath string

	// AnchorEdmPath is the anchor involved, if any.
	AnchorEdmPath string

	// Limit is the bound that was exceeded.
	Limit int

	Detail string
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindInvalidLogicalPath:
		if e.Detail != "" {
			return fmt.Sprintf("edmpath: invalid path %q: %s", e.EdmPath, e.Detail)
		}
		return fmt.Sprintf("edmpath: invalid path %q", e.EdmPath)
	case KindMaxPhysicalDepthExceeded:
		return fmt.Sprintf("edmpath: mongo path %q for %q exceeds max depth %d",
			e.MongoPath, e.EdmPath, e.Limit)
	case KindPerAnchorCycleLimitExceeded:
		return fmt.Sprintf("edmpath: circular reference %q unrolled more than %d times",
			e.EdmPath, e.Limit)
	case KindTotalCycleLimitExceeded:
		return fmt.Sprintf("edmpath: total circular unroll limit %d exceeded at %q",
			e.Limit, e.EdmPath)
	case KindInvalidAnchorPath:
		return fmt.Sprintf("edmpath: %q references unknown anchor %q",
			e.EdmPath, e.AnchorEdmPath)
	case KindInvalidMapping:
		return fmt.Sprintf("edmpath: invalid mapping at %q: %s", e.EdmPath, e.Detail)
	}
	return fmt.Sprintf("edmpath: %s at %q", e.Kind, e.EdmPath)
}

// Is matches any *Error of the same kind, so the sentinels below work with
// errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrInvalidLogicalPath          = &Error{Kind: KindInvalidLogicalPath}
	ErrMaxPhysicalDepthExceeded    = &Error{Kind: KindMaxPhysicalDepthExceeded}
	ErrPerAnchorCycleLimitExceeded = &Error{Kind: KindPerAnchorCycleLimitExceeded}
	ErrTotalCycleLimitExceeded     = &Error{Kind: KindTotalCycleLimitExceeded}
	ErrInvalidAnchorPath           = &Error{Kind: KindInvalidAnchorPath}
	ErrInvalidMapping              = &Error{Kind: KindInvalidMapping}
)

func invalidPath(edmPath, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    KindInvalidLogicalPath,
		EdmPath: edmPath,
		Detail:  fmt.Sprintf(format, args...),
	}
}
