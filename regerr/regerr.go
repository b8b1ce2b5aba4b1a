// Package regerr defines the flat error-code enumeration that every
// Registry operation returns, plus the error value that carries it.
//
// The Registry never lets exceptions climb the stack: every operation
// returns exactly one Code, and Contract and Internal kinds are fatal
// by default (see rcusafe's Runtime.SetTestMode to downgrade them in
// tests).
package regerr

import "fmt"

// Kind groups codes into the four taxonomies from the design: contract
// violations, domain failures, resource failures, and internal
// consistency failures.
type Kind int

const (
	KindNone Kind = iota
	KindContract
	KindDomain
	KindResource
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindContract:
		return "contract"
	case KindDomain:
		return "domain"
	case KindResource:
		return "resource"
	case KindInternal:
		return "internal"
	default:
		return "none"
	}
}

// Code is a single member of the flat error-code enumeration.
type Code int

const (
	// OK indicates success. Never wrapped in a CodeError.
	OK Code = iota

	// Domain failures.
	NodeNotFound
	NodeExists
	NodeIsRemoved
	KeyInvalid
	TypeMismatch
	SizeMismatch
	PathMalformed
	NotAMap
	NotEmpty

	// Resource failures.
	AllocFailed

	// Contract violations.
	NotRegistered
	NoReadSection
	ReadSectionOpen
	NestedFromCallback

	// Internal consistency failures.
	CASFailed
	IterInvalidated
	TypeUnresolved
)

var kinds = map[Code]Kind{
	OK:                 KindNone,
	NodeNotFound:       KindDomain,
	NodeExists:         KindDomain,
	NodeIsRemoved:      KindDomain,
	KeyInvalid:         KindDomain,
	TypeMismatch:       KindDomain,
	SizeMismatch:       KindDomain,
	PathMalformed:      KindDomain,
	NotAMap:            KindDomain,
	NotEmpty:           KindDomain,
	AllocFailed:        KindResource,
	NotRegistered:      KindContract,
	NoReadSection:      KindContract,
	ReadSectionOpen:    KindContract,
	NestedFromCallback: KindContract,
	CASFailed:          KindInternal,
	IterInvalidated:    KindInternal,
	TypeUnresolved:     KindInternal,
}

var names = map[Code]string{
	OK:                 "OK",
	NodeNotFound:       "NODE_NOT_FOUND",
	NodeExists:         "NODE_EXISTS",
	NodeIsRemoved:      "NODE_IS_REMOVED",
	KeyInvalid:         "KEY_INVALID",
	TypeMismatch:       "TYPE_MISMATCH",
	SizeMismatch:       "SIZE_MISMATCH",
	PathMalformed:      "PATH_MALFORMED",
	NotAMap:            "NOT_A_MAP",
	NotEmpty:           "NOT_EMPTY",
	AllocFailed:        "ALLOC_FAILED",
	NotRegistered:      "NOT_REGISTERED",
	NoReadSection:      "NO_READ_SECTION",
	ReadSectionOpen:    "READ_SECTION_OPEN",
	NestedFromCallback: "NESTED_FROM_CALLBACK",
	CASFailed:          "CAS_FAILED",
	IterInvalidated:    "ITER_INVALIDATED",
	TypeUnresolved:     "TYPE_UNRESOLVED",
}

// Kind reports which taxonomy a code belongs to.
func (c Code) Kind() Kind {
	if k, ok := kinds[c]; ok {
		return k
	}
	return KindInternal
}

// String renders the code the way the C original's tklog lines name
// error codes: SCREAMING_SNAKE_CASE.
func (c Code) String() string {
	if s, ok := names[c]; ok {
		return s
	}
	return fmt.Sprintf("CODE(%d)", int(c))
}

// Fatal reports whether a code is, by default, a fatal contract or
// internal-consistency violation rather than an expected domain outcome.
func (c Code) Fatal() bool {
	switch c.Kind() {
	case KindContract, KindInternal:
		return true
	default:
		return false
	}
}

// CodeError is the error value returned alongside Code when the caller
// wants an `error` to propagate through ordinary Go error handling
// (logging, wrapping with fmt.Errorf("%w", ...), errors.Is).
type CodeError struct {
	Code    Code
	Context string
}

func (e *CodeError) Error() string {
	if e.Context == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Context)
}

// Is makes errors.Is(err, regerr.NodeNotFound.Err()) work by comparing
// codes rather than pointer identity.
func (e *CodeError) Is(target error) bool {
	t, ok := target.(*CodeError)
	return ok && t.Code == e.Code
}

// Err wraps c in a CodeError with no extra context. Returns nil for OK.
func (c Code) Err() error {
	if c == OK {
		return nil
	}
	return &CodeError{Code: c}
}

// Errf wraps c in a CodeError carrying a formatted context string.
func (c Code) Errf(format string, args ...any) error {
	if c == OK {
		return nil
	}
	return &CodeError{Code: c, Context: fmt.Sprintf(format, args...)}
}
