package repository

import (
	"errors"
	"fmt"
)

// Kind classifies a repository failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidParameter
	KindUserNotAuthorized
	KindEntityNotKnown
	KindRelationshipNotKnown
	KindTypeDefNotKnown
	KindEntityProxyOnly
	KindTypeError
	KindTypeDefConflict
	KindInvalidTypeDef
	KindPropertyError
	KindPagingError
	KindStatusNotSupported
	KindEntityNotDeleted
	KindRelationshipNotDeleted
	KindClassificationError
	KindFunctionNotSupported
	KindRepositoryError
	KindNoHome
	KindNoRepositories
)

var kindNames = map[Kind]string{
	KindUnknown:                "Unknown",
	KindInvalidParameter:       "InvalidParameter",
	KindUserNotAuthorized:      "UserNotAuthorized",
	KindEntityNotKnown:         "EntityNotKnown",
	KindRelationshipNotKnown:   "RelationshipNotKnown",
	KindTypeDefNotKnown:        "TypeDefNotKnown",
	KindEntityProxyOnly:        "EntityProxyOnly",
	KindTypeError:              "TypeError",
	KindTypeDefConflict:        "TypeDefConflict",
	KindInvalidTypeDef:         "InvalidTypeDef",
	KindPropertyError:          "PropertyError",
	KindPagingError:            "PagingError",
	KindStatusNotSupported:     "StatusNotSupported",
	KindEntityNotDeleted:       "EntityNotDeleted",
	KindRelationshipNotDeleted: "RelationshipNotDeleted",
	KindClassificationError:    "ClassificationError",
	KindFunctionNotSupported:   "FunctionNotSupported",
	KindRepositoryError:        "RepositoryError",
	KindNoHome:                 "NoHome",
	KindNoRepositories:         "NoRepositories",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind is the inverse of Kind.String. Unrecognised names map to KindUnknown.
func ParseKind(name string) Kind {
	for k, n := range kindNames {
		if n == name {
			return k
		}
	}
	return KindUnknown
}

// Error is the single failure shape returned by every collection operation.
type Error struct {
	Kind    Kind
	Method  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.Method == "" {
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s in %s: %s", e.Kind, e.Method, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the Err* sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Method == "" && t.Message == ""
}

var (
	ErrInvalidParameter       = &Error{Kind: KindInvalidParameter}
	ErrUserNotAuthorized      = &Error{Kind: KindUserNotAuthorized}
	ErrEntityNotKnown         = &Error{Kind: KindEntityNotKnown}
	ErrRelationshipNotKnown   = &Error{Kind: KindRelationshipNotKnown}
	ErrTypeDefNotKnown        = &Error{Kind: KindTypeDefNotKnown}
	ErrEntityProxyOnly        = &Error{Kind: KindEntityProxyOnly}
	ErrTypeError              = &Error{Kind: KindTypeError}
	ErrTypeDefConflict        = &Error{Kind: KindTypeDefConflict}
	ErrInvalidTypeDef         = &Error{Kind: KindInvalidTypeDef}
	ErrPropertyError          = &Error{Kind: KindPropertyError}
	ErrPagingError            = &Error{Kind: KindPagingError}
	ErrStatusNotSupported     = &Error{Kind: KindStatusNotSupported}
	ErrEntityNotDeleted       = &Error{Kind: KindEntityNotDeleted}
	ErrRelationshipNotDeleted = &Error{Kind: KindRelationshipNotDeleted}
	ErrClassificationError    = &Error{Kind: KindClassificationError}
	ErrFunctionNotSupported   = &Error{Kind: KindFunctionNotSupported}
	ErrRepositoryError        = &Error{Kind: KindRepositoryError}
	ErrNoHome                 = &Error{Kind: KindNoHome}
	ErrNoRepositories         = &Error{Kind: KindNoRepositories}
)

// Errorf builds an *Error of the given kind raised by method.
func Errorf(kind Kind, method, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Method: method, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind and method to an underlying error.
func Wrap(kind Kind, method string, err error) *Error {
	return &Error{Kind: kind, Method: method, Err: err}
}

// NotSupported is the failure for operations a collection deliberately does not implement.
func NotSupported(method, collectionID string) *Error {
	return Errorf(KindFunctionNotSupported, method, "%s is not supported by metadata collection %s", method, collectionID)
}

// KindOf returns the kind of err, KindUnknown for foreign errors and for nil.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
