package governance

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrForbidden            = errors.New("forbidden")
	ErrValidation           = errors.New("validation failed")
	ErrAlreadyPending       = errors.New("approval already pending")
	ErrAlreadyResolved      = errors.New("approval already resolved")
	ErrCycleDetected        = errors.New("cycle detected")
	ErrReferentialIntegrity = errors.New("referential integrity violation")
)

// ErrorKind 失败的机器可读分类
type ErrorKind string

const (
	KindNotFound             ErrorKind = "NotFound"
	KindForbidden            ErrorKind = "Forbidden"
	KindValidation           ErrorKind = "ValidationError"
	KindAlreadyPending       ErrorKind = "AlreadyPending"
	KindAlreadyResolved      ErrorKind = "AlreadyResolved"
	KindCycleDetected        ErrorKind = "CycleDetected"
	KindReferentialIntegrity ErrorKind = "ReferentialIntegrityError"
	KindInternal             ErrorKind = "Internal"
)

var errorKinds = []struct {
	err  error
	kind ErrorKind
}{
	{ErrNotFound, KindNotFound},
	{ErrForbidden, KindForbidden},
	{ErrValidation, KindValidation},
	{ErrAlreadyPending, KindAlreadyPending},
	{ErrAlreadyResolved, KindAlreadyResolved},
	{ErrCycleDetected, KindCycleDetected},
	{ErrReferentialIntegrity, KindReferentialIntegrity},
}

// KindOf 对 err 分类，未包装任何哨兵错误的归为 KindInternal
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	for _, ek := range errorKinds {
		if errors.Is(err, ek.err) {
			return ek.kind
		}
	}
	return KindInternal
}
