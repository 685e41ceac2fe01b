// Package errcode defines the error kinds shared by the platform back-ends,
// the target layer and the protocol session.
//
// A Code is what travels up the call chain from the OS to the wire: the
// platform translates its native failure into a Code, the target layer
// returns it unchanged, and the session renders it as an Exx reply.
package errcode

import (
	"errors"
	"fmt"
)

// Code 错误类型
type Code int

const (
	Success Code = iota
	Unknown
	Busy
	InvalidArgument
	InvalidHandle
	InvalidAddress
	NoPermission
	NoMemory
	AlreadyExist
	NotFound
	ProcessNotFound
	Unsupported
)

var names = map[Code]string{
	Success:         "success",
	Unknown:         "unknown error",
	Busy:            "busy",
	InvalidArgument: "invalid argument",
	InvalidHandle:   "invalid handle",
	InvalidAddress:  "invalid address",
	NoPermission:    "permission denied",
	NoMemory:        "out of memory",
	AlreadyExist:    "already exists",
	NotFound:        "not found",
	ProcessNotFound: "process not found",
	Unsupported:     "unsupported",
}

func (c Code) Error() string {
	if s, ok := names[c]; ok {
		return s
	}
	return fmt.Sprintf("error code %d", int(c))
}

// Errno returns the number carried by an Exx reply for this code. The
// values follow Linux errno so a client can print something meaningful.
func (c Code) Errno() int {
	switch c {
	case NoPermission:
		return 1 // EPERM
	case NotFound:
		return 2 // ENOENT
	case ProcessNotFound:
		return 3 // ESRCH
	case InvalidHandle:
		return 9 // EBADF
	case NoMemory:
		return 12 // ENOMEM
	case InvalidAddress:
		return 14 // EFAULT
	case Busy:
		return 16 // EBUSY
	case AlreadyExist:
		return 17 // EEXIST
	case InvalidArgument:
		return 22 // EINVAL
	case Unsupported:
		return 95 // EOPNOTSUPP
	default:
		return 255
	}
}

// Of extracts the Code from err. Errors that carry no Code map to Unknown,
// nil maps to Success.
func Of(err error) Code {
	if err == nil {
		return Success
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	return Unknown
}
