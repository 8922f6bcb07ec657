package openwire

import (
	"strconv"
	"strings"
)

// Exception class names the broker and client exchange.
const (
	IOExceptionClass                    = "java.io.IOException"
	TransactionRolledBackExceptionClass = "javax.jms.TransactionRolledBackException"
	SecurityExceptionClass              = "java.lang.SecurityException"
	InvalidClientIDExceptionClass       = "javax.jms.InvalidClientIDException"
)

// StackTraceElement is one frame of a broker-side stack trace.
type StackTraceElement struct {
	ClassName  string
	MethodName string
	FileName   string
	LineNumber int32
}

// BrokerError mirrors an exception raised on the broker.
type BrokerError struct {
	ExceptionClass string
	Message        string
	StackTrace     []StackTraceElement
	Cause          *BrokerError
}

// NewBrokerError creates a BrokerError without a stack trace.
func NewBrokerError(class, message string) *BrokerError {
	return &BrokerError{ExceptionClass: class, Message: message}
}

func (e *BrokerError) Error() string {
	if e.ExceptionClass == "" {
		return e.Message
	}
	return e.ExceptionClass + ": " + e.Message
}

// Unwrap returns the cause, if any.
func (e *BrokerError) Unwrap() error {
	if e.Cause == nil {
		return nil
	}
	return e.Cause
}

// StackTraceString renders the stack trace in the broker's layout.
func (e *BrokerError) StackTraceString() string {
	var sb strings.Builder
	for err := e; err != nil; err = err.Cause {
		if err != e {
			sb.WriteString("Caused by: ")
		}
		sb.WriteString(err.Error())
		sb.WriteByte('\n')
		for _, el := range err.StackTrace {
			sb.WriteString("\tat ")
			sb.WriteString(el.ClassName)
			sb.WriteByte('.')
			sb.WriteString(el.MethodName)
			sb.WriteByte('(')
			sb.WriteString(el.FileName)
			sb.WriteByte(':')
			sb.WriteString(strconv.Itoa(int(el.LineNumber)))
			sb.WriteString(")\n")
		}
	}
	return sb.String()
}
