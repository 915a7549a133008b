package check

import (
	"fmt"
	"regexp"

	"github.com/pkg/errors"
)

func check(condition bool, msgAndArgs []interface{}, internalMsg string,
	internalArgs ...interface{},
) error {
	if condition {
		return nil
	}
	message := messageFromMsgAndArgs(msgAndArgs...)
	if message == "" {
		message = fmt.Sprintf(internalMsg, internalArgs...)
	}
	return errors.New(message)
}

func messageFromMsgAndArgs(msgAndArgs ...interface{}) string {
	switch {
	case len(msgAndArgs) == 1:
		return fmt.Sprintf("%v", msgAndArgs[0])
	case len(msgAndArgs) > 1:
		return fmt.Sprintf(msgAndArgs[0].(string), msgAndArgs[1:]...)
	default:
		return ""
	}
}

// True checks whether the condition is true. This method returns an error with
// the provided message if the check fails.
func True(condition bool, msgAndArgs ...interface{}) error {
	return check(condition, msgAndArgs, "expected condition to be true")
}

// NotEmpty checks whether the string is non-empty. This method returns an error
// with the provided message if the check fails.
func NotEmpty(actual string, msgAndArgs ...interface{}) error {
	return check(len(actual) > 0, msgAndArgs, "%s must be non-empty", actual)
}

// In checks whether the actual value is in the expected list. This method
// returns an error with the provided message if the check fails.
func In(actual string, expected []string, msgAndArgs ...interface{}) error {
	for _, e := range expected {
		if actual == e {
			return nil
		}
	}
	return check(false, msgAndArgs, "%s not in %v", actual, expected)
}

// GreaterThan checks whether the actual value is greater than the expected
// value. This method returns an error with the provided message if the check
// fails.
func GreaterThan(actual, expected int, msgAndArgs ...interface{}) error {
	return check(actual > expected, msgAndArgs, "%d is not greater than %d", actual, expected)
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Identifier checks whether the string is a valid variable identifier. This
// method returns an error with the provided message if the check fails.
func Identifier(actual string, msgAndArgs ...interface{}) error {
	return check(identifierPattern.MatchString(actual), msgAndArgs,
		"%q is not a valid identifier", actual)
}
