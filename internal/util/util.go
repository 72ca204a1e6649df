package util

// Assert panics with msg if condition is false. Used to guard programmer errors in builder configuration,
// matching the teacher's use of Assert for invalid Builder arguments.
func Assert(condition bool, msg string) {
	if !condition {
		panic(msg)
	}
}

// AppliesToAny returns whether any of the predicates match the given result and error.
func AppliesToAny[R any](predicates []func(R, error) bool, result R, err error) bool {
	for _, predicate := range predicates {
		if predicate(result, err) {
			return true
		}
	}
	return false
}
