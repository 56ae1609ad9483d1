package api

// noop is returned by scope helpers when the goroutine has no record.
func noop() {}

// ScopedTaggingDisabler disables tagging for the calling thread until the
// returned function runs:
//
//	defer api.ScopedTaggingDisabler()()
func ScopedTaggingDisabler() (release func()) {
	r := GetCurrentThread()
	if r == nil {
		return noop
	}
	r.DisableTagging()
	return r.EnableTagging
}

// EnterInterceptor marks the calling thread as inside an interceptor until
// the returned function runs.
func EnterInterceptor() (release func()) {
	r := GetCurrentThread()
	if r == nil {
		return noop
	}
	r.EnterInterceptorScope()
	return r.LeaveInterceptorScope
}

// EnterSignalHandler marks the calling thread as inside a signal handler
// until the returned function runs.
func EnterSignalHandler() (release func()) {
	r := GetCurrentThread()
	if r == nil {
		return noop
	}
	r.EnterSignalHandler()
	return r.LeaveSignalHandler
}

// EnterSymbolizer marks the calling thread as inside the symbolizer until
// the returned function runs.
func EnterSymbolizer() (release func()) {
	r := GetCurrentThread()
	if r == nil {
		return noop
	}
	r.EnterSymbolizer()
	return r.LeaveSymbolizer
}
