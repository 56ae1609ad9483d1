// Package scopes contains fixtures for the scope balance analyzer.
package scopes

import "github.com/kolkov/tagdetector/tagsan"

// ===== SHOULD REPORT =====

func badNoRelease(t *tagsan.Thread) {
	t.EnterSymbolizer() // want `t.EnterSymbolizer is not released by a deferred LeaveSymbolizer`
}

func badPlainRelease(t *tagsan.Thread) {
	t.DisableTagging() // want `t.DisableTagging is not released by a deferred EnableTagging`
	work()
	t.EnableTagging()
}

func badWrongPair(t *tagsan.Thread) {
	t.EnterSignalHandler() // want `t.EnterSignalHandler is not released by a deferred LeaveSignalHandler`
	defer t.LeaveInterceptorScope()
}

func badWrongReceiver(a, b *tagsan.Thread) {
	a.EnterInterceptorScope() // want `a.EnterInterceptorScope is not released by a deferred LeaveInterceptorScope`
	defer b.LeaveInterceptorScope()
}

func badDiscardedRelease() {
	tagsan.ScopedTaggingDisabler() // want `release function returned by ScopedTaggingDisabler is discarded`
	work()
}

func badDeferredAcquire() {
	defer tagsan.EnterInterceptor() // want `defer EnterInterceptor\(\) acquires the scope at function exit; use defer EnterInterceptor\(\)\(\)`
	work()
}

func badReleaseOnlyInClosure(t *tagsan.Thread) {
	t.EnterSymbolizer() // want `t.EnterSymbolizer is not released by a deferred LeaveSymbolizer`
	cleanup := func() { t.LeaveSymbolizer() }
	cleanup()
}

func badInsideGoroutine(t *tagsan.Thread) {
	defer t.LeaveSymbolizer()
	go func() {
		t.EnterSymbolizer() // want `t.EnterSymbolizer is not released by a deferred LeaveSymbolizer`
	}()
}

// ===== SHOULD NOT REPORT =====

func goodDeferred(t *tagsan.Thread) {
	t.EnterSymbolizer()
	defer t.LeaveSymbolizer()
	work()
}

func goodDeferredClosure(t *tagsan.Thread) {
	t.EnterSignalHandler()
	t.DisableTagging()
	defer func() {
		t.EnableTagging()
		t.LeaveSignalHandler()
	}()
	work()
}

func goodCurrent() {
	tagsan.Current().EnterInterceptorScope()
	defer tagsan.Current().LeaveInterceptorScope()
}

func goodHelper() {
	defer tagsan.ScopedTaggingDisabler()()
	release := tagsan.EnterSymbolizer()
	defer release()
	work()
}

func goodHelperKept() func() {
	return tagsan.EnterSignalHandler()
}

func goodReturnsRelease(t *tagsan.Thread) func() {
	t.DisableTagging()
	return t.EnableTagging
}

func goodLeaveOnly(t *tagsan.Thread) {
	t.LeaveSymbolizer()
}

func work() {}
