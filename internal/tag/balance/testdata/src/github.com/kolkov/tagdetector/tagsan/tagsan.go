// Package tagsan is a stub of the public runtime API for analyzer tests.
package tagsan

type Thread struct{ depth int }

func (t *Thread) EnterSignalHandler()    { t.depth++ }
func (t *Thread) LeaveSignalHandler()    { t.depth-- }
func (t *Thread) EnterSymbolizer()       { t.depth++ }
func (t *Thread) LeaveSymbolizer()       { t.depth-- }
func (t *Thread) EnterInterceptorScope() { t.depth++ }
func (t *Thread) LeaveInterceptorScope() { t.depth-- }
func (t *Thread) DisableTagging()        { t.depth++ }
func (t *Thread) EnableTagging()         { t.depth-- }

func Current() *Thread { return &Thread{} }

func ScopedTaggingDisabler() func() { return func() {} }
func EnterInterceptor() func()      { return func() {} }
func EnterSignalHandler() func()    { return func() {} }
func EnterSymbolizer() func()       { return func() {} }
