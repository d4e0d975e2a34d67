/*
Package jsruntime owns a single embedded ECMAScript interpreter and the shared
global namespace that lives inside it.

A Runtime is created once with a bootstrap script and is long-lived. All entry
into the namespace goes through an execution Scope obtained from EnterScope:
a scope holds the call-local bindings of exactly one operation, evaluates
expressions against them, and must be released with Exit. Entry is exclusive,
so a Runtime can be shared between goroutines; callers simply queue.

	scope, err := rt.EnterScope()
	if err != nil {
		return err
	}
	defer scope.Exit()
	_ = scope.Bind("name", "index.dust")
	v, err := scope.Evaluate("dust.exists(name)")
*/
package jsruntime
