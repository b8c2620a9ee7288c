/*
Package dynarow – lifecycle hooks.

Hooks are synchronous subscriber functions invoked around Record operations.
An error from a pre-hook aborts the operation before the store is touched.
*/
package dynarow

import "context"

// HookFunc observes or vetoes one record operation.
type HookFunc func(ctx context.Context, rec *Record) error

// Hooks registers subscribers per lifecycle event. The zero value has no
// subscribers and costs nothing.
type Hooks struct {
	PostInit   []HookFunc
	PreSave    []HookFunc
	PostSave   []HookFunc
	PreUpdate  []HookFunc
	PostUpdate []HookFunc
	PreDelete  []HookFunc
	PostDelete []HookFunc
}

func runHooks(ctx context.Context, hooks []HookFunc, rec *Record) error {
	for _, hook := range hooks {
		if err := hook(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}
