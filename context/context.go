package context

import (
	stdctx "context"
)

// RawEventHook receives every provider event as it comes off the wire, before
// it is reduced. eventType is the provider's event name and raw its JSON body.
type RawEventHook func(eventType, raw string)

// rawEventHookKey is the type used as a context key for storing raw event hooks.
// This is in a separate package to avoid circular dependencies.
type rawEventHookKey struct{}

// WithRawEventHook adds a raw event hook to the context.
func WithRawEventHook(ctx stdctx.Context, hook RawEventHook) stdctx.Context {
	return stdctx.WithValue(ctx, rawEventHookKey{}, hook)
}

// GetRawEventHook retrieves a raw event hook from the context.
// Returns the hook and a bool indicating if it was set.
func GetRawEventHook(ctx stdctx.Context) (RawEventHook, bool) {
	hook, ok := ctx.Value(rawEventHookKey{}).(RawEventHook)
	return hook, ok && hook != nil
}
