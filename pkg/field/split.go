package field

// Split evaluates body in the logical partition identified by key. State and
// neighbor values inside body are isolated per key: only devices evaluating
// the same key at the same call-site see each other. Nested splits compose.
func Split[K comparable, T any](c *Context, key K, body func(*Context) T) T {
	child := &Context{env: c.env, outbox: c.outbox, path: c.path.Split(key)}
	return body(child)
}
