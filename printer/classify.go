package printer

import "github.com/john/monox_bridge/uartwifi"

// Select returns the first response in reply whose dynamic type is T.
// Replies can carry responses meant for other listeners on the same port, so
// order is preserved and the first match wins even when a later one is more
// complete. This assumes the caller's own response arrives first or alone.
func Select[T uartwifi.Response](reply uartwifi.Reply) (T, bool) {
	for _, resp := range reply {
		if match, ok := resp.(T); ok {
			return match, true
		}
	}
	var zero T
	return zero, false
}
