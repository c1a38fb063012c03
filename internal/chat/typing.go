package chat

// Typers projects the current typing set out of the registry. It is
// recomputed on demand from session state, so it can never drift from
// the registry: a session that leaves disappears from the result on the
// next call, with no separate bookkeeping to invalidate.
func Typers(r *Registry) []string {
	out := []string{}
	for _, s := range r.List() {
		if s.Typing {
			out = append(out, s.Username)
		}
	}
	return out
}
