package correlation

// Predicate reports whether an inbound message satisfies a waiting slot.
// Predicates are evaluated while the table lock is held and must not block.
type Predicate[M any] func(M) bool

// And matches when every predicate matches. An empty And matches everything.
func And[M any](preds ...Predicate[M]) Predicate[M] {
	return func(m M) bool {
		for _, p := range preds {
			if !p(m) {
				return false
			}
		}
		return true
	}
}

// Or matches when at least one predicate matches.
func Or[M any](preds ...Predicate[M]) Predicate[M] {
	return func(m M) bool {
		for _, p := range preds {
			if p(m) {
				return true
			}
		}
		return false
	}
}

// Not inverts p.
func Not[M any](p Predicate[M]) Predicate[M] {
	return func(m M) bool { return !p(m) }
}

// Any matches every message.
func Any[M any]() Predicate[M] {
	return func(M) bool { return true }
}
