package bus

// Topic is a typed topic name. Payloads published on a topic must be of type T.
type Topic[T any] struct {
	name   string
	policy Policy
}

// NewTopic creates a topic whose subscribers default to policy.
func NewTopic[T any](name string, policy Policy) Topic[T] {
	return Topic[T]{name: name, policy: policy}
}

// Name returns the topic name.
func (t Topic[T]) Name() string {
	return t.name
}

// DefaultPolicy returns the queue policy subscribers get unless they override it.
func (t Topic[T]) DefaultPolicy() Policy {
	return t.policy
}
