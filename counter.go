package bbr

import "golang.org/x/exp/constraints"

// saturatingCounter counts up to the type's maximum and stays there.
type saturatingCounter[T constraints.Unsigned] struct {
	value T
}

func (c *saturatingCounter[T]) Increment() {
	next := c.value + 1
	if next > c.value {
		c.value = next
	}
}

func (c *saturatingCounter[T]) Add(n T) {
	next := c.value + n
	if next < c.value {
		next = ^T(0)
	}
	c.value = next
}

func (c *saturatingCounter[T]) Set(v T) {
	c.value = v
}

func (c *saturatingCounter[T]) Reset() {
	c.value = 0
}

func (c *saturatingCounter[T]) Value() T {
	return c.value
}
