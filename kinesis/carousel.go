package kinesis

// carousel is an ordered, deduplicated ring with a rotating cursor.
// Elements are identified by the key function; nub keeps the earliest
// occurrence of each key. Not synchronized; the consumer guards its
// carousel with its own mutex.
type carousel[T any] struct {
	key    func(T) string
	elems  []T
	cursor int
}

func newCarousel[T any](key func(T) string) *carousel[T] {
	return &carousel[T]{key: key}
}

// appendElems concatenates xs at the end of the ring. Call nub afterwards
// when xs may contain already-known elements.
func (c *carousel[T]) appendElems(xs ...T) {
	c.elems = append(c.elems, xs...)
}

// nub removes later duplicates by key, preserving earliest positions. The
// cursor stays on the element it pointed at, or moves to the kept earlier
// occurrence of the same key when that element was a removed duplicate.
func (c *carousel[T]) nub() {
	if len(c.elems) == 0 {
		return
	}

	currentKey := c.key(c.elems[c.cursor])

	seen := make(map[string]struct{}, len(c.elems))
	kept := c.elems[:0]
	next := -1
	for i, e := range c.elems {
		k := c.key(e)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		if k == currentKey && i <= c.cursor {
			next = len(kept)
		}
		kept = append(kept, e)
	}
	c.elems = kept

	if next >= 0 {
		c.cursor = next
	} else if c.cursor >= len(c.elems) {
		c.cursor = 0
	}
}

// current returns the element under the cursor, or false on an empty ring.
func (c *carousel[T]) current() (T, bool) {
	if len(c.elems) == 0 {
		var zero T
		return zero, false
	}
	return c.elems[c.cursor], true
}

// moveRight advances the cursor one step, wrapping around.
func (c *carousel[T]) moveRight() {
	if len(c.elems) == 0 {
		return
	}
	c.cursor = (c.cursor + 1) % len(c.elems)
}

// list returns the current ordering.
func (c *carousel[T]) list() []T {
	out := make([]T, len(c.elems))
	copy(out, c.elems)
	return out
}

func (c *carousel[T]) len() int {
	return len(c.elems)
}
