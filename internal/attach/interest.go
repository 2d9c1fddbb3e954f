package attach

// InterestCounter counts the consumers that currently want a resource held.
type InterestCounter struct {
	cell *Cell[int]
}

// NewInterestCounter creates a counter at zero.
func NewInterestCounter() *InterestCounter {
	return &InterestCounter{cell: NewCell(0)}
}

// Get returns the current count.
func (c *InterestCounter) Get() int {
	return c.cell.Get()
}

// Increment adds one consumer.
func (c *InterestCounter) Increment() {
	c.cell.Set(c.cell.Get() + 1)
}

// Decrement removes one consumer. A decrement at zero is a caller bug; the
// count stays at zero and ErrInterestUnderflow is returned.
func (c *InterestCounter) Decrement() error {
	n := c.cell.Get()
	if n <= 0 {
		return ErrInterestUnderflow
	}
	c.cell.Set(n - 1)
	return nil
}

// Subscribe registers fn for count changes.
func (c *InterestCounter) Subscribe(fn func(int)) func() {
	return c.cell.Subscribe(fn)
}
