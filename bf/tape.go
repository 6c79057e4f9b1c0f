package bf

import "math/big"

var one = big.NewInt(1)

// Tape is the cell array and the data pointer into it. The pointer is only
// validated when a cell is accessed.
type Tape struct {
	cells  []big.Int
	ptr    int
	limit  int
	bounds *Bounds
}

func NewTape(size, limit int, bounds *Bounds) *Tape {
	return &Tape{
		cells:  make([]big.Int, size),
		limit:  limit,
		bounds: bounds,
	}
}

func (t *Tape) Len() int {
	return len(t.cells)
}

func (t *Tape) Pointer() int {
	return t.ptr
}

// Right advances the pointer, doubling the tape (capped at the limit) when
// the pointer runs off its end.
func (t *Tape) Right() error {
	t.ptr++
	if t.ptr >= t.limit {
		return ErrAddressSpaceExhausted
	}
	if n := len(t.cells); t.ptr >= n && n < t.limit {
		grow := min(t.limit-n, n)
		t.cells = append(t.cells, make([]big.Int, grow)...)
	}
	return nil
}

func (t *Tape) Left() {
	t.ptr--
}

func (t *Tape) check() error {
	if t.ptr < 0 {
		return ErrOutOfBounds
	}
	if t.ptr >= len(t.cells) {
		return ErrStackOverflow
	}
	return nil
}

// Cell returns the addressed cell. The result aliases the tape.
func (t *Tape) Cell() (*big.Int, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	return &t.cells[t.ptr], nil
}

func (t *Tape) Increment() error {
	c, err := t.Cell()
	if err != nil {
		return err
	}
	c.Add(c, one)
	if t.bounds != nil && c.Cmp(t.bounds.Max) > 0 {
		c.Set(t.bounds.Min)
	}
	return nil
}

func (t *Tape) Decrement() error {
	c, err := t.Cell()
	if err != nil {
		return err
	}
	c.Sub(c, one)
	if t.bounds != nil && c.Cmp(t.bounds.Min) < 0 {
		c.Set(t.bounds.Max)
	}
	return nil
}

// Zero reports whether the addressed cell is zero.
func (t *Tape) Zero() (bool, error) {
	c, err := t.Cell()
	if err != nil {
		return false, err
	}
	return c.Sign() == 0, nil
}

// Store writes v to the addressed cell as is. Input is not wrapped into
// the cell bounds.
func (t *Tape) Store(v int64) error {
	c, err := t.Cell()
	if err != nil {
		return err
	}
	c.SetInt64(v)
	return nil
}

// At returns a copy of cell i.
func (t *Tape) At(i int) *big.Int {
	return new(big.Int).Set(&t.cells[i])
}
