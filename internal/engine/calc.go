package engine

import "frizo/margin_ledger/internal/fixedpoint"

// calc chains fixed-point arithmetic and keeps the first error; later steps become no-ops.
type calc struct {
	prec fixedpoint.Precision
	err  error
}

func (c *calc) keep(v fixedpoint.Value, err error) fixedpoint.Value {
	if c.err != nil {
		return fixedpoint.Zero()
	}
	if err != nil {
		c.err = err
		return fixedpoint.Zero()
	}
	return v
}

func (c *calc) add(a, b fixedpoint.Value) fixedpoint.Value {
	if c.err != nil {
		return fixedpoint.Zero()
	}
	return c.keep(a.Add(b))
}

func (c *calc) sub(a, b fixedpoint.Value) fixedpoint.Value {
	if c.err != nil {
		return fixedpoint.Zero()
	}
	return c.keep(a.Sub(b))
}

func (c *calc) mul(a, b fixedpoint.Value) fixedpoint.Value {
	if c.err != nil {
		return fixedpoint.Zero()
	}
	return c.keep(c.prec.Mul(a, b))
}

func (c *calc) div(a, b fixedpoint.Value) fixedpoint.Value {
	if c.err != nil {
		return fixedpoint.Zero()
	}
	return c.keep(c.prec.Div(a, b))
}
