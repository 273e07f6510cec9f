package tele

type Noop struct{}

var _ Teler = Noop{} // compile-time interface test

func (Noop) Report(*Report) {}
func (Noop) Error(error)    {}
