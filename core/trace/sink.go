package trace

// Sink receives estimates attributed to record indices.
type Sink interface {
	Set(i int, key string, v float64)
}

// Source provides estimates by record index.
type Source interface {
	Estimate(i int, key string) (float64, bool)
}

// Scratch is a disposable estimate container indexed like the trace it was
// created for. Writing to a Scratch leaves the trace untouched.
type Scratch struct {
	n   int
	est map[string]*column
}

type column struct {
	v   []float64
	set []bool
}

var _ Sink = (*Scratch)(nil)
var _ Source = (*Scratch)(nil)

func NewScratch(n int) *Scratch {
	return &Scratch{n: n, est: make(map[string]*column)}
}

func (s *Scratch) Set(i int, key string, v float64) {
	if i < 0 || i >= s.n {
		panic("scratch index out of range")
	}
	c, ok := s.est[key]
	if !ok {
		c = &column{v: make([]float64, s.n), set: make([]bool, s.n)}
		s.est[key] = c
	}
	c.v[i] = v
	c.set[i] = true
}

func (s *Scratch) Estimate(i int, key string) (float64, bool) {
	c, ok := s.est[key]
	if !ok || i < 0 || i >= s.n || !c.set[i] {
		return 0, false
	}
	return c.v[i], true
}

func (s *Scratch) Len() int { return s.n }

// CopyTo writes every estimate held by s into dst.
func (s *Scratch) CopyTo(dst Sink) {
	for key, c := range s.est {
		for i, ok := range c.set {
			if ok {
				dst.Set(i, key, c.v[i])
			}
		}
	}
}
