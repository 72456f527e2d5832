package resolve

import "sync"

// ProgressFunc observes the fraction of rows processed, in [0, 1].
type ProgressFunc func(fraction float64)

// Progress counts processed rows for one batch. Emissions are serialized, so
// an observer sees a non-decreasing sequence.
type Progress struct {
	mu        sync.Mutex
	processed int
	total     int
	fn        ProgressFunc
}

func newProgress(total int, fn ProgressFunc) *Progress {
	return &Progress{total: total, fn: fn}
}

// advance records one more processed row and emits the new fraction.
func (p *Progress) advance() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.processed < p.total {
		p.processed++
	}
	p.emit()
}

// finish emits completion for a batch with no rows.
func (p *Progress) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.processed = p.total
	p.emit()
}

func (p *Progress) emit() {
	if p.fn != nil {
		p.fn(p.fraction())
	}
}

func (p *Progress) fraction() float64 {
	if p.total == 0 {
		return 1
	}
	return float64(p.processed) / float64(p.total)
}

// Processed returns the number of rows processed so far.
func (p *Progress) Processed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.processed
}

// Fraction returns the processed share of the batch.
func (p *Progress) Fraction() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fraction()
}
