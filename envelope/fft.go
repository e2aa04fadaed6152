package envelope

import (
	"fmt"
	"math"
	"math/bits"

	algofft "github.com/cwbudde/algo-fft"
)

// dft computes exact length-n transforms. Power-of-two sizes of at least
// minPlanSize use an algo-fft plan directly; other sizes use Bluestein's
// chirp-z algorithm on a power-of-two plan of at least 2n-1 points.
type dft struct {
	n    int
	m    int
	plan *algofft.Plan[complex128]

	// chirp[k] = exp(-i*pi*k^2/n)
	chirp []complex128
	// kernel is the forward transform of the wrapped conjugate chirp.
	kernel []complex128
	work   []complex128
}

const minPlanSize = 16

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

func nextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

func newDFT(n int) (*dft, error) {
	if n <= 0 {
		return nil, fmt.Errorf("dft size must be > 0, got %d", n)
	}
	if n == 1 {
		return &dft{n: 1, m: 1}, nil
	}
	if isPowerOfTwo(n) && n >= minPlanSize {
		plan, err := algofft.NewPlan64(n)
		if err != nil {
			return nil, fmt.Errorf("fft plan %d: %w", n, err)
		}
		return &dft{n: n, m: n, plan: plan}, nil
	}

	m := max(nextPowerOfTwo(2*n-1), minPlanSize)
	plan, err := algofft.NewPlan64(m)
	if err != nil {
		return nil, fmt.Errorf("fft plan %d: %w", m, err)
	}

	d := &dft{
		n:      n,
		m:      m,
		plan:   plan,
		chirp:  make([]complex128, n),
		kernel: make([]complex128, m),
		work:   make([]complex128, m),
	}
	twoN := int64(2 * n)
	for k := range n {
		// k^2 mod 2n keeps the phase argument small for long inputs.
		kk := (int64(k) * int64(k)) % twoN
		s, c := math.Sincos(-math.Pi * float64(kk) / float64(n))
		d.chirp[k] = complex(c, s)
	}
	d.kernel[0] = conj(d.chirp[0])
	for k := 1; k < n; k++ {
		v := conj(d.chirp[k])
		d.kernel[k] = v
		d.kernel[m-k] = v
	}
	if err := plan.Forward(d.kernel, d.kernel); err != nil {
		return nil, err
	}
	return d, nil
}

// forward writes the unnormalized DFT of src into dst. Both must have
// length n; they may alias.
func (d *dft) forward(dst, src []complex128) error {
	if len(dst) != d.n || len(src) != d.n {
		return fmt.Errorf("dft: buffer length mismatch (want %d)", d.n)
	}
	if d.plan == nil {
		copy(dst, src)
		return nil
	}
	if d.chirp == nil {
		return d.plan.Forward(dst, src)
	}

	w := d.work
	for k := range d.n {
		w[k] = src[k] * d.chirp[k]
	}
	clear(w[d.n:])
	if err := d.plan.Forward(w, w); err != nil {
		return err
	}
	for i := range w {
		w[i] *= d.kernel[i]
	}
	if err := d.plan.Inverse(w, w); err != nil {
		return err
	}
	for k := range d.n {
		dst[k] = w[k] * d.chirp[k]
	}
	return nil
}

// inverse writes the normalized inverse DFT of src into dst.
func (d *dft) inverse(dst, src []complex128) error {
	if len(dst) != d.n || len(src) != d.n {
		return fmt.Errorf("dft: buffer length mismatch (want %d)", d.n)
	}
	if d.plan == nil {
		copy(dst, src)
		return nil
	}
	if d.chirp == nil {
		return d.plan.Inverse(dst, src)
	}
	for k := range d.n {
		dst[k] = conj(src[k])
	}
	if err := d.forward(dst, dst); err != nil {
		return err
	}
	scale := 1 / float64(d.n)
	for k := range d.n {
		v := conj(dst[k])
		dst[k] = complex(real(v)*scale, imag(v)*scale)
	}
	return nil
}

func conj(v complex128) complex128 {
	return complex(real(v), -imag(v))
}
