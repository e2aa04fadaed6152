package envelope

import "math/cmplx"

// Analytic returns the analytic signal of x computed with an FFT of exactly
// len(x) points: the negative-frequency half of the spectrum is zeroed, the
// positive half doubled, and DC (and Nyquist for even lengths) kept.
func Analytic(x []float64) ([]complex128, error) {
	n := len(x)
	if n == 0 {
		return nil, nil
	}
	d, err := newDFT(n)
	if err != nil {
		return nil, err
	}

	bins := make([]complex128, n)
	for i, v := range x {
		bins[i] = complex(v, 0)
	}
	if err := d.forward(bins, bins); err != nil {
		return nil, err
	}

	half := n / 2
	if n%2 == 0 {
		for k := 1; k < half; k++ {
			bins[k] *= 2
		}
		for k := half + 1; k < n; k++ {
			bins[k] = 0
		}
	} else {
		for k := 1; k <= half; k++ {
			bins[k] *= 2
		}
		for k := half + 1; k < n; k++ {
			bins[k] = 0
		}
	}

	if err := d.inverse(bins, bins); err != nil {
		return nil, err
	}
	return bins, nil
}

// HilbertEnvelope returns |analytic(x)| per sample.
func HilbertEnvelope(x []float64) ([]float64, error) {
	a, err := Analytic(x)
	if err != nil {
		return nil, err
	}
	env := make([]float64, len(a))
	for i, v := range a {
		env[i] = cmplx.Abs(v)
	}
	return env, nil
}
