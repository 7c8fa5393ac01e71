package c3d

import (
	"math"
	"math/rand/v2"
	"runtime"
	"sync"
	"sync/atomic"
)

// activation is a dense float32 array with a row-major shape.
type activation struct {
	shape []int
	data  []float32
}

func volume(shape []int) int {
	n := 1
	for _, v := range shape {
		n *= v
	}
	return n
}

// parallelFor runs fn(i) for i in [0,n) on up to GOMAXPROCS goroutines.
func parallelFor(n int, fn func(i int)) {
	workers := runtime.GOMAXPROCS(0)
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		for i := 0; i < n; i++ {
			fn(i)
		}
		return
	}
	var next atomic.Int64
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for {
				i := int(next.Add(1) - 1)
				if i >= n {
					return
				}
				fn(i)
			}
		}()
	}
	wg.Wait()
}

// conv3d computes a cross-correlation with zero padding, one output channel
// per task.
func conv3d(l Layer, x activation, weight, bias []float32) activation {
	outShape := l.OutputShape(x.shape)
	inT, inH, inW := x.shape[1], x.shape[2], x.shape[3]
	oT, oH, oW := outShape[1], outShape[2], outShape[3]
	kT, kH, kW := l.Kernel[0], l.Kernel[1], l.Kernel[2]
	sT, sH, sW := l.Stride[0], l.Stride[1], l.Stride[2]
	pT, pH, pW := l.Padding[0], l.Padding[1], l.Padding[2]

	inPlane := inH * inW
	inVol := inT * inPlane
	outPlane := oH * oW
	outVol := oT * outPlane
	kVol := kT * kH * kW

	out := make([]float32, l.Out*outVol)

	parallelFor(l.Out, func(o int) {
		dst := out[o*outVol : (o+1)*outVol]
		b := bias[o]
		for i := range dst {
			dst[i] = b
		}
		for ci := 0; ci < l.In; ci++ {
			src := x.data[ci*inVol : (ci+1)*inVol]
			wk := weight[(o*l.In+ci)*kVol : (o*l.In+ci+1)*kVol]
			for kt := 0; kt < kT; kt++ {
				for kh := 0; kh < kH; kh++ {
					for kw := 0; kw < kW; kw++ {
						w := wk[(kt*kH+kh)*kW+kw]
						if w == 0 {
							continue
						}
						for ot := 0; ot < oT; ot++ {
							it := ot*sT - pT + kt
							if it < 0 || it >= inT {
								continue
							}
							for oh := 0; oh < oH; oh++ {
								ih := oh*sH - pH + kh
								if ih < 0 || ih >= inH {
									continue
								}
								row := dst[ot*outPlane+oh*oW : ot*outPlane+(oh+1)*oW]
								srow := src[it*inPlane+ih*inW : it*inPlane+(ih+1)*inW]
								for ow := range row {
									iw := ow*sW - pW + kw
									if iw < 0 || iw >= inW {
										continue
									}
									row[ow] += w * srow[iw]
								}
							}
						}
					}
				}
			}
		}
	})

	return activation{shape: outShape, data: out}
}

// maxPool3d pools each channel independently. Padded cells count as -Inf so
// they never win.
func maxPool3d(l Layer, x activation) activation {
	outShape := l.OutputShape(x.shape)
	c := x.shape[0]
	inT, inH, inW := x.shape[1], x.shape[2], x.shape[3]
	oT, oH, oW := outShape[1], outShape[2], outShape[3]
	inVol := inT * inH * inW
	outVol := oT * oH * oW

	out := make([]float32, c*outVol)
	negInf := float32(math.Inf(-1))

	parallelFor(c, func(ch int) {
		src := x.data[ch*inVol : (ch+1)*inVol]
		dst := out[ch*outVol : (ch+1)*outVol]
		for ot := 0; ot < oT; ot++ {
			for oh := 0; oh < oH; oh++ {
				for ow := 0; ow < oW; ow++ {
					m := negInf
					for kt := 0; kt < l.Kernel[0]; kt++ {
						it := ot*l.Stride[0] - l.Padding[0] + kt
						if it < 0 || it >= inT {
							continue
						}
						for kh := 0; kh < l.Kernel[1]; kh++ {
							ih := oh*l.Stride[1] - l.Padding[1] + kh
							if ih < 0 || ih >= inH {
								continue
							}
							for kw := 0; kw < l.Kernel[2]; kw++ {
								iw := ow*l.Stride[2] - l.Padding[2] + kw
								if iw < 0 || iw >= inW {
									continue
								}
								if v := src[(it*inH+ih)*inW+iw]; v > m || v != v {
									m = v
								}
							}
						}
					}
					dst[(ot*oH+oh)*oW+ow] = m
				}
			}
		}
	})

	return activation{shape: outShape, data: out}
}

func linear(l Layer, x activation, weight, bias []float32) activation {
	outShape := l.OutputShape(x.shape)
	out := make([]float32, l.Out)
	parallelFor(l.Out, func(o int) {
		row := weight[o*l.In : (o+1)*l.In]
		sum := bias[o]
		for i, v := range x.data {
			sum += row[i] * v
		}
		out[o] = sum
	})
	return activation{shape: outShape, data: out}
}

func relu(x activation) activation {
	for i, v := range x.data {
		if v < 0 {
			x.data[i] = 0
		}
	}
	return x
}

// dropout zeroes elements with probability p and rescales the survivors.
func dropout(p float64, x activation, rng *rand.Rand) activation {
	if p <= 0 {
		return x
	}
	if p >= 1 {
		for i := range x.data {
			x.data[i] = 0
		}
		return x
	}
	scale := float32(1 / (1 - p))
	for i := range x.data {
		if rng.Float64() < p {
			x.data[i] = 0
		} else {
			x.data[i] *= scale
		}
	}
	return x
}
