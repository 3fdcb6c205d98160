package layers

import (
	"fmt"

	"effnet/tensor"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

// Conv2D is a 2D convolution with stride, zero padding and channel groups.
// groups == inChan == outChan gives a depthwise convolution.
type Conv2D struct {
	// Layer parameters
	inChan, outChan int // number of input/output channels
	kh, kw          int // kernel height and width
	stride, padding int
	groups          int

	W *tensor.Tensor // weights: [outChan, inChan/groups, kh, kw]
	B *tensor.Tensor // bias: [outChan], nil when the layer has no bias

	// Gradient storage, accumulated across Backward calls
	gradW *tensor.Tensor
	gradB *tensor.Tensor

	// Cached input for backward pass
	lastInput *tensor.Tensor
}

// NewConv2D creates a new Conv2D layer with a square kernel, initialised from src.
func NewConv2D(inChan, outChan, kernel, stride, padding, groups int, bias bool, src rand.Source) (*Conv2D, error) {
	if inChan <= 0 || outChan <= 0 || kernel <= 0 || stride <= 0 || padding < 0 || groups <= 0 {
		return nil, fmt.Errorf("invalid conv config: in=%d out=%d k=%d s=%d p=%d g=%d",
			inChan, outChan, kernel, stride, padding, groups)
	}
	if inChan%groups != 0 || outChan%groups != 0 {
		return nil, fmt.Errorf("channels %d->%d not divisible by groups %d", inChan, outChan, groups)
	}

	c := &Conv2D{
		inChan:  inChan,
		outChan: outChan,
		kh:      kernel,
		kw:      kernel,
		stride:  stride,
		padding: padding,
		groups:  groups,
		W:       tensor.New(outChan, inChan/groups, kernel, kernel),
		gradW:   tensor.New(outChan, inChan/groups, kernel, kernel),
	}
	fanIn := (inChan / groups) * kernel * kernel
	uniformInit(c.W, fanIn, src)

	if bias {
		c.B = tensor.New(outChan)
		c.gradB = tensor.New(outChan)
		uniformInit(c.B, fanIn, src)
	}
	return c, nil
}

// GetOutputShape returns the output dimensions for given input dimensions.
func (c *Conv2D) GetOutputShape(inH, inW int) (outH, outW int) {
	outH = (inH+2*c.padding-c.kh)/c.stride + 1
	outW = (inW+2*c.padding-c.kw)/c.stride + 1
	return outH, outW
}

// InChannels returns the expected input channel count.
func (c *Conv2D) InChannels() int { return c.inChan }

// OutChannels returns the produced channel count.
func (c *Conv2D) OutChannels() int { return c.outChan }

// Stride returns the spatial stride.
func (c *Conv2D) Stride() int { return c.stride }

// Kernel returns the (square) kernel size.
func (c *Conv2D) Kernel() int { return c.kh }

// Padding returns the zero padding on each side.
func (c *Conv2D) Padding() int { return c.padding }

// Groups returns the channel group count.
func (c *Conv2D) Groups() int { return c.groups }

// Forward computes the convolution as one matrix product per (sample, group):
// W_g [coutG, cinG*kh*kw] × cols [cinG*kh*kw, outH*outW].
func (c *Conv2D) Forward(input *tensor.Tensor, _ Mode) (*tensor.Tensor, error) {
	batchSize, ch, height, width, err := dims4(input)
	if err != nil {
		return nil, err
	}
	if ch != c.inChan {
		return nil, fmt.Errorf("expected %d input channels, got %d", c.inChan, ch)
	}
	outHeight, outWidth := c.GetOutputShape(height, width)
	if outHeight <= 0 || outWidth <= 0 {
		return nil, fmt.Errorf("input %dx%d too small for kernel %d (padding %d)", height, width, c.kh, c.padding)
	}

	output := tensor.New(batchSize, c.outChan, outHeight, outWidth)
	coutG := c.outChan / c.groups
	k := (c.inChan / c.groups) * c.kh * c.kw
	p := outHeight * outWidth
	cols := mat.NewDense(k, p, nil)

	for b := 0; b < batchSize; b++ {
		for g := 0; g < c.groups; g++ {
			c.im2col(input, b, g, height, width, outHeight, outWidth, cols.RawMatrix().Data)

			wg := mat.NewDense(coutG, k, c.W.Data[g*coutG*k:(g+1)*coutG*k])
			off := (b*c.outChan + g*coutG) * p
			dst := mat.NewDense(coutG, p, output.Data[off:off+coutG*p])
			dst.Mul(wg, cols)

			if c.B != nil {
				for o := 0; o < coutG; o++ {
					bias := c.B.Data[g*coutG+o]
					row := output.Data[off+o*p : off+(o+1)*p]
					for i := range row {
						row[i] += bias
					}
				}
			}
		}
	}

	// Cache input for backward pass
	c.lastInput = input
	return output, nil
}

// Backward accumulates weight/bias gradients and returns the input gradient.
func (c *Conv2D) Backward(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	if c.lastInput == nil {
		return nil, fmt.Errorf("no cached input for backward pass")
	}
	batchSize, _, height, width, _ := dims4(c.lastInput)
	outHeight, outWidth := c.GetOutputShape(height, width)
	want := []int{batchSize, c.outChan, outHeight, outWidth}
	if !tensor.SameShape(gradOut, &tensor.Tensor{Shape: want}) {
		return nil, fmt.Errorf("gradOut shape %v, want %v", gradOut.Shape, want)
	}

	inputGrad := tensor.New(c.lastInput.Shape...)
	coutG := c.outChan / c.groups
	k := (c.inChan / c.groups) * c.kh * c.kw
	p := outHeight * outWidth
	cols := mat.NewDense(k, p, nil)
	dCols := mat.NewDense(k, p, nil)
	dW := mat.NewDense(coutG, k, nil)

	for b := 0; b < batchSize; b++ {
		for g := 0; g < c.groups; g++ {
			off := (b*c.outChan + g*coutG) * p
			dOut := mat.NewDense(coutG, p, gradOut.Data[off:off+coutG*p])

			// Weight gradients: dW_g += dOut · colsᵀ
			c.im2col(c.lastInput, b, g, height, width, outHeight, outWidth, cols.RawMatrix().Data)
			dW.Mul(dOut, cols.T())
			gw := mat.NewDense(coutG, k, c.gradW.Data[g*coutG*k:(g+1)*coutG*k])
			gw.Add(gw, dW)

			// Bias gradients: sum over all spatial positions
			if c.B != nil {
				for o := 0; o < coutG; o++ {
					sum := 0.0
					for _, v := range gradOut.Data[off+o*p : off+(o+1)*p] {
						sum += v
					}
					c.gradB.Data[g*coutG+o] += sum
				}
			}

			// Input gradients (transposed convolution): scatter W_gᵀ · dOut back
			wg := mat.NewDense(coutG, k, c.W.Data[g*coutG*k:(g+1)*coutG*k])
			dCols.Mul(wg.T(), dOut)
			c.col2im(dCols.RawMatrix().Data, inputGrad, b, g, height, width, outHeight, outWidth)
		}
	}

	return inputGrad, nil
}

// im2col unrolls the receptive fields of group g in sample b into cols,
// laid out [cinG*kh*kw, outH*outW]. Padding positions read as zero.
func (c *Conv2D) im2col(x *tensor.Tensor, b, g, height, width, outHeight, outWidth int, cols []float64) {
	cinG := c.inChan / c.groups
	p := outHeight * outWidth
	for ci := 0; ci < cinG; ci++ {
		plane := x.Data[((b*c.inChan)+g*cinG+ci)*height*width:]
		for dy := 0; dy < c.kh; dy++ {
			for dx := 0; dx < c.kw; dx++ {
				row := cols[((ci*c.kh+dy)*c.kw+dx)*p:]
				for oy := 0; oy < outHeight; oy++ {
					iy := oy*c.stride - c.padding + dy
					for ox := 0; ox < outWidth; ox++ {
						ix := ox*c.stride - c.padding + dx
						if iy < 0 || iy >= height || ix < 0 || ix >= width {
							row[oy*outWidth+ox] = 0
						} else {
							row[oy*outWidth+ox] = plane[iy*width+ix]
						}
					}
				}
			}
		}
	}
}

// col2im is the adjoint of im2col: it adds cols back into the input gradient.
func (c *Conv2D) col2im(cols []float64, dx *tensor.Tensor, b, g, height, width, outHeight, outWidth int) {
	cinG := c.inChan / c.groups
	p := outHeight * outWidth
	for ci := 0; ci < cinG; ci++ {
		plane := dx.Data[((b*c.inChan)+g*cinG+ci)*height*width:]
		for dy := 0; dy < c.kh; dy++ {
			for dxk := 0; dxk < c.kw; dxk++ {
				row := cols[((ci*c.kh+dy)*c.kw+dxk)*p:]
				for oy := 0; oy < outHeight; oy++ {
					iy := oy*c.stride - c.padding + dy
					if iy < 0 || iy >= height {
						continue
					}
					for ox := 0; ox < outWidth; ox++ {
						ix := ox*c.stride - c.padding + dxk
						if ix < 0 || ix >= width {
							continue
						}
						plane[iy*width+ix] += row[oy*outWidth+ox]
					}
				}
			}
		}
	}
}

// Params returns the weight and, if present, the bias.
func (c *Conv2D) Params() []*Param {
	ps := []*Param{{Name: "weight", Value: c.W, Grad: c.gradW}}
	if c.B != nil {
		ps = append(ps, &Param{Name: "bias", Value: c.B, Grad: c.gradB})
	}
	return ps
}

func (c *Conv2D) Tag() string {
	return fmt.Sprintf("Conv2D_%d_%d_%d_%d_s%d_g%d", c.inChan, c.outChan, c.kh, c.kw, c.stride, c.groups)
}
