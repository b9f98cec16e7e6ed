package cart

import (
	"encoding/binary"
	"fmt"
	"io"
)

var byteOrder = binary.LittleEndian

type countWriter struct {
	w io.Writer
	n int64
}

func (cw *countWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

type countReader struct {
	r io.Reader
	n int64
}

func (cr *countReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.n += int64(n)
	return n, err
}

// blockHeader opens the serialized ensemble of a stage.
type blockHeader struct {
	Depth, Landmarks, Carts int32
}

// maxCarts bounds the cart count read from a stream.
const maxCarts = 1 << 20

// WriteTo encodes the ensemble: the block header, every cart (nodes, leaf scores,
// leaf shapes and threshold) and the optional global regression.
func (bc *BoostCart) WriteTo(w io.Writer) (int64, error) {
	cw := &countWriter{w: w}
	h := blockHeader{int32(bc.opts.Depth), int32(bc.opts.Landmarks), int32(len(bc.Carts))}
	if err := binary.Write(cw, byteOrder, h); err != nil {
		return cw.n, err
	}
	for _, c := range bc.Carts {
		if err := binary.Write(cw, byteOrder, c.Nodes); err != nil {
			return cw.n, err
		}
		if err := binary.Write(cw, byteOrder, c.Scores); err != nil {
			return cw.n, err
		}
		for _, shape := range c.Shapes {
			if err := binary.Write(cw, byteOrder, shape); err != nil {
				return cw.n, err
			}
		}
		if err := binary.Write(cw, byteOrder, c.Threshold); err != nil {
			return cw.n, err
		}
	}
	var global uint8
	if bc.Global != nil {
		global = 1
	}
	if err := binary.Write(cw, byteOrder, global); err != nil {
		return cw.n, err
	}
	if bc.Global != nil {
		if err := binary.Write(cw, byteOrder, bc.Global); err != nil {
			return cw.n, err
		}
	}
	return cw.n, nil
}

// ReadFrom decodes an ensemble written by WriteTo, consuming exactly its bytes.
// The tree depth and landmark count must match the ensemble options.
func (bc *BoostCart) ReadFrom(r io.Reader) (int64, error) {
	cr := &countReader{r: r}
	var h blockHeader
	if err := binary.Read(cr, byteOrder, &h); err != nil {
		return cr.n, err
	}
	switch {
	case int(h.Depth) != bc.opts.Depth || int(h.Landmarks) != bc.opts.Landmarks:
		return cr.n, fmt.Errorf("ensemble has depth %d and %d landmarks, want depth %d and %d landmarks",
			h.Depth, h.Landmarks, bc.opts.Depth, bc.opts.Landmarks)
	case h.Carts < 0 || h.Carts > maxCarts:
		return cr.n, fmt.Errorf("invalid cart count %d", h.Carts)
	}

	carts := make([]*Cart, 0, h.Carts)
	for i := 0; i < int(h.Carts); i++ {
		c := newCart(bc.opts.Depth, bc.opts.Landmarks)
		if err := binary.Read(cr, byteOrder, c.Nodes); err != nil {
			return cr.n, err
		}
		if err := binary.Read(cr, byteOrder, c.Scores); err != nil {
			return cr.n, err
		}
		for _, shape := range c.Shapes {
			if err := binary.Read(cr, byteOrder, shape); err != nil {
				return cr.n, err
			}
		}
		if err := binary.Read(cr, byteOrder, &c.Threshold); err != nil {
			return cr.n, err
		}
		for j, n := range c.Nodes {
			if n.Feature.Level > 2 {
				return cr.n, fmt.Errorf("cart %d node %d: invalid view level %d", i, j, n.Feature.Level)
			}
		}
		carts = append(carts, c)
	}

	var global uint8
	if err := binary.Read(cr, byteOrder, &global); err != nil {
		return cr.n, err
	}
	bc.Global = nil
	switch global {
	case 0:
	case 1:
		bc.Global = make([]float64, 2*bc.opts.Landmarks)
		if err := binary.Read(cr, byteOrder, bc.Global); err != nil {
			return cr.n, err
		}
	default:
		return cr.n, fmt.Errorf("invalid global regression flag %d", global)
	}
	bc.Carts = carts
	return cr.n, nil
}
