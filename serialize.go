package jda

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"
)

var byteOrder = binary.LittleEndian

// cursorSize is the size of the trailing cursor: two int32 values.
const cursorSize = 8

type header struct {
	Stages, Carts, Landmarks, TreeDepth int32
}

// countWriter counts the bytes written through it.
type countWriter struct {
	w io.Writer
	n int64
}

func (cw *countWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

// WriteTo serializes the cascade: the fixed parameters, the reference shape,
// every ensemble up to the cursor in stage order and finally the cursor itself.
func (c *Cascade) WriteTo(w io.Writer) (int64, error) {
	n := c.Cursor.Progress()
	if n > len(c.Ensembles) {
		return 0, fmt.Errorf("cursor %v needs %d ensembles, have %d", c.Cursor, n, len(c.Ensembles))
	}
	cw := &countWriter{w: w}
	h := header{int32(c.Stages), int32(c.Carts), int32(c.Landmarks), int32(c.TreeDepth)}
	if err := binary.Write(cw, byteOrder, h); err != nil {
		return cw.n, err
	}
	for i := 0; i < c.Landmarks; i++ {
		if err := binary.Write(cw, byteOrder, [2]float64{c.MeanShape.At(i, 0), c.MeanShape.At(i, 1)}); err != nil {
			return cw.n, err
		}
	}
	for s := 0; s < n; s++ {
		if _, err := c.Ensembles[s].WriteTo(cw); err != nil {
			return cw.n, fmt.Errorf("writing ensemble of stage %d: %w", s, err)
		}
	}
	err := binary.Write(cw, byteOrder, [2]int32{int32(c.Cursor.Stage), int32(c.Cursor.Cart)})
	return cw.n, err
}

func readParams(r io.Reader) (Params, error) {
	var h header
	if err := binary.Read(r, byteOrder, &h); err != nil {
		return Params{}, fmt.Errorf("%w: reading header: %v", ErrCorruptModel, err)
	}
	p := Params{
		Stages:    int(h.Stages),
		Carts:     int(h.Carts),
		Landmarks: int(h.Landmarks),
		TreeDepth: int(h.TreeDepth),
	}
	if err := p.Validate(); err != nil {
		return p, fmt.Errorf("%w: %v", ErrCorruptModel, err)
	}
	return p, nil
}

// readBody reads everything following the header. The ensembles are self delimiting,
// so blocks are read until only the cursor is left.
func readBody(r *bytes.Reader, p Params, factory EnsembleFactory) (*Cascade, error) {
	c := &Cascade{Params: p, MeanShape: mat.NewDense(p.Landmarks, 2, nil)}
	for i := 0; i < p.Landmarks; i++ {
		var pt [2]float64
		if err := binary.Read(r, byteOrder, &pt); err != nil {
			return nil, fmt.Errorf("%w: reading mean shape: %v", ErrCorruptModel, err)
		}
		c.MeanShape.Set(i, 0, pt[0])
		c.MeanShape.Set(i, 1, pt[1])
	}
	for r.Len() > cursorSize {
		if len(c.Ensembles) == p.Stages {
			return nil, fmt.Errorf("%w: more than %d ensembles", ErrCorruptModel, p.Stages)
		}
		ens := factory(len(c.Ensembles))
		if _, err := ens.ReadFrom(r); err != nil {
			return nil, fmt.Errorf("%w: reading ensemble of stage %d: %v", ErrCorruptModel, len(c.Ensembles), err)
		}
		c.Ensembles = append(c.Ensembles, ens)
	}
	var cur [2]int32
	if err := binary.Read(r, byteOrder, &cur); err != nil {
		return nil, fmt.Errorf("%w: reading cursor: %v", ErrCorruptModel, err)
	}
	c.Cursor = Cursor{Stage: int(cur[0]), Cart: int(cur[1])}

	switch {
	case c.Cursor.Stage < 0 || c.Cursor.Stage > p.Stages,
		c.Cursor.Cart < -1 || c.Cursor.Cart >= p.Carts,
		c.Cursor.Stage == p.Stages && c.Cursor.Cart != -1:
		return nil, fmt.Errorf("%w: cursor %v out of range", ErrCorruptModel, c.Cursor)
	case c.Cursor.Progress() != len(c.Ensembles):
		return nil, fmt.Errorf("%w: cursor %v with %d ensembles", ErrCorruptModel, c.Cursor, len(c.Ensembles))
	}
	return c, nil
}

// ReadCascade reads a cascade written by WriteTo. factory creates the ensembles to decode into.
func ReadCascade(r io.Reader, factory EnsembleFactory) (*Cascade, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	br := bytes.NewReader(data)
	p, err := readParams(br)
	if err != nil {
		return nil, err
	}
	return readBody(br, p, factory)
}

// LoadModel reads a cascade from a model file.
func LoadModel(path string, factory EnsembleFactory) (*Cascade, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("unable to open the model file: %w", err)
	}
	defer f.Close()

	return ReadCascade(bufio.NewReader(f), factory)
}

// SaveModel writes the cascade to path. The data goes to a temporary file first
// which is renamed over path only once it is completely written.
func (c *Cascade) SaveModel(path string) error {
	tmp, err := writeTemp(filepath.Dir(path), c)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("unable to finalize the model file: %w", err)
	}
	return nil
}

// writeTemp writes the cascade into a new temporary file of dir and returns its name.
func writeTemp(dir string, c *Cascade) (string, error) {
	f, err := os.CreateTemp(dir, ".jda-*.tmp")
	if err != nil {
		return "", fmt.Errorf("unable to create the model file: %w", err)
	}
	bw := bufio.NewWriter(f)
	if _, err = c.WriteTo(bw); err == nil {
		err = bw.Flush()
	}
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("unable to write the model file: %w", err)
	}
	return f.Name(), nil
}
