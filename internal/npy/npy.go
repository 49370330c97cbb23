// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the Step-Sim License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package npy lê e grava tensores no formato NumPy .npy (versão 1.0,
// C-order, little-endian). Cobre os dtypes que o simulador funcional
// usa: f4, u8/i8 e b1.
package npy

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

var magic = []byte("\x93NUMPY")

// Erros do codec.
var (
	ErrBadMagic = errors.New("npy: bad magic")
	ErrDtype    = errors.New("npy: unsupported dtype")
)

// Header descreve o tensor serializado.
type Header struct {
	Descr        string
	FortranOrder bool
	Shape        []int
}

// Len retorna o número total de elementos.
func (h Header) Len() int {
	n := 1
	for _, d := range h.Shape {
		n *= d
	}
	return n
}

func parseHeader(text string) (Header, error) {
	var h Header
	get := func(key string) (string, bool) {
		idx := strings.Index(text, "'"+key+"'")
		if idx < 0 {
			return "", false
		}
		rest := text[idx+len(key)+2:]
		colon := strings.Index(rest, ":")
		if colon < 0 {
			return "", false
		}
		rest = rest[colon+1:]
		end := strings.IndexAny(rest, ",}")
		if key == "shape" {
			end = strings.Index(rest, ")")
			if end >= 0 {
				end++
			}
		}
		if end < 0 {
			return "", false
		}
		return strings.TrimSpace(rest[:end]), true
	}

	descr, ok := get("descr")
	if !ok {
		return h, fmt.Errorf("npy: header missing descr: %q", text)
	}
	h.Descr = strings.Trim(descr, "'\"")

	order, ok := get("fortran_order")
	if !ok {
		return h, fmt.Errorf("npy: header missing fortran_order: %q", text)
	}
	h.FortranOrder = strings.HasPrefix(order, "True")

	shapeStr, ok := get("shape")
	if !ok {
		return h, fmt.Errorf("npy: header missing shape: %q", text)
	}
	shapeStr = strings.Trim(shapeStr, "() ")
	if shapeStr != "" {
		for _, part := range strings.Split(shapeStr, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			d, err := strconv.Atoi(part)
			if err != nil {
				return h, fmt.Errorf("npy: bad shape dimension %q: %w", part, err)
			}
			h.Shape = append(h.Shape, d)
		}
	}
	return h, nil
}

// readRaw lê header e payload cru.
func readRaw(path string) (Header, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Header{}, nil, fmt.Errorf("npy: reading %s: %w", path, err)
	}
	if len(data) < 10 || !bytes.Equal(data[:6], magic) {
		return Header{}, nil, fmt.Errorf("%w: %s", ErrBadMagic, path)
	}
	major := data[6]
	var headerLen, offset int
	switch major {
	case 1:
		headerLen = int(binary.LittleEndian.Uint16(data[8:10]))
		offset = 10
	case 2, 3:
		if len(data) < 12 {
			return Header{}, nil, fmt.Errorf("%w: %s", ErrBadMagic, path)
		}
		headerLen = int(binary.LittleEndian.Uint32(data[8:12]))
		offset = 12
	default:
		return Header{}, nil, fmt.Errorf("npy: unsupported version %d", major)
	}
	if len(data) < offset+headerLen {
		return Header{}, nil, fmt.Errorf("npy: truncated header in %s", path)
	}
	h, err := parseHeader(string(data[offset : offset+headerLen]))
	if err != nil {
		return Header{}, nil, err
	}
	if h.FortranOrder {
		return Header{}, nil, fmt.Errorf("npy: fortran order not supported (%s)", path)
	}
	return h, data[offset+headerLen:], nil
}

// ReadFloat32 lê um tensor f4.
func ReadFloat32(path string) ([]int, []float32, error) {
	h, payload, err := readRaw(path)
	if err != nil {
		return nil, nil, err
	}
	if h.Descr != "<f4" {
		return nil, nil, fmt.Errorf("%w: want <f4, got %s", ErrDtype, h.Descr)
	}
	n := h.Len()
	if len(payload) < 4*n {
		return nil, nil, fmt.Errorf("npy: truncated payload in %s", path)
	}
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(payload[4*i:]))
	}
	return h.Shape, out, nil
}

// ReadUint64 lê um tensor inteiro de 8 bytes (u8 ou i8, valores não
// negativos).
func ReadUint64(path string) ([]int, []uint64, error) {
	h, payload, err := readRaw(path)
	if err != nil {
		return nil, nil, err
	}
	if h.Descr != "<u8" && h.Descr != "<i8" {
		return nil, nil, fmt.Errorf("%w: want <u8 or <i8, got %s", ErrDtype, h.Descr)
	}
	n := h.Len()
	if len(payload) < 8*n {
		return nil, nil, fmt.Errorf("npy: truncated payload in %s", path)
	}
	out := make([]uint64, n)
	for i := 0; i < n; i++ {
		out[i] = binary.LittleEndian.Uint64(payload[8*i:])
	}
	return h.Shape, out, nil
}

// ReadBool lê um tensor b1 (qualquer inteiro de 1 byte vira != 0).
func ReadBool(path string) ([]int, []bool, error) {
	h, payload, err := readRaw(path)
	if err != nil {
		return nil, nil, err
	}
	if h.Descr != "|b1" && h.Descr != "<i1" && h.Descr != "|u1" && h.Descr != "<u1" {
		return nil, nil, fmt.Errorf("%w: want a 1-byte dtype, got %s", ErrDtype, h.Descr)
	}
	n := h.Len()
	if len(payload) < n {
		return nil, nil, fmt.Errorf("npy: truncated payload in %s", path)
	}
	out := make([]bool, n)
	for i := 0; i < n; i++ {
		out[i] = payload[i] != 0
	}
	return h.Shape, out, nil
}

func writeHeader(w *bufio.Writer, descr string, shape []int) error {
	dims := make([]string, len(shape))
	for i, d := range shape {
		dims[i] = strconv.Itoa(d)
	}
	shapeStr := strings.Join(dims, ", ")
	if len(shape) == 1 {
		shapeStr += ","
	}
	header := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': (%s), }", descr, shapeStr)
	// O preâmbulo + header deve alinhar em 64 bytes, terminando em \n.
	total := len(magic) + 4 + len(header) + 1
	pad := (64 - total%64) % 64
	header += strings.Repeat(" ", pad) + "\n"

	if _, err := w.Write(magic); err != nil {
		return err
	}
	if _, err := w.Write([]byte{1, 0}); err != nil {
		return err
	}
	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(header)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.WriteString(header)
	return err
}

// WriteFloat32 grava um tensor f4.
func WriteFloat32(path string, shape []int, data []float32) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("npy: creating %s: %w", path, err)
	}
	w := bufio.NewWriterSize(f, 256*1024)
	if err := writeHeader(w, "<f4", shape); err != nil {
		f.Close()
		return err
	}
	var buf [4]byte
	for _, v := range data {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
		if _, err := w.Write(buf[:]); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteUint64 grava um tensor u8.
func WriteUint64(path string, shape []int, data []uint64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("npy: creating %s: %w", path, err)
	}
	w := bufio.NewWriterSize(f, 256*1024)
	if err := writeHeader(w, "<u8", shape); err != nil {
		f.Close()
		return err
	}
	var buf [8]byte
	for _, v := range data {
		binary.LittleEndian.PutUint64(buf[:], v)
		if _, err := w.Write(buf[:]); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
