// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the Step-Sim License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package npy

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFloat32_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tensor.npy")
	shape := []int{3, 4}
	data := make([]float32, 12)
	for i := range data {
		data[i] = float32(i) * 0.5
	}
	if err := WriteFloat32(path, shape, data); err != nil {
		t.Fatalf("WriteFloat32 error: %v", err)
	}

	gotShape, gotData, err := ReadFloat32(path)
	if err != nil {
		t.Fatalf("ReadFloat32 error: %v", err)
	}
	if len(gotShape) != 2 || gotShape[0] != 3 || gotShape[1] != 4 {
		t.Fatalf("expected shape [3 4], got %v", gotShape)
	}
	for i := range data {
		if gotData[i] != data[i] {
			t.Fatalf("element %d: expected %v, got %v", i, data[i], gotData[i])
		}
	}
}

func TestUint64_RoundTrip1D(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.npy")
	data := []uint64{1, 2, 3, 4, 5}
	if err := WriteUint64(path, []int{5}, data); err != nil {
		t.Fatalf("WriteUint64 error: %v", err)
	}
	shape, got, err := ReadUint64(path)
	if err != nil {
		t.Fatalf("ReadUint64 error: %v", err)
	}
	if len(shape) != 1 || shape[0] != 5 {
		t.Fatalf("expected shape [5], got %v", shape)
	}
	for i := range data {
		if got[i] != data[i] {
			t.Fatalf("element %d: expected %d, got %d", i, data[i], got[i])
		}
	}
}

func TestRead_RejectsWrongDtype(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tensor.npy")
	if err := WriteFloat32(path, []int{2}, []float32{1, 2}); err != nil {
		t.Fatalf("WriteFloat32 error: %v", err)
	}
	if _, _, err := ReadUint64(path); err == nil {
		t.Fatal("expected dtype mismatch error")
	}
}

func TestRead_RejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.npy")
	if err := os.WriteFile(path, []byte("not an npy file"), 0644); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}
	if _, _, err := ReadFloat32(path); err == nil {
		t.Fatal("expected bad magic error")
	}
}

func TestReadBool_FromBytePayload(t *testing.T) {
	// Constrói um |b1 à mão: o writer do simulador não emite bool.
	path := filepath.Join(t.TempDir(), "mask.npy")
	header := "{'descr': '|b1', 'fortran_order': False, 'shape': (4,), }"
	pad := 64 - (10+len(header)+1)%64
	if pad == 64 {
		pad = 0
	}
	for i := 0; i < pad; i++ {
		header += " "
	}
	header += "\n"
	payload := []byte("\x93NUMPY\x01\x00")
	payload = append(payload, byte(len(header)), byte(len(header)>>8))
	payload = append(payload, header...)
	payload = append(payload, 1, 0, 1, 1)
	if err := os.WriteFile(path, payload, 0644); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}

	shape, bits, err := ReadBool(path)
	if err != nil {
		t.Fatalf("ReadBool error: %v", err)
	}
	if len(shape) != 1 || shape[0] != 4 {
		t.Fatalf("expected shape [4], got %v", shape)
	}
	want := []bool{true, false, true, true}
	for i := range want {
		if bits[i] != want[i] {
			t.Fatalf("bit %d: expected %v, got %v", i, want[i], bits[i])
		}
	}
}
