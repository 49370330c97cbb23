// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the Step-Sim License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package graph

import (
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// JSONSource carrega um Program serializado em JSON — a implementação
// local do colaborador de deserialização.
type JSONSource struct {
	Path string
}

// Load lê e valida superficialmente o grafo.
func (s JSONSource) Load() (*Program, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("reading graph %s: %w", s.Path, err)
	}
	var prog Program
	if err := json.Unmarshal(data, &prog); err != nil {
		return nil, fmt.Errorf("parsing graph %s: %w", s.Path, err)
	}
	seen := map[uint32]bool{}
	for i, operation := range prog.Operations {
		if seen[operation.ID] {
			return nil, fmt.Errorf("graph %s: duplicate operation id %d (index %d)", s.Path, operation.ID, i)
		}
		seen[operation.ID] = true
	}
	return &prog, nil
}
