// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the Step-Sim License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package events

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/pgzip"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// FileSink grava um registro por linha (JSONL) num arquivo, com gzip
// paralelo quando o caminho termina em .gz. Traces de simulações longas
// chegam facilmente a milhões de linhas, então a escrita é bufferizada.
type FileSink struct {
	f    *os.File
	gz   *pgzip.Writer
	w    *bufio.Writer
	path string
}

// NewFileSink cria (ou trunca) o arquivo de trace.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating trace file: %w", err)
	}
	s := &FileSink{f: f, path: path}
	if strings.HasSuffix(path, ".gz") {
		s.gz = pgzip.NewWriter(f)
		s.w = bufio.NewWriterSize(s.gz, 256*1024)
	} else {
		s.w = bufio.NewWriterSize(f, 256*1024)
	}
	return s, nil
}

// Append serializa o registro como uma linha JSON.
func (s *FileSink) Append(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if _, err := s.w.Write(data); err != nil {
		return err
	}
	return s.w.WriteByte('\n')
}

// Close descarrega os buffers e fecha o arquivo.
func (s *FileSink) Close() error {
	if err := s.w.Flush(); err != nil {
		return err
	}
	if s.gz != nil {
		if err := s.gz.Close(); err != nil {
			return err
		}
	}
	return s.f.Close()
}

// ReadTrace lê de volta um arquivo de trace (plano ou .gz), na ordem de
// escrita. Linhas malformadas são ignoradas.
func ReadTrace(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening trace file: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("opening gzip trace: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	var out []Record
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, scanner.Err()
}
