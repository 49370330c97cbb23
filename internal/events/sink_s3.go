// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the Step-Sim License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package events

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// s3BatchSize é o número de registros acumulados antes de cada
// PutObject. Um objeto por registro seria proibitivo em traces grandes.
const s3BatchSize = 50000

// S3Sink envia o trace em lotes JSONL para um bucket S3 — o "document
// store" remoto do host. Objetos são nomeados <prefix>/part-NNNNN.jsonl;
// sem prefix, o prefixo é step-sim/<timestamp UTC da criação>.
type S3Sink struct {
	client *s3.Client
	bucket string
	prefix string

	buf   bytes.Buffer
	count int
	part  int
}

// NewS3Sink resolve credenciais pela cadeia padrão da SDK e valida o
// acesso ao bucket com um HeadBucket.
func NewS3Sink(ctx context.Context, bucket, prefix string) (*S3Sink, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return nil, fmt.Errorf("checking trace bucket %q: %w", bucket, err)
	}
	if prefix == "" {
		prefix = "step-sim/" + time.Now().UTC().Format("2006-01-02T15-04-05")
	}
	return &S3Sink{client: client, bucket: bucket, prefix: prefix}, nil
}

// Append acumula o registro; ao atingir o tamanho de lote, envia.
func (s *S3Sink) Append(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	s.buf.Write(data)
	s.buf.WriteByte('\n')
	s.count++
	if s.count >= s3BatchSize {
		return s.flush()
	}
	return nil
}

func (s *S3Sink) flush() error {
	if s.count == 0 {
		return nil
	}
	key := fmt.Sprintf("%s/part-%05d.jsonl", s.prefix, s.part)
	_, err := s.client.PutObject(context.Background(), &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(s.buf.Bytes()),
	})
	if err != nil {
		return fmt.Errorf("uploading trace part %s: %w", key, err)
	}
	s.part++
	s.count = 0
	s.buf.Reset()
	return nil
}

// Close envia o lote restante.
func (s *S3Sink) Close() error {
	return s.flush()
}
