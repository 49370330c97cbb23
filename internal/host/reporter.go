// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the Step-Sim License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package host

import (
	"log/slog"

	"golang.org/x/time/rate"
)

// Reporter emite linhas de progresso com taxa limitada (token bucket):
// quem reporta chama Report a cada marco e o limiter decide o que chega
// ao log — uma simulação com milhões de invocações não pode logar todas.
type Reporter struct {
	logger  *slog.Logger
	limiter *rate.Limiter
}

// NewReporter cria um reporter com no máximo perSec linhas por segundo.
func NewReporter(logger *slog.Logger, perSec float64) *Reporter {
	if perSec <= 0 {
		perSec = 1
	}
	return &Reporter{
		logger:  logger.With("component", "progress"),
		limiter: rate.NewLimiter(rate.Limit(perSec), 1),
	}
}

// Report loga o marco se o orçamento de taxa permitir.
func (r *Reporter) Report(msg string, args ...any) {
	if r == nil || !r.limiter.Allow() {
		return
	}
	r.logger.Info(msg, args...)
}
