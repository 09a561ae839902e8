package usecase

import (
	"context"
	"fmt"

	"FinTrain/internal/domain/models"
	domrepo "FinTrain/internal/domain/repository"
)

// CandlesUseCase provides business logic for inspecting raw training data.
type CandlesUseCase struct {
	source domrepo.CandleSource
}

func NewCandlesUseCase(source domrepo.CandleSource) *CandlesUseCase {
	return &CandlesUseCase{source: source}
}

type GetCandlesParams struct {
	Symbol string
	N      int
}

type GetCandlesResult struct {
	Symbol  string
	Count   int
	Candles []models.Candle
}

// GetLatest returns the newest N bars for an instrument, oldest first.
func (uc *CandlesUseCase) GetLatest(ctx context.Context, p GetCandlesParams) (*GetCandlesResult, error) {
	if p.Symbol == "" {
		return nil, fmt.Errorf("symbol required")
	}
	if p.N <= 0 {
		p.N = 120
	}
	if p.N > 5000 {
		p.N = 5000
	}

	candles, err := uc.source.GetLatestNCandles(ctx, p.Symbol, p.N)
	if err != nil {
		return nil, fmt.Errorf("get candles: %w", err)
	}

	return &GetCandlesResult{
		Symbol:  p.Symbol,
		Count:   len(candles),
		Candles: candles,
	}, nil
}
