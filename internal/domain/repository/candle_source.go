package repository

import (
	"context"
	"time"

	"FinTrain/internal/domain/models"
)

// CandleSource provides read-only access to OHLCV history for training.
// Bars come back ordered by bucket ascending.
type CandleSource interface {
	GetCandles(ctx context.Context, symbol string, from, to time.Time) ([]models.Candle, error)
	GetLatestNCandles(ctx context.Context, symbol string, n int) ([]models.Candle, error)
}
