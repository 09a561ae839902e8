package collect

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"FinTrain/internal/domain/models"

	"github.com/parquet-go/parquet-go"
)

// AuditWriter persists the raw collected series for later inspection.
// The write is a side effect of collection, not part of its contract.
type AuditWriter interface {
	Write(series models.MarketSeries) (string, error)
	Extension() string
}

// NewAuditWriter returns the writer for a format (csv, parquet).
// Unknown formats fall back to CSV.
func NewAuditWriter(dataDir, format string) AuditWriter {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "parquet":
		return &ParquetAudit{dir: dataDir}
	default:
		return &CSVAudit{dir: dataDir}
	}
}

// auditPath builds data_dir/{symbol}_raw_{YYYYMMDD}.{ext}.
func auditPath(dir, symbol, ext string) string {
	name := fmt.Sprintf("%s_raw_%s.%s", symbol, time.Now().Format("20060102"), ext)
	return filepath.Join(dir, name)
}

// CSVAudit writes one bar per line with a header row.
type CSVAudit struct {
	dir string
}

func (a *CSVAudit) Extension() string { return "csv" }

func (a *CSVAudit) Write(series models.MarketSeries) (string, error) {
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return "", err
	}
	path := auditPath(a.dir, series.Symbol, a.Extension())

	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"date", "open", "high", "low", "close", "volume"}); err != nil {
		return "", err
	}
	for _, c := range series.Candles {
		rec := []string{
			c.Bucket.UTC().Format(time.RFC3339),
			strconv.FormatFloat(c.Open, 'f', -1, 64),
			strconv.FormatFloat(c.High, 'f', -1, 64),
			strconv.FormatFloat(c.Low, 'f', -1, 64),
			strconv.FormatFloat(c.Close, 'f', -1, 64),
			strconv.FormatFloat(c.Volume, 'f', -1, 64),
		}
		if err := w.Write(rec); err != nil {
			return "", err
		}
	}
	w.Flush()
	return path, w.Error()
}

// auditBar is the parquet row shape for an archived bar.
type auditBar struct {
	Timestamp int64   `parquet:"t"`
	Open      float64 `parquet:"o"`
	High      float64 `parquet:"h"`
	Low       float64 `parquet:"l"`
	Close     float64 `parquet:"c"`
	Volume    float64 `parquet:"v"`
}

// ParquetAudit writes the series as a single parquet file.
type ParquetAudit struct {
	dir string
}

func (a *ParquetAudit) Extension() string { return "parquet" }

func (a *ParquetAudit) Write(series models.MarketSeries) (string, error) {
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return "", err
	}
	path := auditPath(a.dir, series.Symbol, a.Extension())

	bars := make([]auditBar, len(series.Candles))
	for i, c := range series.Candles {
		bars[i] = auditBar{
			Timestamp: c.Bucket.UTC().UnixMilli(),
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
			Volume:    c.Volume,
		}
	}
	if err := parquet.WriteFile(path, bars); err != nil {
		return "", err
	}
	return path, nil
}
