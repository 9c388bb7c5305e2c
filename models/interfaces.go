package models

import "context"

// MarketDataSource is the abstract data provider capability the engine
// depends on. Any provider returning a date-indexed positive-price
// series satisfies it.
type MarketDataSource interface {
	FetchHistory(ctx context.Context, symbol string, lookbackDays int) (Series, error)
}

// ReportSink consumes a finished report. Rendering and delivery live
// entirely behind this boundary.
type ReportSink interface {
	Publish(ctx context.Context, report *Report) error
}
