package clickhouse

import "fmt"

const (
	TableDailyBars    = "bars_1d"
	TableMinuteBars   = "bars_1m"
	TableFiveMinBars  = "bars_5m"
	TableFundamentals = "fundamentals"
	TableSymbolMeta   = "symbol_meta"
)

// Schema returns the DDL for the market data tables in database db.
// ReplacingMergeTree keeps re-ingested rows idempotent per key.
func Schema(db string) []string {
	bars := func(table, ts string) string {
		return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
    %s DateTime64(3, 'UTC'),
    symbol LowCardinality(String),
    open Float64,
    high Float64,
    low Float64,
    close Float64,
    adj_close Float64,
    volume Float64,
    ingested_at DateTime DEFAULT now()
) ENGINE = ReplacingMergeTree(ingested_at)
PARTITION BY toYYYYMM(%s)
ORDER BY (symbol, %s)`, db, table, ts, ts, ts)
	}
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", db),
		bars(TableDailyBars, "date"),
		bars(TableMinuteBars, "ts"),
		bars(TableFiveMinBars, "ts"),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
    date Date,
    symbol LowCardinality(String),
    net_income Nullable(Float64),
    total_assets Nullable(Float64),
    gross_profit Nullable(Float64),
    total_revenue Nullable(Float64),
    operating_cash_flow Nullable(Float64),
    shareholders_equity Nullable(Float64),
    ingested_at DateTime DEFAULT now()
) ENGINE = ReplacingMergeTree(ingested_at)
ORDER BY (symbol, date)`, db, TableFundamentals),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
    symbol String,
    sector LowCardinality(String),
    beta Float64,
    updated_at DateTime DEFAULT now()
) ENGINE = ReplacingMergeTree(updated_at)
ORDER BY symbol`, db, TableSymbolMeta),
	}
}
