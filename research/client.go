// Package research reads index membership, symbol history and factor
// returns from the research warehouse over its SQL Server gateway. All
// access is read-only.
package research

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"net/url"
	"time"

	_ "github.com/microsoft/go-mssqldb"

	"quantflow/config"
	"quantflow/logger"
	"quantflow/models"
)

// Warehouse is the slice of the research database the pipeline consumes.
type Warehouse interface {
	FetchMemberships(ctx context.Context) ([]models.MembershipInterval, error)
	FetchSymbolMappings(ctx context.Context) ([]models.SymbolMapping, error)
	FetchFactorReturns(ctx context.Context, start, end time.Time) ([]models.FactorRow, error)
}

// Client implements Warehouse against a live connection.
type Client struct {
	config config.ResearchConfig
	db     *sql.DB
	log    *logger.Log
}

// Connect opens and verifies a warehouse connection.
func Connect(cfg config.ResearchConfig, username, password string) (*Client, error) {
	connString := fmt.Sprintf("sqlserver://%s:%s@%s:%d?database=%s",
		url.QueryEscape(username), url.QueryEscape(password), cfg.Host, cfg.Port, url.QueryEscape(cfg.Database))

	db, err := sql.Open("sqlserver", connString)
	if err != nil {
		return nil, fmt.Errorf("failed to open research connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach research warehouse: %w", err)
	}

	log := logger.GetLogger()
	log.WithComponent("research").WithFields(logger.Fields{"host": cfg.Host, "database": cfg.Database}).Info("connected to research warehouse")
	return &Client{config: cfg, db: db, log: log}, nil
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.db.Close()
}

// FetchMemberships loads the raw index membership intervals. Open-ended
// memberships come back with a zero End time.
func (c *Client) FetchMemberships(ctx context.Context) ([]models.MembershipInterval, error) {
	query := fmt.Sprintf("SELECT permno, mbrstartdt, mbrenddt FROM %s", c.config.MembershipTable)
	c.log.WithComponent("research").WithFields(logger.Fields{"query": query}).Debug("querying membership intervals")

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query membership table %s: %w", c.config.MembershipTable, err)
	}
	defer rows.Close()

	var intervals []models.MembershipInterval
	for rows.Next() {
		var permno int
		var start time.Time
		var end sql.NullTime
		if err := rows.Scan(&permno, &start, &end); err != nil {
			return nil, fmt.Errorf("failed to scan membership row: %w", err)
		}
		interval := models.MembershipInterval{PermNo: permno, Start: start}
		if end.Valid {
			interval.End = end.Time
		}
		intervals = append(intervals, interval)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read membership rows: %w", err)
	}
	return intervals, nil
}

// FetchSymbolMappings loads the dated internal-key to symbol history.
// Rows without a symbol are kept so the resolver can fall back to the
// internal key.
func (c *Client) FetchSymbolMappings(ctx context.Context) ([]models.SymbolMapping, error) {
	query := fmt.Sprintf("SELECT permno, ticker, namedt, nameendt FROM %s", c.config.NamesTable)
	c.log.WithComponent("research").WithFields(logger.Fields{"query": query}).Debug("querying symbol mappings")

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query names table %s: %w", c.config.NamesTable, err)
	}
	defer rows.Close()

	var mappings []models.SymbolMapping
	for rows.Next() {
		var permno int
		var ticker sql.NullString
		var from time.Time
		var to sql.NullTime
		if err := rows.Scan(&permno, &ticker, &from, &to); err != nil {
			return nil, fmt.Errorf("failed to scan symbol mapping row: %w", err)
		}
		mapping := models.SymbolMapping{PermNo: permno, ValidFrom: from}
		if ticker.Valid {
			mapping.Symbol = models.NormalizeSymbol(ticker.String)
		}
		if to.Valid {
			mapping.ValidTo = to.Time
		}
		mappings = append(mappings, mapping)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read symbol mapping rows: %w", err)
	}
	return mappings, nil
}

// FetchFactorReturns loads daily factor returns for the window. Missing
// factor columns come back as NaN.
func (c *Client) FetchFactorReturns(ctx context.Context, start, end time.Time) ([]models.FactorRow, error) {
	query := fmt.Sprintf("SELECT date, mktrf, smb, hml, rmw, cma, rf, umd FROM %s WHERE date >= @start AND date <= @end ORDER BY date", c.config.FactorsTable)
	c.log.WithComponent("research").WithFields(logger.Fields{"query": query}).Debug("querying factor returns")

	rows, err := c.db.QueryContext(ctx, query, sql.Named("start", start), sql.Named("end", end))
	if err != nil {
		return nil, fmt.Errorf("failed to query factors table %s: %w", c.config.FactorsTable, err)
	}
	defer rows.Close()

	var factors []models.FactorRow
	for rows.Next() {
		var day time.Time
		cols := make([]sql.NullFloat64, 7)
		if err := rows.Scan(&day, &cols[0], &cols[1], &cols[2], &cols[3], &cols[4], &cols[5], &cols[6]); err != nil {
			return nil, fmt.Errorf("failed to scan factor row: %w", err)
		}
		factors = append(factors, models.FactorRow{
			Date:  day.Format("2006-01-02"),
			MktRF: nullableFloat(cols[0]),
			SMB:   nullableFloat(cols[1]),
			HML:   nullableFloat(cols[2]),
			RMW:   nullableFloat(cols[3]),
			CMA:   nullableFloat(cols[4]),
			RF:    nullableFloat(cols[5]),
			UMD:   nullableFloat(cols[6]),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read factor rows: %w", err)
	}
	return factors, nil
}

func nullableFloat(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
