package store

import (
	"context"
	"database/sql/driver"
	"regexp"
	"strings"
	"time"

	"github.com/ngrok/sqlmw"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	opRegex     = regexp.MustCompile(`^\s*(\w+)`)
	dbOpLatency *prometheus.HistogramVec
	dbOpTotal   *prometheus.CounterVec
)

// metricInterceptor times the driver calls issued by gorm.
type metricInterceptor struct {
	sqlmw.NullInterceptor
}

func init() {
	dbOpLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:      "db_op_duration_milliseconds",
		Help:      "Time spent on a database operation",
		Subsystem: "rythmiq",
		Buckets:   []float64{5, 20, 100, 300, 1000, 5000},
	},
		[]string{"op", "method"},
	)
	dbOpTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:      "db_op_total",
		Help:      "Number of database operations",
		Subsystem: "rythmiq",
	},
		[]string{"op", "outcome"},
	)

	prometheus.MustRegister(dbOpLatency)
	prometheus.MustRegister(dbOpTotal)
}

func (mi *metricInterceptor) ConnBeginTx(ctx context.Context, conn driver.ConnBeginTx, opts driver.TxOptions) (context.Context, driver.Tx, error) {
	start := time.Now()
	tx, err := conn.BeginTx(ctx, opts)
	mi.measure("begin", "begin", start, err)
	return ctx, tx, err
}

func (mi *metricInterceptor) ConnExecContext(ctx context.Context, conn driver.ExecerContext, query string, args []driver.NamedValue) (driver.Result, error) {
	start := time.Now()
	res, err := conn.ExecContext(ctx, query, args)
	mi.measure("exec", statement(query), start, err)
	return res, err
}

func (mi *metricInterceptor) ConnQueryContext(ctx context.Context, conn driver.QueryerContext, query string, args []driver.NamedValue) (context.Context, driver.Rows, error) {
	start := time.Now()
	rows, err := conn.QueryContext(ctx, query, args)
	mi.measure("query", statement(query), start, err)
	return ctx, rows, err
}

func (mi *metricInterceptor) StmtExecContext(ctx context.Context, conn driver.StmtExecContext, query string, args []driver.NamedValue) (driver.Result, error) {
	start := time.Now()
	res, err := conn.ExecContext(ctx, args)
	mi.measure("stmt-exec", statement(query), start, err)
	return res, err
}

func (mi *metricInterceptor) StmtQueryContext(ctx context.Context, conn driver.StmtQueryContext, query string, args []driver.NamedValue) (context.Context, driver.Rows, error) {
	start := time.Now()
	rows, err := conn.QueryContext(ctx, args)
	mi.measure("stmt-query", statement(query), start, err)
	return ctx, rows, err
}

func (mi *metricInterceptor) TxCommit(_ context.Context, tx driver.Tx) error {
	start := time.Now()
	err := tx.Commit()
	mi.measure("commit", "commit", start, err)
	return err
}

func (mi *metricInterceptor) TxRollback(_ context.Context, tx driver.Tx) error {
	start := time.Now()
	err := tx.Rollback()
	mi.measure("rollback", "rollback", start, err)
	return err
}

// statement returns the lower cased leading keyword of query.
func statement(query string) string {
	m := opRegex.FindStringSubmatch(query)
	if len(m) < 2 {
		return "unknown"
	}
	return strings.ToLower(m[1])
}

func (mi *metricInterceptor) measure(op, method string, start time.Time, err error) {
	outcome := "ok"
	if err != nil && err != driver.ErrSkip {
		outcome = "error"
	}
	dbOpTotal.With(prometheus.Labels{"op": op, "outcome": outcome}).Inc()
	dbOpLatency.With(prometheus.Labels{"op": op, "method": method}).Observe(float64(time.Since(start).Milliseconds()))
}
