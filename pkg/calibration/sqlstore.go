package calibration

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	// Local and shared calibration drivers.
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/Mindburn-Labs/dissonance/pkg/contracts"
)

// Supported database/sql driver names.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Aggregate is a released cross-org result. It carries hashed contributors
// only and is produced only above the k floor.
type Aggregate struct {
	RuleID   string
	OrgCount int
	MeanFPR  float64
	Samples  []Sample
}

// SQLStore persists per-org FPR aggregates and answers k-anonymous
// cross-org queries. The same code path serves the local sqlite file and a
// shared postgres instance.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// Open connects with the named driver and prepares the schema.
func Open(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, contracts.NewCodedError(contracts.CodeInvalidInput, "unknown calibration driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open calibration store: %w", err)
	}

	s := NewSQLStore(db, driver)
	if err := s.Init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStore wraps an existing connection; tests hand in a mock.
func NewSQLStore(db *sql.DB, driver string) *SQLStore {
	return &SQLStore{db: db, driver: driver}
}

// Init creates the aggregate table when missing.
func (s *SQLStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS fp_aggregates (
			rule_id      TEXT NOT NULL,
			org_hash     TEXT NOT NULL,
			window_start TIMESTAMP NOT NULL,
			fpr          DOUBLE PRECISION NOT NULL,
			sample_n     INTEGER NOT NULL,
			reputation   DOUBLE PRECISION NOT NULL DEFAULT 0,
			PRIMARY KEY (rule_id, org_hash, window_start)
		)`)
	if err != nil {
		return fmt.Errorf("init calibration schema: %w", err)
	}
	return nil
}

// RecordAggregate upserts one org's windowed FPR for a rule.
func (s *SQLStore) RecordAggregate(ctx context.Context, ruleID string, windowStart time.Time, sample Sample) error {
	if ruleID == "" || sample.OrgHash == "" {
		return contracts.NewCodedError(contracts.CodeInvalidInput, "rule id and org hash are required")
	}

	query := s.rebind(`
		INSERT INTO fp_aggregates (rule_id, org_hash, window_start, fpr, sample_n, reputation)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (rule_id, org_hash, window_start) DO UPDATE SET
			fpr = excluded.fpr,
			sample_n = excluded.sample_n,
			reputation = excluded.reputation`)

	_, err := s.db.ExecContext(ctx, query,
		ruleID, sample.OrgHash, windowStart.UTC(), sample.FPR, sample.SampleN, sample.Reputation)
	if err != nil {
		return fmt.Errorf("record aggregate for %s: %w", ruleID, err)
	}
	return nil
}

// AggregateFPR returns the cross-org mean FPR for a rule, refusing with
// K_ANONYMITY_NOT_MET when fewer than k distinct orgs contributed. The
// refusal carries the count only, never identities. filterByzantine drops
// the bottom-reputation fifth before averaging and flags MAD outliers.
func (s *SQLStore) AggregateFPR(ctx context.Context, ruleID string, k int, filterByzantine bool) (*Aggregate, error) {
	query := s.rebind(`
		SELECT org_hash, AVG(fpr), SUM(sample_n), MAX(reputation)
		FROM fp_aggregates
		WHERE rule_id = ?
		GROUP BY org_hash`)

	rows, err := s.db.QueryContext(ctx, query, ruleID)
	if err != nil {
		return nil, fmt.Errorf("query aggregates for %s: %w", ruleID, err)
	}
	defer func() { _ = rows.Close() }()

	var samples []Sample
	for rows.Next() {
		var sm Sample
		var sampleN int64
		if err := rows.Scan(&sm.OrgHash, &sm.FPR, &sampleN, &sm.Reputation); err != nil {
			return nil, fmt.Errorf("scan aggregate row: %w", err)
		}
		sm.SampleN = int(sampleN)
		samples = append(samples, sm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate aggregate rows: %w", err)
	}

	// The k floor is checked before any filtering: a filter must not be able
	// to push a quorum below k after the release decision.
	if len(samples) < k {
		return nil, contracts.NewCodedError(contracts.CodeKAnonymityNotMet,
			"aggregate requires %d distinct orgs", k).
			WithMeta("orgCount", len(samples))
	}

	if filterByzantine {
		samples = FilterByzantine(samples)
		samples = FlagOutliers(samples)
	}

	return &Aggregate{
		RuleID:   ruleID,
		OrgCount: len(samples),
		MeanFPR:  MeanFPR(samples),
		Samples:  samples,
	}, nil
}

// Stats condenses the cross-org aggregate for a rule into promotion
// evidence. It reports false when the store errors or the k floor is not
// met; callers fall back to the rule's default posture. Only the FPR window
// comes from the store, so a rule with no warn service record stays capped.
func (s *SQLStore) Stats(ctx context.Context, ruleID string, k int) (PromotionStats, bool) {
	agg, err := s.AggregateFPR(ctx, ruleID, k, true)
	if err != nil {
		return PromotionStats{}, false
	}

	window := 0
	for _, sm := range agg.Samples {
		window += sm.SampleN
	}
	return PromotionStats{
		WindowSize:  window,
		ObservedFPR: agg.MeanFPR,
	}, true
}

// Close releases the connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind converts ? placeholders to $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
