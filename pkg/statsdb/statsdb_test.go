package statsdb

import (
	"testing"

	"github.com/scanforge/yaracore/pkg/scanner"
	"github.com/stretchr/testify/require"
)

func sampleResult() *scanner.ScanResult {
	return &scanner.ScanResult{
		Results: []scanner.RuleResult{
			{
				RuleID:    "has_foo",
				Namespace: "default",
				Matched:   true,
				Strings: []scanner.StringHit{
					{Name: "$a", Offsets: []int64{0, 10}},
				},
			},
			{
				RuleID:    "has_bar",
				Namespace: "default",
				Matched:   false,
			},
		},
		Summary: scanner.ResultSummary{TotalRules: 2, MatchedRules: 1},
	}
}

func TestRecordScanAndQuery(t *testing.T) {
	db, err := Open(":memory:")
	require.NoError(t, err)
	defer db.Close()

	scanID, err := db.RecordScan("mem://sample", sampleResult())
	require.NoError(t, err)
	require.NotZero(t, scanID)

	ids, err := db.MatchedRuleIDsFor(scanID)
	require.NoError(t, err)
	require.Equal(t, []string{"has_foo"}, ids)
}

func TestRecordScanAborted(t *testing.T) {
	db, err := Open(":memory:")
	require.NoError(t, err)
	defer db.Close()

	result := sampleResult()
	result.Aborted = true

	_, err = db.RecordScan("mem://aborted", result)
	require.NoError(t, err)
}

func TestMatchedRuleIDsForUnknownScanIsEmpty(t *testing.T) {
	db, err := Open(":memory:")
	require.NoError(t, err)
	defer db.Close()

	ids, err := db.MatchedRuleIDsFor(9999)
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestOpenCreatesSchemaIdempotently(t *testing.T) {
	db, err := Open(":memory:")
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, createSchema(db.db))
}
