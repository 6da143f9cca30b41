package postgres

import (
	"testing"
	"time"

	"github.com/arkova/substrate/internal/entities"
	"github.com/cockroachdb/errors"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestRangesClause_Empty(t *testing.T) {
	clause, args, next := rangesClause("created_at", nil, 3)
	assert.Empty(t, clause)
	assert.Empty(t, args)
	assert.Equal(t, 3, next)
}

func TestRangesClause_ORCombined(t *testing.T) {
	from1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to1 := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	from2 := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	clause, args, next := rangesClause("performed_at", []entities.TimeRange{
		{From: from1, To: to1},
		{From: from2},
	}, 1)

	assert.Equal(t, " AND ((performed_at >= $1 AND performed_at < $2) OR performed_at >= $3)", clause)
	assert.Equal(t, []interface{}{from1, to1, from2}, args)
	assert.Equal(t, 4, next)
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(&pq.Error{Code: "23505"}))
	assert.True(t, isUniqueViolation(errors.Wrap(&pq.Error{Code: "23505"}, "insert failed")))
	assert.False(t, isUniqueViolation(&pq.Error{Code: "23503"}))
	assert.False(t, isUniqueViolation(errors.New("plain")))
}
