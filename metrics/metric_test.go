package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTimer(t *testing.T) {
	before := testutil.ToFloat64(OperationErrors.WithLabelValues("test", "op"))
	StartTimer("test", "op").Done(nil)
	StartTimer("test", "op").Done(errors.New("boom"))
	require.Equal(t, before+1, testutil.ToFloat64(OperationErrors.WithLabelValues("test", "op")))
	require.GreaterOrEqual(t, testutil.CollectAndCount(OperationDuration), 1)
}
