package warehouse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/salasdw/peoplesync/internal/etl"
)

func TestColumnTypeInference(t *testing.T) {
	tab := etl.NewTable("s", "i", "f", "b", "ts", "lazy", "empty")
	tab.Append(etl.Row{
		"s": "x", "i": int64(1), "f": 1.5, "b": true,
		"ts": time.Now(), "lazy": nil, "empty": nil,
	})
	// The first non-nil value decides, even when earlier rows are nil.
	tab.Append(etl.Row{"lazy": int64(2)})

	assert.Equal(t, "TEXT", columnType(tab, "s"))
	assert.Equal(t, "BIGINT", columnType(tab, "i"))
	assert.Equal(t, "DOUBLE PRECISION", columnType(tab, "f"))
	assert.Equal(t, "BOOLEAN", columnType(tab, "b"))
	assert.Equal(t, "TIMESTAMPTZ", columnType(tab, "ts"))
	assert.Equal(t, "BIGINT", columnType(tab, "lazy"))
	assert.Equal(t, "TEXT", columnType(tab, "empty"))
}
