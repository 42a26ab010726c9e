package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"a11yeval/internal/schema"
)

func TestCollectorRecordsInDeclarationOrder(t *testing.T) {
	c := NewCollector()
	c.Assert("first", func() CheckResult { return Bool(true) })
	c.Assert("second", func() CheckResult { return Bool(false) })
	c.Assert("third", func() CheckResult { return Bool(true) })

	recs := c.Records()
	require.Len(t, recs, 3)
	assert.Equal(t, "first", recs[0].Name)
	assert.Equal(t, "second", recs[1].Name)
	assert.Equal(t, "third", recs[2].Name)
	assert.Equal(t, schema.AssertionFail, recs[1].Status)
}

func TestCollectorDuplicateNamesBothAppear(t *testing.T) {
	c := NewCollector()
	c.Assert("focus restored", func() CheckResult { return Bool(true) })
	c.Assert("focus restored", func() CheckResult { return Bool(false) })

	recs := c.Records()
	require.Len(t, recs, 2)
	assert.Equal(t, schema.AssertionPass, recs[0].Status)
	assert.Equal(t, schema.AssertionFail, recs[1].Status)
}

func TestCollectorPanicBecomesLocalFailure(t *testing.T) {
	c := NewCollector()
	c.Assert("boom", func() CheckResult { panic("nil element") })
	c.Assert("after", func() CheckResult { return Bool(true) })

	recs := c.Records()
	require.Len(t, recs, 2, "a faulting assertion must not stop later ones")
	assert.Equal(t, schema.AssertionFail, recs[0].Status)
	assert.Contains(t, recs[0].Message, "nil element")
	assert.Equal(t, schema.AssertionPass, recs[1].Status)
}

func TestCollectorMessagePreservedOnPass(t *testing.T) {
	c := NewCollector()
	c.Assert("count", func() CheckResult {
		return CheckResult{Pass: true, Message: "found 3 landmarks"}
	})

	recs := c.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, schema.AssertionPass, recs[0].Status)
	assert.Equal(t, "found 3 landmarks", recs[0].Message)
}

func TestCollectorLevelNormalization(t *testing.T) {
	c := NewCollector()
	c.Assert("default", func() CheckResult { return Bool(true) })
	c.Assert("bp lower", func() CheckResult { return Bool(true) }, WithLevel("bp"))
	c.Assert("bp upper", func() CheckResult { return Bool(true) }, WithLevel("BP"))
	c.Assert("garbage", func() CheckResult { return Bool(true) }, WithLevel("nonsense"))

	recs := c.Records()
	assert.Equal(t, schema.LevelRequirement, recs[0].Level)
	assert.Equal(t, schema.LevelBestPractice, recs[1].Level)
	assert.Equal(t, schema.LevelBestPractice, recs[2].Level)
	assert.Equal(t, schema.LevelRequirement, recs[3].Level)
}

func TestFailf(t *testing.T) {
	res := Failf("expected %d dialogs, found %d", 1, 0)
	assert.False(t, res.Pass)
	assert.Equal(t, "expected 1 dialogs, found 0", res.Message)
}
