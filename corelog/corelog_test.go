package corelog

import (
	"bytes"
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestNewSetsLevelAndFormatter(t *testing.T) {
	logger := New(Config{Level: LevelDebug, Format: "json"})
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	_, ok := logger.Formatter.(*logrus.JSONFormatter)
	assert.True(t, ok)
}

func TestOutputSplitterWritesInfoLine(t *testing.T) {
	s := &OutputSplitter{}
	n, err := s.Write([]byte(`level=info msg="hello"`))
	assert.NoError(t, err)
	assert.Greater(t, n, 0)
}

func TestFromContextCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	base := logrus.New()
	base.SetOutput(&buf)
	base.SetFormatter(&logrus.JSONFormatter{})

	ctx := WithDeqID(context.Background(), 42)
	ctx = WithAction(ctx, "audit-sink")

	FromContext(ctx, base).Info("processed batch")

	out := buf.String()
	assert.Contains(t, out, `"deq_id":42`)
	assert.Contains(t, out, `"action":"audit-sink"`)
}
