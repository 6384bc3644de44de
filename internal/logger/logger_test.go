package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextFieldsAccumulate(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	Configure("debug", true)
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		Configure("info", false)
	})

	ctx := NewContextWithFields(context.Background(), logrus.Fields{"contract_id": "c-1"})
	ctx = NewContextWithFields(ctx, logrus.Fields{"comment_id": "cmt_1"})
	For(ctx).Debug("rendered")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "c-1", line["contract_id"])
	assert.Equal(t, "cmt_1", line["comment_id"])
	assert.Equal(t, "rendered", line["msg"])
}

func TestForWithoutContextUsesDefault(t *testing.T) {
	assert.NotNil(t, For(nil))
	assert.NotNil(t, For(context.Background()))
}

func TestConfigureUnknownLevelFallsBackToInfo(t *testing.T) {
	Configure("chatty", false)
	assert.Equal(t, logrus.InfoLevel, defaultLogger.GetLevel())
}
