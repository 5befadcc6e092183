package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/ety001/op-history-bridge/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertLevel(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, convertLevel("debug"))
	assert.Equal(t, logrus.WarnLevel, convertLevel("WARNING"))
	assert.Equal(t, logrus.ErrorLevel, convertLevel("error"))
	assert.Equal(t, logrus.InfoLevel, convertLevel("verbose"))
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(models.LogConfig{Level: "info", Format: "json"}, &buf)

	log.WithField("account", "1.2.17").Info("indexed")
	log.Debug("hidden")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "indexed", entry["msg"])
	assert.Equal(t, "1.2.17", entry["account"])
}
