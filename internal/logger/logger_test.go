package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"lightengine/internal/config"
)

func TestNewLoggerLevel(t *testing.T) {
	log, err := NewLogger(config.LogConf{Level: "warn"})
	require.NoError(t, err)
	require.Equal(t, "warning", log.GetLevel())

	_, err = NewLogger(config.LogConf{Level: "loud"})
	require.Error(t, err)
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	log, err := newLogger(config.LogConf{Level: "info", Format: "json"}, &buf)
	require.NoError(t, err)

	log.With(Fields{"module": "dmx"}).Info("universe sent")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "dmx", entry["module"])
	require.Equal(t, "universe sent", entry["msg"])
}

func TestWithKeepsFields(t *testing.T) {
	l, hook := test.NewNullLogger()
	log := Wrap(l).With(Fields{"module": "engine"}).With(Fields{"pass": 3})

	log.Warn("slow pass")

	require.Len(t, hook.Entries, 1)
	require.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	require.Equal(t, "engine", hook.LastEntry().Data["module"])
	require.Equal(t, 3, hook.LastEntry().Data["pass"])
}
