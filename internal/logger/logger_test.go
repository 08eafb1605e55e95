package logger_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/notification-delivery/internal/logger"
)

func restoreGlobalLevel(t *testing.T) {
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() {
		zerolog.SetGlobalLevel(prev)
	})
}

func TestNewSetsGlobalLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"":         zerolog.InfoLevel,
		"debug":    zerolog.DebugLevel,
		"Warn":     zerolog.WarnLevel,
		"ERROR":    zerolog.ErrorLevel,
		"disabled": zerolog.Disabled,
	}

	for input, want := range cases {
		input := input
		want := want
		t.Run("level_"+input, func(t *testing.T) {
			restoreGlobalLevel(t)

			var buf bytes.Buffer
			_, err := logger.New("notifier", "production", input, &buf)
			require.NoError(t, err)
			assert.Equal(t, want, zerolog.GlobalLevel())
		})
	}
}

func TestNewInvalidLevel(t *testing.T) {
	restoreGlobalLevel(t)

	_, err := logger.New("notifier", "production", "not-a-level")
	assert.Error(t, err)
}

func TestComponentLoggerCarriesServiceAndComponent(t *testing.T) {
	restoreGlobalLevel(t)

	var buf bytes.Buffer
	base, err := logger.New("notifier", "production", "info", &buf)
	require.NoError(t, err)

	component := logger.Component(base, "delivery")
	component.Info().Msg("hello")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "notifier", record[logger.ServiceField])
	assert.Equal(t, "delivery", record["component"])
	assert.Equal(t, "hello", record["message"])
}
