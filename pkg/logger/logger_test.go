package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupWriterJSON(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	var buf bytes.Buffer
	lvl := SetupWriter(&buf, "WARN", true)
	assert.Equal(t, zerolog.WarnLevel, lvl)

	log.Info().Msg("hidden")
	log.Warn().Uint64("order_id", 7).Msg("shown")

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "shown", line["message"])
	assert.Equal(t, "twap-core", line["service"])
	assert.EqualValues(t, 7, line["order_id"])
}

func TestSetupWriterBadLevel(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)
	var buf bytes.Buffer
	assert.Equal(t, zerolog.InfoLevel, SetupWriter(&buf, "loud", false))
}
