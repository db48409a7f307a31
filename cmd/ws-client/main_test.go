package main

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/pv/telemetry-recorder/internal/session"
)

func TestDescribe(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)

	assert.False(t, describe(log, wsMessage{Type: "snapshot", Sessions: []session.Info{{Key: "s1", State: "live"}}}))
	assert.Contains(t, buf.String(), `"key":"s1"`)

	buf.Reset()
	assert.True(t, describe(log, wsMessage{Type: "event", Event: "ended", Key: "s1"}))
	assert.Contains(t, buf.String(), `"event":"ended"`)

	assert.False(t, describe(log, wsMessage{Type: "other"}))
}
