package logger

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestLoggerCarriesFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: ParseLevel("debug"), Output: buf})

	log.WithField("run_id", "run-1").Info("merged %d tickets", 3)

	assert.Contains(t, buf.String(), `"run_id":"run-1"`)
	assert.Contains(t, buf.String(), `"message":"merged 3 tickets"`)
	assert.Contains(t, buf.String(), `"service":"test"`)
}

func TestLoggerLevelFilters(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{Level: ParseLevel("warn"), Output: buf})

	log.Info("hidden")
	log.Err(errors.New("boom"), "failed")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"error":"boom"`)
}

func TestParseLevelDefaults(t *testing.T) {
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("nonsense"))
	assert.Equal(t, zerolog.DebugLevel, ParseLevel(" DEBUG "))
}

func TestFromContext(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{Output: buf})
	ctx := log.IntoContext(context.Background())

	FromContext(ctx).Warn("from ctx")
	FromContext(context.Background()).Warn("dropped")

	assert.Contains(t, buf.String(), "from ctx")
	assert.NotContains(t, buf.String(), "dropped")
}
