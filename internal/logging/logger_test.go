package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: WARN, Component: "cache", Output: &buf})

	l.Info("should be dropped")
	assert.Empty(t, buf.String())

	l.Warn("should appear")
	assert.Contains(t, buf.String(), "should appear")
	assert.Contains(t, buf.String(), "[cache]")
}

func TestLogger_WithPrependsFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: DEBUG, Component: "cache", Output: &buf})
	child := l.With(String("cache_name", "objects-64"))

	child.Debug("created slab", Int("order", 2))

	line := buf.String()
	assert.True(t, strings.Contains(line, `cache_name="objects-64"`))
	assert.True(t, strings.Contains(line, "order=2"))
}
