package tracing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripScheme(t *testing.T) {
	assert.Equal(t, "collector:4318", stripScheme("http://collector:4318"))
	assert.Equal(t, "collector:4318", stripScheme("https://collector:4318"))
	assert.Equal(t, "collector:4318", stripScheme("collector:4318"))
}
