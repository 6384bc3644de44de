package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewIDPrefixes(t *testing.T) {
	id := NewID("cmt")
	assert.True(t, strings.HasPrefix(id, "cmt_"))
	assert.Len(t, id, len("cmt_")+27)
	assert.NotEqual(t, id, NewID("cmt"))
	assert.Len(t, NewID(""), 27)
}
