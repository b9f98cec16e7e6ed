package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMath(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(2, Min(2, 3))
	assert.Equal(3.5, Max(2.0, 3.5))
	assert.Equal(4, Abs(-4))
	assert.Equal(0, Clamp(-1, 0, 9))
	assert.Equal(9, Clamp(12, 0, 9))
	assert.Equal(5, Clamp(5, 0, 9))
}
