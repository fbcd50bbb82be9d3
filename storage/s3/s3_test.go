package s3

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInputSourceValidate(t *testing.T) {
	assert.NoError(t, InputSource{Bucket: "b", Key: "k"}.Validate())
	assert.Error(t, InputSource{Key: "k"}.Validate())
	assert.Error(t, InputSource{Bucket: "b"}.Validate())
}

func TestSanitizeKey(t *testing.T) {
	assert.Equal(t, "inputs/", sanitizeKey("inputs/*"))
	assert.Equal(t, "inputs/file.txt", sanitizeKey("  inputs/file.txt  "))
}
