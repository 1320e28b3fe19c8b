package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunRequiresPortAndWebRoot(t *testing.T) {
	assert.Equal(t, 2, run(nil))
	assert.Equal(t, 2, run([]string{"8080"}))
}

func TestRunRejectsNonNumericPort(t *testing.T) {
	assert.Equal(t, 2, run([]string{"not-a-port", t.TempDir()}))
}

func TestRunFailsOnMissingWebRoot(t *testing.T) {
	assert.Equal(t, 1, run([]string{"0", "/definitely/does/not/exist"}))
}
