package attendance

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsPresent(t *testing.T) {
	for _, status := range []string{StatusPresent, StatusAutoPresent, StatusLate} {
		assert.True(t, IsPresent(status), status)
	}
	for _, status := range []string{StatusExcused, StatusSick, StatusAbsent, "bogus", ""} {
		assert.False(t, IsPresent(status), status)
	}
}

func TestValidManualStatus(t *testing.T) {
	for _, status := range []string{StatusPresent, StatusLate, StatusExcused, StatusSick, StatusAbsent} {
		assert.True(t, ValidManualStatus(status), status)
	}
	// auto_present is reserved for the trigger evaluator.
	assert.False(t, ValidManualStatus(StatusAutoPresent))
	assert.False(t, ValidManualStatus("bogus"))
}
