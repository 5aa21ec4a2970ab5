package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	out := String("worker")
	lines := strings.Split(out, "\n")
	assert.Len(t, lines, 4)
	assert.Equal(t, "worker "+Version, lines[0])
	assert.Contains(t, out, GitCommit)
	assert.Contains(t, out, GoVersion())
}
