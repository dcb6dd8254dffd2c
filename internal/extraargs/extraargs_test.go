package extraargs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpand(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{
			name: "empty",
			raw:  "",
			want: nil,
		},
		{
			name: "flag and value are folded into one flag=value token",
			raw:  "--uuid,proj-123",
			want: []string{"--uuid=proj-123"},
		},
		{
			name: "trims whitespace around tokens before folding",
			raw:  " --uuid , proj-123 ",
			want: []string{"--uuid=proj-123"},
		},
		{
			name: "boolean flag with no value stays unfolded",
			raw:  "--skip-key,--encrypt-only",
			want: []string{"--skip-key", "--encrypt-only"},
		},
		{
			name: "a value-taking flag followed by another flag is not folded",
			raw:  "--uuid,--skip-key",
			want: []string{"--uuid", "--skip-key"},
		},
		{
			name: "equals form passes through as one token",
			raw:  "--uuid=proj-123",
			want: []string{"--uuid=proj-123"},
		},
		{
			name: "drops empty tokens from doubled commas before folding",
			raw:  "--uuid,,proj-123",
			want: []string{"--uuid=proj-123"},
		},
		{
			name: "shorthand flag folds like its long form",
			raw:  "-j,tokenvalue",
			want: []string{"-j=tokenvalue"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Expand(tt.raw))
		})
	}
}

func TestExpectsValue(t *testing.T) {
	assert.True(t, ExpectsValue("--uuid"))
	assert.True(t, ExpectsValue("-j"))
	assert.True(t, ExpectsValue("--uuid=proj-123"))
	assert.False(t, ExpectsValue("--skip-key"))
	assert.False(t, ExpectsValue("--encrypt-only"))
	assert.False(t, ExpectsValue("--unknown-flag"))
}
