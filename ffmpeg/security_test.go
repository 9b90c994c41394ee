package ffmpeg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitArgs(t *testing.T) {
	args, err := SplitArgs(`-vf "scale=1280:-1" -an`)
	assert.NoError(t, err)
	assert.Equal(t, []string{"-vf", "scale=1280:-1", "-an"}, args)

	_, err = SplitArgs(`-vf "unterminated`)
	assert.Error(t, err)
}

func TestValidateExtraArgs(t *testing.T) {
	t.Run("valid options", func(t *testing.T) {
		args, _ := SplitArgs(`-vf "scale=1280:-1" -an -crf 23 -metadata title=clip`)
		assert.NoError(t, ValidateExtraArgs(args))
	})

	t.Run("extra input rejected", func(t *testing.T) {
		args, _ := SplitArgs(`-i /etc/passwd`)
		err := ValidateExtraArgs(args)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "option not allowed: -i")
	})

	t.Run("extra output file rejected", func(t *testing.T) {
		args, _ := SplitArgs(`-an other.mp4`)
		err := ValidateExtraArgs(args)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "option not allowed: other.mp4")
	})

	t.Run("missing value", func(t *testing.T) {
		err := ValidateExtraArgs([]string{"-crf"})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "requires a value")
	})

	t.Run("disallowed character (semicolon)", func(t *testing.T) {
		err := ValidateExtraArgs([]string{"-an;"})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "disallowed character found in argument: -an;")
	})

	t.Run("disallowed character (dollar) in value", func(t *testing.T) {
		args, _ := SplitArgs(`-vf "crop=$(($RANDOM))"`)
		err := ValidateExtraArgs(args)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "disallowed character found in argument: crop=$(($RANDOM))")
	})
}

func TestParseExtraArgs(t *testing.T) {
	args, err := ParseExtraArgs("   ")
	require.NoError(t, err)
	assert.Nil(t, args)

	args, err = ParseExtraArgs("-an -b:v 2M")
	require.NoError(t, err)
	assert.Equal(t, []string{"-an", "-b:v", "2M"}, args)
}
