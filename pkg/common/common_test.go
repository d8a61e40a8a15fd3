package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSkillLevelOrder(t *testing.T) {
	assert.True(t, SkillBeginner < SkillIntermediate)
	assert.True(t, SkillIntermediate < SkillAdvanced)
	assert.True(t, SkillAdvanced < SkillProfessional)

	assert.True(t, SkillBeginner.Permits(SkillBeginner))
	assert.False(t, SkillBeginner.Permits(SkillAdvanced))
	assert.True(t, SkillProfessional.Permits(SkillAdvanced))
}

func TestParseSkillLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    SkillLevel
		wantErr bool
	}{
		{"beginner", SkillBeginner, false},
		{" Advanced ", SkillAdvanced, false},
		{"PROFESSIONAL", SkillProfessional, false},
		{"expert", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseSkillLevel(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestSkillLevelText(t *testing.T) {
	b, err := SkillIntermediate.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "intermediate", string(b))

	var l SkillLevel
	require.NoError(t, l.UnmarshalText([]byte("professional")))
	assert.Equal(t, SkillProfessional, l)

	_, err = SkillLevel(0).MarshalText()
	assert.Error(t, err)
}
