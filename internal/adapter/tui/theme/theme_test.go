package theme

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"omni-agent/internal/domain"
)

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestPickGlyphs(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
		want Glyphs
	}{
		{"default", nil, fancyGlyphs},
		{"utf8 locale", map[string]string{"LANG": "en_US.UTF-8"}, fancyGlyphs},
		{"forced ascii", map[string]string{"OMNI_ASCII_SYMBOLS": "true", "LANG": "en_US.UTF-8"}, plainGlyphs},
		{"dumb terminal", map[string]string{"TERM": "dumb"}, plainGlyphs},
		{"posix locale", map[string]string{"LC_ALL": "C"}, plainGlyphs},
		{"latin1 locale", map[string]string{"LANG": "de_DE.ISO-8859-1"}, plainGlyphs},
		{"lc_all wins", map[string]string{"LC_ALL": "en_US.utf8", "LANG": "C"}, fancyGlyphs},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, pickGlyphs(env(tt.vars)))
		})
	}
}

func TestAgentName(t *testing.T) {
	assert.Equal(t, "Research", AgentName(domain.AgentResearch))
	assert.Equal(t, "Voice assistant", AgentName(domain.AgentVoiceAssistant))
	assert.Equal(t, "Documents", AgentName(domain.AgentRAG))
	assert.Equal(t, "", AgentName(""))
}

func TestAgentBadge(t *testing.T) {
	assert.Contains(t, AgentBadge("math"), "Math")
	assert.Contains(t, AgentBadge(""), "Omni")
	assert.Contains(t, AgentBadge("nobody"), "Omni")
}
