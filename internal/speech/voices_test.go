package speech

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greatstories/videocore/internal/models"
)

func testCatalog() Catalog {
	return Catalog{
		Voices: []VoiceInfo{
			{ID: "Narr", Name: "Narr", Gender: "male", Age: "young", Description: "清晰稳重"},
			{ID: "M1", Name: "M1", Gender: "male", Age: "middle", Description: "成熟威严"},
			{ID: "M2", Name: "M2", Gender: "male", Age: "young", Description: "活泼阳光"},
			{ID: "F1", Name: "F1", Gender: "female", Age: "young", Description: "温柔甜美"},
			{ID: "F2", Name: "F2", Gender: "female", Age: "young", Description: "冷静专业"},
		},
		NarratorVoice: "Narr",
	}
}

func TestSanitizeVoicesKeepsValidDistinct(t *testing.T) {
	catalog := testCatalog()
	characters := []models.Character{
		{Name: "甲", Importance: 9, VoiceID: "M1"},
		{Name: "乙", Importance: 5, VoiceID: "F1"},
	}

	out := SanitizeVoices(characters, catalog)

	assert.Equal(t, "M1", out[0].VoiceID)
	assert.Equal(t, "F1", out[1].VoiceID)
}

func TestSanitizeVoicesResolvesConflicts(t *testing.T) {
	catalog := testCatalog()
	characters := []models.Character{
		{Name: "甲", Importance: 9, VoiceID: "M1"},
		{Name: "乙", Importance: 5, VoiceID: "M1"},
		{Name: "丙", Importance: 3, VoiceID: "M1"},
	}

	out := SanitizeVoices(characters, catalog)

	seen := map[string]bool{}
	for _, c := range out {
		assert.False(t, seen[c.VoiceID], "no two characters may share a voice while the catalog has free ones")
		seen[c.VoiceID] = true
		assert.NotEqual(t, catalog.NarratorVoice, c.VoiceID, "the narrator voice is reserved")
	}
}

func TestSanitizeVoicesImportanceKeepsRequestedVoiceFirst(t *testing.T) {
	catalog := testCatalog()
	characters := []models.Character{
		{Name: "配角", Importance: 2, VoiceID: "M1"},
		{Name: "主角", Importance: 10, VoiceID: "M1"},
	}

	out := SanitizeVoices(characters, catalog)

	assert.Equal(t, "M1", out[1].VoiceID, "the higher-importance character keeps the contested voice")
	assert.NotEqual(t, "M1", out[0].VoiceID)
}

func TestSanitizeVoicesInvalidVoiceGetsRecommendation(t *testing.T) {
	catalog := testCatalog()
	characters := []models.Character{
		{Name: "女主", Role: "少女", Personality: "冷静", VoiceID: "nope"},
	}

	out := SanitizeVoices(characters, catalog)

	assert.True(t, catalog.Has(out[0].VoiceID))
	assert.NotEqual(t, catalog.NarratorVoice, out[0].VoiceID)
}

func TestSanitizeVoicesExhaustedCatalogFallsBackToNarrator(t *testing.T) {
	catalog := Catalog{
		Voices: []VoiceInfo{
			{ID: "Narr", Gender: "male"},
			{ID: "V1", Gender: "male"},
		},
		NarratorVoice: "Narr",
	}
	characters := []models.Character{
		{Name: "甲", Importance: 9},
		{Name: "乙", Importance: 5},
	}

	out := SanitizeVoices(characters, catalog)

	assert.Equal(t, "V1", out[0].VoiceID)
	assert.Equal(t, "Narr", out[1].VoiceID, "only catalog exhaustion hands out the narrator voice")
}

func TestRecommendVoiceHeuristics(t *testing.T) {
	catalog := testCatalog()

	assert.Equal(t, "F2", catalog.RecommendVoice("少女", "冷静理性"))
	assert.Equal(t, "F1", catalog.RecommendVoice("公主", "温柔"))
	assert.Equal(t, "M1", catalog.RecommendVoice("反派", ""))
	assert.Equal(t, "M2", catalog.RecommendVoice("少年", "热血"))
}

func TestLoadCatalogMissingFileFallsBack(t *testing.T) {
	catalog := LoadCatalog("/nonexistent/voices.json")

	require.NotEmpty(t, catalog.Voices)
	assert.NotEmpty(t, catalog.NarratorVoice)
}
