package speech

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/greatstories/videocore/internal/models"
)

// VoiceInfo describes one catalog voice.
type VoiceInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Gender      string `json:"gender"`
	Age         string `json:"age"`
	Description string `json:"description"`
}

// Catalog is the fixed set of assignable voices plus the reserved narrator
// voice, loaded from the configured catalog file.
type Catalog struct {
	Voices        []VoiceInfo `json:"voices"`
	NarratorVoice string      `json:"narrator_voice"`
}

// builtinCatalog backs voice assignment when no catalog file is configured
// or the file is unreadable; voice assignment must never block a job.
var builtinCatalog = Catalog{
	Voices: []VoiceInfo{
		{ID: "Zephyr", Name: "Zephyr", Gender: "male", Age: "young", Description: "清晰稳重"},
		{ID: "Puck", Name: "Puck", Gender: "male", Age: "young", Description: "活泼阳光"},
		{ID: "Charon", Name: "Charon", Gender: "male", Age: "middle", Description: "成熟威严"},
		{ID: "Fenrir", Name: "Fenrir", Gender: "male", Age: "young", Description: "热血活力"},
		{ID: "Kore", Name: "Kore", Gender: "female", Age: "young", Description: "温柔甜美"},
		{ID: "Aoede", Name: "Aoede", Gender: "female", Age: "young", Description: "活泼可爱"},
		{ID: "Leda", Name: "Leda", Gender: "female", Age: "middle", Description: "优雅知性"},
		{ID: "Callirrhoe", Name: "Callirrhoe", Gender: "female", Age: "young", Description: "冷静专业"},
	},
	NarratorVoice: "Zephyr",
}

// LoadCatalog reads the voice catalog JSON file, falling back to the
// built-in catalog on any problem.
func LoadCatalog(path string) Catalog {
	if path == "" {
		return builtinCatalog
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return builtinCatalog
	}
	var c Catalog
	if err := json.Unmarshal(data, &c); err != nil || len(c.Voices) == 0 {
		return builtinCatalog
	}
	if c.NarratorVoice == "" {
		c.NarratorVoice = c.Voices[0].ID
	}
	return c
}

// IDs returns every catalog voice id in order.
func (c Catalog) IDs() []string {
	ids := make([]string, len(c.Voices))
	for i, v := range c.Voices {
		ids[i] = v.ID
	}
	return ids
}

// Has reports whether id is a catalog voice.
func (c Catalog) Has(id string) bool {
	for _, v := range c.Voices {
		if v.ID == id {
			return true
		}
	}
	return false
}

// RecommendVoice maps a character's role/personality text onto a catalog
// voice: female-coded roles get female voices split by temperament, elder
// and villain roles get the mature male voice, hot-blooded youths the
// bright one, everyone else the narrator-adjacent default.
func (c Catalog) RecommendVoice(role, personality string) string {
	content := role + " " + personality
	containsAny := func(words ...string) bool {
		for _, w := range words {
			if strings.Contains(content, w) {
				return true
			}
		}
		return false
	}
	pick := func(gender, age string, fallbackIdx int) string {
		for _, v := range c.Voices {
			if v.Gender == gender && (age == "" || v.Age == age) && v.ID != c.NarratorVoice {
				return v.ID
			}
		}
		if fallbackIdx < len(c.Voices) {
			return c.Voices[fallbackIdx].ID
		}
		return c.NarratorVoice
	}

	if containsAny("女", "少女", "公主", "女主") {
		if containsAny("活泼", "可爱", "俏皮", "活潑", "可愛") {
			return pickByDescription(c, "female", "活泼", "活潑")
		}
		if containsAny("冷", "理性", "专业", "專業") {
			return pickByDescription(c, "female", "冷静", "冷靜")
		}
		return pick("female", "", 0)
	}
	if containsAny("长者", "師父", "师父", "权威", "權威", "反派") {
		return pick("male", "middle", 0)
	}
	if containsAny("少年", "热血", "熱血", "活力") {
		return pickByDescription(c, "male", "活泼", "热血", "熱血", "活潑")
	}
	return pick("male", "young", 0)
}

func pickByDescription(c Catalog, gender string, hints ...string) string {
	for _, v := range c.Voices {
		if v.Gender != gender || v.ID == c.NarratorVoice {
			continue
		}
		for _, hint := range hints {
			if strings.Contains(v.Description, hint) {
				return v.ID
			}
		}
	}
	for _, v := range c.Voices {
		if v.Gender == gender && v.ID != c.NarratorVoice {
			return v.ID
		}
	}
	return c.NarratorVoice
}

// SanitizeVoices assigns each character a validated voice id before
// rendering begins. Highest-importance characters keep their requested
// voice first; conflicts resolve to a role/personality recommendation,
// then any free voice, then the narrator voice as last resort. The
// narrator voice is reserved and never handed to a character that did not
// already carry it through every other option being taken.
func SanitizeVoices(characters []models.Character, catalog Catalog) []models.Character {
	out := make([]models.Character, len(characters))
	copy(out, characters)
	if len(out) == 0 {
		return out
	}

	used := map[string]bool{catalog.NarratorVoice: true}

	order := make([]int, len(out))
	for i := range order {
		order[i] = i
	}
	for i := 0; i < len(order); i++ {
		for j := i + 1; j < len(order); j++ {
			if out[order[j]].Importance > out[order[i]].Importance {
				order[i], order[j] = order[j], order[i]
			}
		}
	}

	for _, idx := range order {
		current := strings.TrimSpace(out[idx].VoiceID)
		if current != "" && catalog.Has(current) && !used[current] {
			used[current] = true
			continue
		}

		recommended := catalog.RecommendVoice(out[idx].Role, out[idx].Personality)
		if recommended != "" && catalog.Has(recommended) && !used[recommended] {
			out[idx].VoiceID = recommended
			used[recommended] = true
			continue
		}

		assigned := false
		for _, id := range catalog.IDs() {
			if !used[id] {
				out[idx].VoiceID = id
				used[id] = true
				assigned = true
				break
			}
		}
		if assigned {
			continue
		}

		if current != "" && catalog.Has(current) {
			out[idx].VoiceID = current
		} else {
			out[idx].VoiceID = catalog.NarratorVoice
		}
	}

	return out
}
