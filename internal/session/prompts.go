package session

import (
	"encoding/json"
	"fmt"
	"strings"

	"soundscape/pkg/types"
)

// Prompt selection is a deterministic lookup keyed by scene and emotion,
// with a generic fallback for unmapped combinations.
var emotionPrompts = map[string]map[string]string{
	types.SceneCar: {
		"happy":   "As an AI travel companion for a %s, the user is in a great mood in the car. Respond with a warm, cheerful tone; share fun topics or suggest upbeat music.",
		"sad":     "As an AI emotional companion for a %s, the user is feeling down in the car. Respond gently and supportively, offer comfort, and consider suggesting healing music or an encouraging story.",
		"anxious": "As an AI safety companion for a %s, the user feels anxious while driving. Respond in a calm, soothing tone, suggest relaxing music, and remind them to drive safely.",
		"angry":   "As an AI calming companion for a %s, the user is agitated in the car. Respond in a level, rational tone, help them cool down, and suggest a rest stop or soothing music.",
	},
	types.SceneKTV: {
		"happy":   "As the karaoke room's AI host, everyone is having a great time. Recommend popular, upbeat songs and encourage the group to sing along together.",
		"excited": "As the karaoke room's AI DJ, the energy is high. Recommend high-tempo tracks and suggest turning on party effects to keep the momentum going.",
		"sad":     "As the karaoke room's AI confidant, someone is feeling low. Recommend lyrical, healing songs and offer emotional support; let the music help them express themselves.",
		"calm":    "As the karaoke room's AI music advisor, the mood is mellow. Recommend classic, gentle songs suited to relaxed group listening.",
	},
	types.SceneStory: {
		"happy":   "As the AI storyteller, the participants are in a cheerful mood. Create a light, adventurous plot full of surprises and fun.",
		"anxious": "As the AI story guide, the participants are a little tense. Create a suspenseful but not frightening plot; a touch of tension keeps everyone engaged.",
		"excited": "As the AI plot master, the participants are thrilled. Create a story with rising stakes and twists that satisfies their appetite for adventure.",
	},
}

func ageGroup(age int) string {
	switch {
	case age < 12:
		return "child"
	case age < 18:
		return "teenager"
	default:
		return "adult"
	}
}

// emotionResponsePrompt builds the system prompt for a conversational reply
// to one participant's emotion reading.
func emotionResponsePrompt(emotion, scene string, age int) string {
	if scenePrompts, ok := emotionPrompts[scene]; ok {
		if prompt, ok := scenePrompts[emotion]; ok {
			if strings.Contains(prompt, "%s") {
				return fmt.Sprintf(prompt, ageGroup(age))
			}
			return prompt
		}
	}
	return fmt.Sprintf("As an AI companion, respond appropriately to the user's %s mood.", emotion)
}

// storyPrompt builds the continuation prompt for one story turn from the
// scene, the full participant roster, and the current plot snapshot.
func storyPrompt(scene string, participants []types.Participant, current *types.Story) string {
	roster := make([]string, 0, len(participants))
	for _, p := range participants {
		role := p.Role
		if role == "" {
			role = "participant"
		}
		name := p.Name
		if name == "" {
			name = p.ID
		}
		roster = append(roster, fmt.Sprintf("%s (age %d, %s)", name, p.Age, role))
	}

	plot := "the story begins"
	if current != nil {
		if data, err := json.Marshal(current); err == nil {
			plot = string(data)
		}
	}

	return fmt.Sprintf(`You are a master of interactive storytelling.

Participants: %s
Scene: %s
Current plot: %s

Write the next story segment. Requirements:
1. The plot must be engaging and fun.
2. Give every participant a role and a task.
3. Offer 3-4 choices that decide where the story goes next.
4. Keep the language appropriate for the participants' ages.
5. Include a measured amount of suspense and twists.

Return JSON in this shape:
{
  "scene": "scene description (100-200 words)",
  "characters": {
    "character name": "current state and action"
  },
  "options": [
    {"id": 1, "text": "option 1", "consequence": "possible outcome"},
    {"id": 2, "text": "option 2", "consequence": "possible outcome"}
  ],
  "emotion": "suggested scene mood"
}`, strings.Join(roster, ", "), scene, plot)
}

// musicMixPrompt builds the mixing prompt from the recorded emotion
// snapshot. Participants without a recorded emotion contribute nothing.
func musicMixPrompt(emotions []string, participants []types.Participant, style string) string {
	roster, err := json.Marshal(participants)
	if err != nil {
		roster = []byte("[]")
	}

	return fmt.Sprintf(`As an AI music producer, create personalized music for a group scene.

Participant emotions: %s
Participant info: %s
Style preference: %s

Design a mixing plan and return JSON in this shape:
{
  "bpm": "suggested BPM (60-180)",
  "key": "suggested key",
  "instruments": ["instruments to use"],
  "structure": {
    "intro": "intro design",
    "verse": "verse design",
    "chorus": "chorus design",
    "outro": "outro design"
  },
  "effects": ["sound effects"],
  "personalTracks": {
    "participant name": "personalized track description"
  }
}`, strings.Join(emotions, ", "), roster, style)
}
