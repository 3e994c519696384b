package session

import (
	"strings"
	"testing"

	"soundscape/pkg/types"
)

func TestAgeGroup(t *testing.T) {
	cases := []struct {
		age  int
		want string
	}{
		{0, "child"},
		{11, "child"},
		{12, "teenager"},
		{17, "teenager"},
		{18, "adult"},
		{70, "adult"},
	}
	for _, tc := range cases {
		if got := ageGroup(tc.age); got != tc.want {
			t.Errorf("ageGroup(%d) = %q, want %q", tc.age, got, tc.want)
		}
	}
}

func TestEmotionResponsePromptSceneSpecific(t *testing.T) {
	prompt := emotionResponsePrompt("happy", types.SceneCar, 8)
	if !strings.Contains(prompt, "child") {
		t.Errorf("expected car prompt to include the age group, got %q", prompt)
	}
	if !strings.Contains(prompt, "car") {
		t.Errorf("expected car context in prompt, got %q", prompt)
	}

	ktv := emotionResponsePrompt("excited", types.SceneKTV, 30)
	if !strings.Contains(ktv, "karaoke") {
		t.Errorf("expected karaoke context, got %q", ktv)
	}
}

func TestEmotionResponsePromptFallback(t *testing.T) {
	prompt := emotionResponsePrompt("melancholy", types.SceneKTV, 30)
	if !strings.Contains(prompt, "melancholy") {
		t.Errorf("expected fallback prompt to name the emotion, got %q", prompt)
	}

	// Unknown scene also falls back.
	other := emotionResponsePrompt("happy", types.SceneOther, 30)
	if !strings.Contains(other, "happy") {
		t.Errorf("expected fallback for unmapped scene, got %q", other)
	}
}

func TestStoryPromptFirstTurn(t *testing.T) {
	prompt := storyPrompt("story", []types.Participant{
		{ID: "alice", Name: "Alice", Age: 8, Role: "hero"},
		{ID: "u2", Age: 40},
	}, nil)

	if !strings.Contains(prompt, "Alice (age 8, hero)") {
		t.Errorf("expected roster entry with role, got %q", prompt)
	}
	// Nameless participants fall back to id, roleless to a generic label.
	if !strings.Contains(prompt, "u2 (age 40, participant)") {
		t.Errorf("expected fallback roster entry, got %q", prompt)
	}
	if !strings.Contains(prompt, "the story begins") {
		t.Errorf("expected first-turn plot marker, got %q", prompt)
	}
	if !strings.Contains(prompt, `"options"`) {
		t.Error("expected JSON shape instructions in prompt")
	}
}

func TestStoryPromptCarriesCurrentPlot(t *testing.T) {
	current := &types.Story{
		Scene:   "A foggy forest",
		Options: []types.StoryOption{{ID: 1, Text: "go left", Consequence: "lost"}},
		Emotion: "anxious",
	}
	prompt := storyPrompt("story", []types.Participant{{ID: "alice", Name: "Alice", Age: 8}}, current)

	if !strings.Contains(prompt, "A foggy forest") {
		t.Errorf("expected current plot in prompt, got %q", prompt)
	}
	if strings.Contains(prompt, "the story begins") {
		t.Error("expected no first-turn marker when a plot exists")
	}
}

func TestMusicMixPrompt(t *testing.T) {
	prompt := musicMixPrompt([]string{"happy", "calm"}, []types.Participant{
		{ID: "alice", Name: "Alice", Age: 8},
	}, "jazz")

	if !strings.Contains(prompt, "happy, calm") {
		t.Errorf("expected emotion list in prompt, got %q", prompt)
	}
	if !strings.Contains(prompt, "jazz") {
		t.Errorf("expected style in prompt, got %q", prompt)
	}
	if !strings.Contains(prompt, "Alice") {
		t.Errorf("expected participant info in prompt, got %q", prompt)
	}
	if !strings.Contains(prompt, `"bpm"`) {
		t.Error("expected JSON shape instructions in prompt")
	}
}
