package types

import "regexp"

var userIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// IsValidUserID checks the stable external user identifier. Identity is
// established once at handshake; everything downstream trusts this format.
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 64 {
		return false
	}
	return userIDRegex.MatchString(userID)
}

// IsValidStatus checks a client presence status value.
func IsValidStatus(status string) bool {
	switch status {
	case StatusOnline, StatusAway, StatusBusy, StatusOffline:
		return true
	default:
		return false
	}
}

// IsValidNotificationType checks a notification severity tag.
func IsValidNotificationType(t string) bool {
	switch t {
	case "info", "warning", "success", "error":
		return true
	default:
		return false
	}
}

// NormalizeScene maps a caller-supplied scene tag onto the known scene set.
func NormalizeScene(scene string) string {
	switch scene {
	case SceneCar, SceneKTV, SceneStory:
		return scene
	default:
		return SceneOther
	}
}
