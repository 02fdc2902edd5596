package devices

import (
	"strings"

	"github.com/goliatone/go-walletsync/core"
)

// Upsert keeps at most one token per device: an existing entry for the device
// is replaced, a new device is appended.
func Upsert(tokens []core.DeviceToken, next core.DeviceToken) (out []core.DeviceToken, changed bool, created bool) {
	out = make([]core.DeviceToken, 0, len(tokens)+1)
	found := false
	for _, token := range tokens {
		if strings.TrimSpace(token.DeviceID) != next.DeviceID {
			out = append(out, token)
			continue
		}
		if found {
			changed = true
			continue
		}
		found = true
		if token.PushToken == next.PushToken {
			out = append(out, token)
			continue
		}
		out = append(out, next)
		changed = true
	}
	if !found {
		out = append(out, next)
		return out, true, true
	}
	return out, changed, false
}

func Remove(tokens []core.DeviceToken, deviceID string) ([]core.DeviceToken, bool) {
	out := make([]core.DeviceToken, 0, len(tokens))
	removed := false
	for _, token := range tokens {
		if strings.TrimSpace(token.DeviceID) == deviceID {
			removed = true
			continue
		}
		out = append(out, token)
	}
	return out, removed
}
