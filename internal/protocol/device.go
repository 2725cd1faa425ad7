package protocol

import (
	"encoding/json"
	"fmt"
)

// DeviceResponse is the text JSON message sent to a capture device when its
// pairing state changes. The wire shape keeps the variant-named encoding the
// embedded client expects: {"Connected":{"user_id":"…"}} or "Disconnected".
type DeviceResponse struct {
	// UserID is set only when the response announces a pairing.
	UserID    UserID
	connected bool
}

// DeviceConnected builds the response announcing a new pairing.
func DeviceConnected(userID UserID) DeviceResponse {
	return DeviceResponse{UserID: userID, connected: true}
}

// DeviceDisconnected builds the response announcing the pairing ended.
func DeviceDisconnected() DeviceResponse {
	return DeviceResponse{}
}

// Connected reports whether this response announces a pairing.
func (r DeviceResponse) Connected() bool { return r.connected }

type deviceConnectedPayload struct {
	UserID UserID `json:"user_id"`
}

func (r DeviceResponse) MarshalJSON() ([]byte, error) {
	if r.connected {
		return json.Marshal(map[string]deviceConnectedPayload{
			"Connected": {UserID: r.UserID},
		})
	}
	return json.Marshal("Disconnected")
}

func (r *DeviceResponse) UnmarshalJSON(data []byte) error {
	var variant string
	if err := json.Unmarshal(data, &variant); err == nil {
		if variant != "Disconnected" {
			return fmt.Errorf("unknown device response variant: %q", variant)
		}
		*r = DeviceDisconnected()
		return nil
	}

	var tagged map[string]deviceConnectedPayload
	if err := json.Unmarshal(data, &tagged); err != nil {
		return fmt.Errorf("malformed device response: %w", err)
	}
	payload, ok := tagged["Connected"]
	if !ok || len(tagged) != 1 {
		return fmt.Errorf("unknown device response shape")
	}
	*r = DeviceConnected(payload.UserID)
	return nil
}
