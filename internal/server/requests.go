package server

// Request types for WebSocket commands with validation tags.
// These types define the expected input for each command and use
// go-playground/validator struct tags for automatic validation.

// --- Capture settings ---

// SettingsUpdateRequest is the request body for settings/update.
// Nil fields are left unchanged.
type SettingsUpdateRequest struct {
	Microphone    *string `json:"microphone" validate:"omitempty,max=256"`
	MixMicrophone *bool   `json:"mix_mic_with_screen_audio"`
	FrameRate     *int    `json:"frame_rate" validate:"omitempty,gte=1,lte=120"`
}

// --- Event log ---

// EventsListRequest is the request body for events/list.
type EventsListRequest struct {
	Limit  int    `json:"limit" validate:"omitempty,gte=1,lte=100"`
	Offset int    `json:"offset" validate:"omitempty,gte=0"`
	Filter string `json:"filter" validate:"omitempty,oneof=session recording"`
}
