package mqtt

import (
	"encoding/json"
	"fmt"

	"github.com/AaronLay10/VisorEngine/internal/config"
)

// RegistrationPayload is a v1 controller announcement.
type RegistrationPayload struct {
	Version    int            `json:"version"`
	Controller ControllerInfo `json:"controller"`
}

// ControllerInfo describes the announcing controller.
type ControllerInfo struct {
	ID           string   `json:"id"`
	Type         string   `json:"type"`
	Firmware     string   `json:"firmware"`
	CommandTopic string   `json:"command_topic"`
	Signals      []string `json:"signals"`
}

// ParseRegistration decodes and sanity-checks an announcement.
func ParseRegistration(data []byte) (*RegistrationPayload, error) {
	var payload RegistrationPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("invalid registration JSON: %w", err)
	}

	if payload.Version != 1 {
		return nil, fmt.Errorf("unsupported registration version: %d", payload.Version)
	}

	if payload.Controller.ID == "" {
		return nil, fmt.Errorf("controller.id is required")
	}

	if payload.Controller.CommandTopic == "" {
		return nil, fmt.Errorf("controller %s: command_topic is required", payload.Controller.ID)
	}

	return &payload, nil
}

// ValidationResult is the outcome of checking an announcement against the
// controllers declared in configuration.
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// ValidateRegistration checks that a declared controller announces the type
// and signals configuration expects. Undeclared controllers are accepted
// with a warning.
func ValidateRegistration(payload *RegistrationPayload, declared map[string]config.ControllerConfig) *ValidationResult {
	result := &ValidationResult{Valid: true}
	info := payload.Controller

	want, ok := declared[info.ID]
	if !ok {
		result.Warnings = append(result.Warnings, fmt.Sprintf("undeclared controller: %s", info.ID))
		return result
	}

	if want.Type != "" && info.Type != want.Type {
		result.Errors = append(result.Errors, fmt.Sprintf("controller %s: type mismatch (expected %s, got %s)", info.ID, want.Type, info.Type))
		result.Valid = false
	}

	for _, sig := range want.Signals {
		if !containsString(info.Signals, sig) {
			result.Errors = append(result.Errors, fmt.Sprintf("controller %s: missing signal %s", info.ID, sig))
			result.Valid = false
		}
	}

	return result
}

// ToController converts the announcement to a registry entry.
func (p *RegistrationPayload) ToController() *Controller {
	return &Controller{
		ID:           p.Controller.ID,
		Type:         p.Controller.Type,
		Firmware:     p.Controller.Firmware,
		CommandTopic: p.Controller.CommandTopic,
		Signals:      append([]string{}, p.Controller.Signals...),
	}
}

func containsString(slice []string, val string) bool {
	for _, s := range slice {
		if s == val {
			return true
		}
	}
	return false
}
