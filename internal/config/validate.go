package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable. Endpoint keys are not
// checked here; see MissingKeys.
func (c *Config) Validate() error {
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateEndpoints(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateStorage() error {
	s := c.Storage
	if s.AudioInput == "" {
		return errors.New("storage.audio_input must be set")
	}
	if s.ErrorReports == "" {
		return errors.New("storage.error_reports must be set")
	}
	if s.JSONResults == "" {
		return errors.New("storage.json_results must be set")
	}
	if !s.DeleteProcessedAudio {
		if s.AudioProcessed == "" {
			return errors.New("storage.audio_processed must be set unless delete_processed_audio is enabled")
		}
		if s.AudioFailed == "" {
			return errors.New("storage.audio_failed must be set unless delete_processed_audio is enabled")
		}
	}
	return nil
}

func (c *Config) validateEndpoints() error {
	if len(c.Endpoints) == 0 {
		return errors.New("at least one endpoint must be configured")
	}

	var primaries, fallbacks, weighted, totalWeight int
	seen := make(map[string]bool, len(c.Endpoints))
	for _, ep := range c.Endpoints {
		if ep.Region == "" {
			return fmt.Errorf("endpoint %q: region must be set", ep.Name)
		}
		if seen[ep.Name] {
			return fmt.Errorf("endpoint %q: duplicate name", ep.Name)
		}
		seen[ep.Name] = true

		switch ep.Role {
		case RolePrimary:
			primaries++
		case RoleFallback:
			fallbacks++
		case RoleWeighted:
			weighted++
			if ep.Weight < 0 || ep.Weight > 100 {
				return fmt.Errorf("endpoint %q: weight must be between 0 and 100", ep.Name)
			}
			totalWeight += ep.Weight
		default:
			return fmt.Errorf("endpoint %q: role must be primary, fallback, or weighted", ep.Name)
		}
	}

	if weighted > 0 && primaries+fallbacks > 0 {
		return errors.New("endpoints must use either weighted routing or primary/fallback routing, not both")
	}
	if weighted > 0 {
		if totalWeight > 100 {
			return fmt.Errorf("endpoint weights sum to %d, must not exceed 100", totalWeight)
		}
		return nil
	}
	if primaries != 1 {
		return fmt.Errorf("exactly one primary endpoint is required, found %d", primaries)
	}
	if fallbacks > 1 {
		return fmt.Errorf("at most one fallback endpoint is allowed, found %d", fallbacks)
	}
	return nil
}

// ValidateStorage checks only the storage section, for surfaces that never
// submit jobs.
func (c *Config) ValidateStorage() error {
	return c.validateStorage()
}
