package config

import "strings"

func (c *Config) normalize() {
	c.Queue.URL = strings.TrimSpace(c.Queue.URL)
	c.Queue.MessagesPerExecution = clampInt(c.Queue.MessagesPerExecution, 1, MaxMessagesPerExecution)
	c.Queue.LeaseSeconds = clampInt(c.Queue.LeaseSeconds, 30, MaxLeaseSeconds)

	c.normalizeStorage()

	c.Transcription.FilesPerJob = clampInt(c.Transcription.FilesPerJob, 1, MaxFilesPerJob)
	if strings.TrimSpace(c.Transcription.Locale) == "" {
		c.Transcription.Locale = DefaultLocale
	}

	c.Retry.Limit = clampInt(c.Retry.Limit, 1, MaxRetryLimit)
	c.Retry.InitialDelayMinutes = clampInt(c.Retry.InitialDelayMinutes, 0, MaxRetryDelayMinutes)
	c.Retry.MaxDelayMinutes = clampInt(c.Retry.MaxDelayMinutes, 0, MaxRetryDelayMinutes)

	c.normalizeEndpoints()
}

func (c *Config) normalizeStorage() {
	s := &c.Storage
	s.AudioInput = strings.TrimSpace(s.AudioInput)
	s.AudioProcessed = strings.TrimSpace(s.AudioProcessed)
	s.AudioFailed = strings.TrimSpace(s.AudioFailed)
	s.ErrorFiles = strings.TrimSpace(s.ErrorFiles)
	s.ErrorReports = strings.TrimSpace(s.ErrorReports)
	s.JSONResults = strings.TrimSpace(s.JSONResults)
	s.ProviderOutput = strings.TrimSpace(s.ProviderOutput)
	if s.ErrorFiles == "" {
		s.ErrorFiles = s.AudioFailed
	}
	s.PresignMinutes = clampInt(s.PresignMinutes, 1, MaxPresignMinutes)
}

func (c *Config) normalizeEndpoints() {
	for i := range c.Endpoints {
		ep := &c.Endpoints[i]
		ep.Region = strings.ToLower(strings.TrimSpace(ep.Region))
		ep.Role = strings.ToLower(strings.TrimSpace(ep.Role))
		if ep.Role == "" {
			ep.Role = RolePrimary
		}
		ep.Name = strings.TrimSpace(ep.Name)
		if ep.Name == "" {
			ep.Name = ep.Region
		}
		ep.Key = strings.TrimSpace(ep.Key)
		ep.ModelID = strings.TrimSpace(ep.ModelID)
		if ep.Key == "" && ep.KeyParam == "" {
			ep.KeyParam = DefaultKeyParamPrefix + ep.Name
		}
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
