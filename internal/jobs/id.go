package jobs

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/rs/zerolog/log"
)

// NewRunID creates a random identifier for one orchestrator invocation.
// It is stamped on every job record and log line of the run so a batch of
// jobs can be traced back to the invocation that submitted it.
func NewRunID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		log.Fatal().Err(err).Msg("Failed to generate run ID")
	}
	return "run-" + hex.EncodeToString(b)
}
