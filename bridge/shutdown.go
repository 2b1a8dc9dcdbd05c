package bridge

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/xiaoyuanzhu-com/gueridon/config"
	"github.com/xiaoyuanzhu-com/gueridon/log"
)

// LoadShutdownContext reads the previous graceful-shutdown record and
// deletes it, so its absence on the next startup means the bridge crashed.
// Returns nil when there is no record or it cannot be parsed.
func LoadShutdownContext() *ShutdownContext {
	path := config.Get().ShutdownFile()
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", path).Msg("failed to read shutdown context")
		}
		return nil
	}
	defer os.Remove(path)

	var ctx ShutdownContext
	if err := json.Unmarshal(data, &ctx); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("malformed shutdown context")
		return nil
	}
	log.Info().
		Str("signal", ctx.Signal).
		Time("timestamp", ctx.Timestamp).
		Int("activeTurns", len(ctx.ActiveTurnFolders)).
		Msg("loaded shutdown context from previous run")
	return &ctx
}

// WriteShutdownContext records a graceful shutdown for the next instance.
func WriteShutdownContext(ctx *ShutdownContext) error {
	path := config.Get().ShutdownFile()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(ctx, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
