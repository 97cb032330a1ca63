// Package config loads construtor settings from the environment.
//
// Every field carries an env tag and a default suited to local runs, so
// an empty environment with LLM_PROVIDER=static yields a working
// configuration. Load parses and validates in one step:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    return err
//	}
//	logger.Info("listening", zap.String("addr", cfg.GetHTTPAddr()))
//
// Config only carries the path of the team routing table (TEAMS_FILE);
// orchestrator.LoadRouting parses it.
package config
