// Package logging provides the zap logger shared by knnd and knnc.
//
// Production output is one JSON object per line; development output is
// colored console text. The detached pipe daemon writes to knnd.log in its
// server root and every other process writes to stderr:
//
//	logger, err := logging.New(cfg.Logging, root)
//	logger.Info("Daemon started", zap.Int("pid", os.Getpid()))
//	logger.Error("Worker failed", logging.Token(uint32(tok)), zap.Error(err))
package logging
