// Package config provides 12-factor configuration for the knnd and knnc
// commands.
//
// Values come from environment variables with defaults, then from an
// optional YAML file, then from positional command arguments applied by the
// caller.
//
// Configuration Sections:
//   - Classifier: neighbor count k
//   - Client: number of test vectors to send
//   - Shm: directory and name prefix of the mailbox objects
//   - Daemon: whether knnd stays in the foreground
//   - Logging: Log level and output format
//   - Metrics: optional /metrics listen address
//
// Environment Variables:
//   - KNN_K, KNN_TESTS
//   - KNN_SHM_DIR, KNN_SHM_PREFIX
//   - KNN_FOREGROUND
//   - KNN_LOG_LEVEL, KNN_LOG_DEV
//   - KNN_METRICS_ADDR
package config
