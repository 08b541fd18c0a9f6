// Command knnd serves kNN classification of 28x28 digit images.
//
// Two transports are available:
//
//	knnd pipe SERVER_DIR DATA_DIR [K]   background daemon, one worker per client over FIFOs
//	knnd shm DATA_DIR [K]               foreground server over a shared-memory mailbox
//
// DATA_DIR holds the train-images-idx3-ubyte and train-labels-idx1-ubyte
// files, optionally gzip-compressed. K defaults to 3.
//
// The pipe daemon detaches from the terminal unless --foreground is given,
// printing the background PID before exiting. Its log goes to
// SERVER_DIR/knnd.log.
//
// Configuration comes from KNN_* environment variables, overlaid by the
// YAML file named by --config. Positional arguments win over both. Setting
// metrics.addr (KNN_METRICS_ADDR) exposes /metrics and /health.
package main
