// Command knnc runs the test set against a knnd server and reports the
// misclassified samples and the success rate.
//
//	knnc pipe SERVER_DIR DATA_DIR [N_TESTS]
//	knnc shm DATA_DIR [N_TESTS]
//
// DATA_DIR holds t10k-images-idx3-ubyte and t10k-labels-idx1-ubyte. The
// first N_TESTS samples (default 10000, capped at the test-set size) are
// sent in one session. The report goes to stdout, as text or with --json
// as a JSON document; logs go to stderr.
package main
