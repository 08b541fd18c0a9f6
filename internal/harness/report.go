package harness

import (
	"fmt"
	"io"
	"time"

	"github.com/bytedance/sonic"
)

// Mismatch is one test sample the server labeled wrongly.
type Mismatch struct {
	Predicted byte   `json:"predicted"`
	Index     uint32 `json:"index"`
	Actual    byte   `json:"actual"`
	Sample    int    `json:"sample"`
}

// Report is the outcome of one harness run.
type Report struct {
	Transport     string        `json:"transport"`
	Total         int           `json:"total"`
	Correct       int           `json:"correct"`
	Accuracy      float64       `json:"accuracy_percent"`
	Mismatches    []Mismatch    `json:"mismatches"`
	LatencyMean   time.Duration `json:"latency_mean_ns"`
	LatencyStdDev time.Duration `json:"latency_stddev_ns"`
	Elapsed       time.Duration `json:"elapsed_ns"`
}

// WriteText prints one "predicted[index] actual[sample]" line per mismatch
// followed by the success percentage.
func (r *Report) WriteText(w io.Writer) error {
	for _, m := range r.Mismatches {
		if _, err := fmt.Fprintf(w, "%d[%d] %d[%d]\n", m.Predicted, m.Index, m.Actual, m.Sample); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "%.1f%% success\n", r.Accuracy)
	return err
}

// WriteJSON writes the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	out := *r
	if out.Mismatches == nil {
		out.Mismatches = []Mismatch{}
	}
	data, err := sonic.ConfigStd.MarshalIndent(&out, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
