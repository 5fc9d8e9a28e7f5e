package retrieval

import "time"

// StageMetric records diagnostics for one pipeline stage: its name,
// duration, and how many candidates went in and came out.
type StageMetric struct {
	Stage       string
	Duration    time.Duration
	InputCount  int
	OutputCount int
	Err         string // non-empty when the stage fell back to passing input through unchanged
}

func recordStage(metrics *[]StageMetric, stage string, start time.Time, inputCount, outputCount int, err error) {
	m := StageMetric{
		Stage:       stage,
		Duration:    time.Since(start),
		InputCount:  inputCount,
		OutputCount: outputCount,
	}
	if err != nil {
		m.Err = err.Error()
	}
	*metrics = append(*metrics, m)
}
