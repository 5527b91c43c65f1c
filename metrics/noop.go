package metrics

import "time"

var _ Recorder = NoopRecorder{}

// NoopRecorder discards everything; used when METRICS_ENABLED is false.
type NoopRecorder struct{}

func (NoopRecorder) IncCounter(string, map[string]string)                    {}
func (NoopRecorder) ObserveLatency(string, time.Duration, map[string]string) {}
