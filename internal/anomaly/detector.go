package anomaly

import (
	"fmt"
)

// Class is the verdict on a computed consumption
type Class string

const (
	ClassNormal   Class = "normal"
	ClassNegative Class = "negative"
	ClassSpike    Class = "spike"
)

// Detector classifies consumptions with configurable thresholds
type Detector struct {
	spikeThreshold            float64
	minDataPointsForDetection int
}

// NewDetector creates a new anomaly detector with the specified thresholds
func NewDetector(spikeThreshold float64, minDataPointsForDetection int) *Detector {
	return &Detector{
		spikeThreshold:            spikeThreshold,
		minDataPointsForDetection: minDataPointsForDetection,
	}
}

// Classify checks a consumption against the meter's recent consumptions.
// Negative consumptions are rejected by the pipeline; spikes are applied and flagged.
func (d *Detector) Classify(consumption int64, history []int64) (Class, string) {
	if consumption < 0 {
		return ClassNegative, fmt.Sprintf("negative consumption %d", consumption)
	}

	// Need enough historical data for spike detection
	if len(history) < d.minDataPointsForDetection {
		return ClassNormal, ""
	}

	var sum int64
	for _, v := range history {
		sum += v
	}
	average := float64(sum) / float64(len(history))

	// Detect sudden spike (>threshold x rolling average)
	if average > 0 && float64(consumption) > d.spikeThreshold*average {
		return ClassSpike, fmt.Sprintf("sudden spike detected: consumption %d exceeds %.1fx rolling average %.2f",
			consumption, d.spikeThreshold, average)
	}

	return ClassNormal, ""
}
