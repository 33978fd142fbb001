package notify

import "fmt"

// Notification titles
const (
	TitleNewReading   = "New reading!"
	TitleReadingError = "Reading error =("
	TitleReviewResult = "Reading review result"
)

// NewReadingBody confirms an applied reading.
func NewReadingBody(measure int64) string {
	return fmt.Sprintf("Reading processed. Value: %d", measure)
}

// OCRFailureBody tells the owner an automated read failed.
func OCRFailureBody() string {
	return "We could not read your meter, we are reviewing it (OCR error)"
}

// NegativeConsumptionBody tells the owner a reading went below the previous one.
func NegativeConsumptionBody() string {
	return "We could not process your reading, we are reviewing it (negative consumption)"
}
