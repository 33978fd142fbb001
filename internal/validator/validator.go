package validator

import (
	"fmt"
	"strings"
)

// ValidationResult holds validation outcome
type ValidationResult struct {
	IsValid bool
	Reason  string
}

func invalid(format string, args ...any) ValidationResult {
	return ValidationResult{IsValid: false, Reason: fmt.Sprintf(format, args...)}
}

var valid = ValidationResult{IsValid: true}

// Validator checks operation inputs before they reach the ledger
type Validator struct {
	// maxMeasure caps the dial value an OCR result may report. Zero disables the cap.
	maxMeasure int64
}

// NewValidator creates a new validator with the specified measure cap
func NewValidator(maxMeasure int64) *Validator {
	return &Validator{maxMeasure: maxMeasure}
}

// ValidateImage validates the inputs of a new image-processing task
func (v *Validator) ValidateImage(accountNumber, image string) ValidationResult {
	if strings.TrimSpace(accountNumber) == "" {
		return invalid("empty account number")
	}
	if strings.Contains(accountNumber, "--") {
		return invalid("account number %q contains reserved delimiter \"--\"", accountNumber)
	}
	if strings.TrimSpace(image) == "" {
		return invalid("empty image name")
	}
	if strings.Contains(image, "--") {
		return invalid("image name %q contains reserved delimiter \"--\"", image)
	}
	return valid
}

// ValidateMeasure validates a dial value reported by OCR
func (v *Validator) ValidateMeasure(measure int64) ValidationResult {
	if measure < 0 {
		return invalid("negative measure %d", measure)
	}
	if v.maxMeasure > 0 && measure > v.maxMeasure {
		return invalid("measure %d exceeds dial capacity %d", measure, v.maxMeasure)
	}
	return valid
}

// ValidatePrepay validates a requested prepay quantity in m3
func (v *Validator) ValidatePrepay(m3 int64) ValidationResult {
	if m3 <= 0 {
		return invalid("prepay must be a positive m3 quantity, got %d", m3)
	}
	return valid
}
