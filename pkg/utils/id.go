package utils

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GenerateRunID generates a run ID with a timestamp prefix,
// e.g. run-20260102-150405-1b4e28ba.
func GenerateRunID() string {
	timestamp := time.Now().Format("20060102-150405")
	id := uuid.New().String()
	return fmt.Sprintf("run-%s-%s", timestamp, id[:8])
}

// IsRunID reports whether s has the shape produced by GenerateRunID.
func IsRunID(s string) bool {
	var date, clock, suffix string
	if _, err := fmt.Sscanf(s, "run-%8s-%6s-%8s", &date, &clock, &suffix); err != nil {
		return false
	}
	if _, err := time.Parse("20060102-150405", date+"-"+clock); err != nil {
		return false
	}
	return len(s) == len("run-20060102-150405-")+8
}
