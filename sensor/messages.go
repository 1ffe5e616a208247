// Package sensor is the meter reader / file writer demo running on two dispatchers.
package sensor

import "fmt"

// AcquisitionTurn is the periodic signal that makes the reader poll the meter.
type AcquisitionTurn struct{}

// WriteData asks the writer to store one reading.
type WriteData struct {
	FileName string
	Ordinal  int
}

// FileNameFor returns the data file name of the n-th reading.
func FileNameFor(n int) string {
	return fmt.Sprintf("data_%d.dat", n)
}
