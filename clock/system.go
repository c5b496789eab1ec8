// A thin wrapper over the system clock which can be implemented for use in tests.
package clock

import "time"

type Clock interface {
	CurrentTimeMicro() int64
	Now() time.Time
}

type systemClock struct{}

func NewSystemClock() Clock {
	return &systemClock{}
}

func (sc *systemClock) CurrentTimeMicro() int64 {
	return time.Now().UnixMicro()
}

func (sc *systemClock) Now() time.Time {
	return time.Now()
}

// Converts a microsecond timestamp as stored by parley back to a UTC time.
func FromMicro(micro int64) time.Time {
	return time.UnixMicro(micro).UTC()
}

// Converts a nullable microsecond timestamp to a nullable time.
func FromMicroPtr(micro *int64) *time.Time {
	if micro == nil {
		return nil
	}
	t := FromMicro(*micro)
	return &t
}
