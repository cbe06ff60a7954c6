package fanpanel

import (
	"strconv"

	"github.com/pkg/errors"
)

const (
	MinSpeed = 0
	MaxSpeed = 255
)

// Speed is a fan speed command, as understood by the device's PWM output.
type Speed uint8

func (s Speed) String() string {
	return strconv.Itoa(int(s))
}

// ParseSpeed validates a speed query parameter. Only plain decimal digits
// are accepted; signs, whitespace and fractions are rejected.
func ParseSpeed(s string) (Speed, error) {
	if s == "" {
		return 0, errors.Wrap(ErrInvalidInput, "speed is required")
	}

	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, errors.Wrapf(ErrInvalidInput, "speed %q is not a number", s)
		}
	}

	v, err := strconv.Atoi(s)
	if err != nil || v < MinSpeed || v > MaxSpeed {
		return 0, errors.Wrapf(ErrInvalidInput, "speed %q out of range %d-%d", s, MinSpeed, MaxSpeed)
	}

	return Speed(v), nil
}
