package logging

import "fmt"

// Level is the severity of a log entry. Lower values are more severe, so a
// message passes a minimum-severity threshold iff its level is numerically
// less than or equal to the threshold. LevelFatal is zero and therefore
// passes every threshold.
type Level int

const (
	LevelFatal Level = iota
	LevelError
	LevelWarning
	LevelInfo
	LevelDebug
	LevelTrace
)

var levelNames = map[Level]string{
	LevelFatal:   "fatal",
	LevelError:   "error",
	LevelWarning: "warning",
	LevelInfo:    "info",
	LevelDebug:   "debug",
	LevelTrace:   "trace",
}

// String returns the wire name of the level.
func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// Enabled reports whether a message at level l passes the given minimum
// severity threshold.
func (l Level) Enabled(threshold Level) bool {
	return l <= threshold
}

// ParseLevel converts a wire name back into a Level.
func ParseLevel(name string) (Level, error) {
	for level, n := range levelNames {
		if n == name {
			return level, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownLevel, name)
}
