package process

import "strings"

// LaunchSteps tracks which startup milestones have been observed in the
// child's output.
type LaunchSteps struct {
	UserSet         bool `json:"userSet"`
	LWJGLLoaded     bool `json:"lwjglLoaded"`
	ResourcesLoaded bool `json:"resourcesLoaded"`
	FullyStarted    bool `json:"fullyStarted"`
}

// Launch-step detection is case-sensitive substring matching against the
// child's stdout/stderr. The table is a declared constant so log-format
// drift is a one-line fix.
var launchStepPatterns = []struct {
	step     string
	patterns []string
}{
	{"userSet", []string{"Setting user:"}},
	{"lwjglLoaded", []string{"Backend library: LWJGL"}},
	{"resourcesLoaded", []string{"Reloading ResourceManager"}},
	{"fullyStarted", []string{"OpenAL initialized", "Sound engine started", "Created: 1024x1024"}},
}

// fatalPatterns mark output lines that indicate the JVM or the game is in
// an unrecoverable state.
var fatalPatterns = []string{
	"FATAL",
	"Crash Report",
	"java.lang.OutOfMemoryError",
	"Could not create the Java Virtual Machine",
	"Error: Invalid or corrupt jarfile",
}

// apply marks the step a line matches, returning the step name or "".
func (s *LaunchSteps) apply(line string) string {
	for _, entry := range launchStepPatterns {
		for _, p := range entry.patterns {
			if !strings.Contains(line, p) {
				continue
			}
			switch entry.step {
			case "userSet":
				s.UserSet = true
			case "lwjglLoaded":
				s.LWJGLLoaded = true
			case "resourcesLoaded":
				s.ResourcesLoaded = true
			case "fullyStarted":
				s.FullyStarted = true
			}
			return entry.step
		}
	}
	return ""
}

func isFatalLine(line string) bool {
	for _, p := range fatalPatterns {
		if strings.Contains(line, p) {
			return true
		}
	}
	return false
}
