// Package java handles Java runtime detection, selection, and download.
package java

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// probeTimeout bounds the `java -version` subprocess.
const probeTimeout = 5 * time.Second

// Cached regex for version parsing (compiled once)
var versionRegex = regexp.MustCompile(`(?:java|openjdk) version "([^"]+)"`)

// Installation represents a Java installation
type Installation struct {
	Path         string // Path to java executable
	Version      string // Full version string
	MajorVersion int    // Major version (8, 11, 17, 21, etc.)
	Is64Bit      bool
	Vendor       string // OpenJDK, Oracle, Adoptium, etc.
}

// Detector finds Java installations on the system
type Detector struct {
	searchPaths []string
}

// NewDetector creates a new Java detector
func NewDetector() *Detector {
	d := &Detector{}
	d.searchPaths = d.getDefaultPaths()
	return d
}

// FindAll finds all Java installations, probing PATH, JAVA_HOME, common
// install directories, and the official launcher's bundled runtimes.
func (d *Detector) FindAll() []Installation {
	var installations []Installation
	seen := make(map[string]bool)

	add := func(inst *Installation) {
		if inst != nil && !seen[inst.Path] {
			installations = append(installations, *inst)
			seen[inst.Path] = true
		}
	}

	// PATH first: it is what the user would get at a shell
	if javaPath, err := exec.LookPath(javaExeName()); err == nil {
		add(d.checkJava(javaPath))
	}

	// JAVA_HOME
	if javaHome := os.Getenv("JAVA_HOME"); javaHome != "" {
		if javaPath := d.findJavaInDir(javaHome); javaPath != "" {
			add(d.checkJava(javaPath))
		}
	}

	// Common install locations
	for _, searchPath := range d.searchPaths {
		entries, err := os.ReadDir(searchPath)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			javaPath := d.findJavaInDir(filepath.Join(searchPath, entry.Name()))
			if javaPath == "" {
				continue
			}
			add(d.checkJava(javaPath))
		}
	}

	// Official launcher bundled runtimes
	for _, runtimeDir := range officialRuntimeDirs() {
		entries, err := os.ReadDir(runtimeDir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			if javaPath := findJavaUnder(filepath.Join(runtimeDir, entry.Name())); javaPath != "" {
				add(d.checkJava(javaPath))
			}
		}
	}

	return installations
}

// FindBest finds the oldest 64-bit installation satisfying minVersion,
// preferring an exact-era runtime over a much newer one.
func (d *Detector) FindBest(minVersion int) *Installation {
	installations := d.FindAll()
	if len(installations) == 0 {
		return nil
	}

	var best *Installation
	for i := range installations {
		inst := &installations[i]
		if inst.MajorVersion < minVersion {
			continue
		}
		if !inst.Is64Bit {
			continue
		}
		if best == nil || inst.MajorVersion < best.MajorVersion {
			best = inst
		}
	}
	return best
}

// Validate re-probes a previously discovered executable path.
func (d *Detector) Validate(path string) *Installation {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return nil
	}
	return d.checkJava(path)
}

func (d *Detector) getDefaultPaths() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{
			"/Library/Java/JavaVirtualMachines",
			"/System/Library/Java/JavaVirtualMachines",
			filepath.Join(os.Getenv("HOME"), ".sdkman/candidates/java"),
		}
	case "linux":
		return []string{
			"/usr/lib/jvm",
			"/usr/lib64/jvm",
			"/usr/java",
			"/opt",
			filepath.Join(os.Getenv("HOME"), ".sdkman/candidates/java"),
		}
	case "windows":
		return []string{
			`C:\Program Files\Java`,
			`C:\Program Files\Eclipse Adoptium`,
			`C:\Program Files\Zulu`,
			`C:\Program Files\Microsoft\jdk`,
		}
	default:
		return nil
	}
}

// officialRuntimeDirs returns the Minecraft launcher's bundled-runtime roots.
func officialRuntimeDirs() []string {
	switch runtime.GOOS {
	case "windows":
		return []string{
			filepath.Join(os.Getenv("LOCALAPPDATA"), "Packages", "Microsoft.4297127D64EC6_8wekyb3d8bbwe", "LocalCache", "Local", "runtime"),
			`C:\Program Files (x86)\Minecraft Launcher\runtime`,
		}
	case "darwin":
		home, _ := os.UserHomeDir()
		return []string{filepath.Join(home, "Library", "Application Support", "minecraft", "runtime")}
	default:
		home, _ := os.UserHomeDir()
		return []string{filepath.Join(home, ".minecraft", "runtime")}
	}
}

func (d *Detector) findJavaInDir(dir string) string {
	javaName := javaExeName()

	candidates := []string{
		filepath.Join(dir, "bin", javaName),
		filepath.Join(dir, "Contents", "Home", "bin", javaName), // macOS .jdk bundle
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}

	return ""
}

// findJavaUnder walks a runtime directory looking for bin/java.
func findJavaUnder(dir string) string {
	binName := javaExeName()

	var foundPath string
	_ = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if foundPath != "" {
			return filepath.SkipDir
		}
		if info != nil && !info.IsDir() && info.Name() == binName &&
			filepath.Base(filepath.Dir(path)) == "bin" {
			foundPath = path
			return filepath.SkipDir
		}
		return nil
	})
	return foundPath
}

func (d *Detector) checkJava(javaPath string) *Installation {
	realPath, err := filepath.EvalSymlinks(javaPath)
	if err != nil {
		realPath = javaPath
	}

	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, realPath, "-version")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil
	}

	return d.parseVersionOutput(realPath, string(output))
}

func (d *Detector) parseVersionOutput(path, output string) *Installation {
	inst := &Installation{Path: path}

	// Examples:
	// openjdk version "21.0.1" 2023-10-17
	// java version "1.8.0_391"
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()

		if matches := versionRegex.FindStringSubmatch(line); len(matches) > 1 {
			inst.Version = matches[1]
			inst.MajorVersion = ParseMajorVersion(matches[1])
		}

		if strings.Contains(line, "64-Bit") || strings.Contains(line, "amd64") || strings.Contains(line, "x86_64") || strings.Contains(line, "aarch64") {
			inst.Is64Bit = true
		}

		lineLower := strings.ToLower(line)
		switch {
		case strings.Contains(lineLower, "graalvm"):
			inst.Vendor = "GraalVM"
		case strings.Contains(lineLower, "azul"):
			inst.Vendor = "Azul Zulu"
		case strings.Contains(lineLower, "adoptium") || strings.Contains(lineLower, "temurin"):
			inst.Vendor = "Eclipse Adoptium"
		case strings.Contains(lineLower, "oracle"):
			inst.Vendor = "Oracle"
		case strings.Contains(lineLower, "microsoft"):
			inst.Vendor = "Microsoft"
		case strings.Contains(lineLower, "openjdk") && inst.Vendor == "":
			inst.Vendor = "OpenJDK"
		}
	}

	// Assume 64-bit on modern non-Windows systems when not stated
	if runtime.GOOS != "windows" && !inst.Is64Bit {
		inst.Is64Bit = true
	}

	if inst.Version == "" {
		return nil
	}

	return inst
}

// ParseMajorVersion accepts both the legacy "1.8.0_xxx" scheme (major 8)
// and the modern "17.0.1" / "21" scheme.
func ParseMajorVersion(version string) int {
	if strings.HasPrefix(version, "1.") {
		parts := strings.Split(version, ".")
		if len(parts) >= 2 {
			v, _ := strconv.Atoi(parts[1])
			return v
		}
	}

	parts := strings.Split(version, ".")
	if len(parts) >= 1 {
		v, _ := strconv.Atoi(parts[0])
		return v
	}

	return 0
}

// FormatInstallation returns a display string for a Java installation
func FormatInstallation(inst *Installation) string {
	vendor := inst.Vendor
	if vendor == "" {
		vendor = "Unknown"
	}
	return fmt.Sprintf("Java %d (%s)", inst.MajorVersion, vendor)
}

func javaExeName() string {
	if runtime.GOOS == "windows" {
		return "java.exe"
	}
	return "java"
}
