// Package launch builds the JVM and game argument vector for a launch.
package launch

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/blocksmiths/launchcore/internal/config"
	"github.com/blocksmiths/launchcore/internal/core"
	"github.com/blocksmiths/launchcore/internal/launcher"
)

// Server describes an auto-connect target
type Server struct {
	Host string
	Port int
}

// ComposeInput collects everything the argument vector depends on.
type ComposeInput struct {
	Config  *config.Config
	Details *core.VersionDetails
	Profile core.Profile

	JavaMajor int

	// GameDir is the working directory (instance dir, or data dir for
	// bare vanilla launches).
	GameDir    string
	NativesDir string

	// Memory bounds like "2G" or "512M"; empty means auto-tune.
	MinMemory string
	MaxMemory string

	// ModCount feeds the heap heuristic.
	ModCount int

	WindowWidth  int
	WindowHeight int
	Fullscreen   bool

	Server *Server

	ExtraJVMArgs []string
}

// Compose builds the fully ordered argument vector: JVM flags, classpath,
// main class, then game arguments.
func Compose(in ComposeInput) ([]string, error) {
	if in.Details == nil {
		return nil, launcher.New(launcher.KindInvalidOptions, "version details missing")
	}
	if in.Details.MainClass == "" {
		return nil, launcher.New(launcher.KindInvalidOptions, "version %s has no main class", in.Details.ID)
	}

	var args []string

	minHeap, maxHeap := heapBounds(in)
	args = append(args, "-Xms"+minHeap, "-Xmx"+maxHeap)

	args = append(args, gcFlags(in.JavaMajor)...)
	args = append(args, commonJVMFlags()...)

	if runtime.GOOS == "darwin" {
		args = append(args, "-XstartOnFirstThread")
	}

	args = append(args, "-Djava.library.path="+in.NativesDir)

	args = append(args, in.ExtraJVMArgs...)

	classpath, err := buildClasspath(in)
	if err != nil {
		return nil, err
	}
	args = append(args, "-cp", classpath)

	args = append(args, in.Details.MainClass)

	args = append(args, gameArguments(in)...)

	return args, nil
}

// heapBounds returns the -Xms/-Xmx values, auto-tuned from system RAM and
// mod count unless the caller overrides them.
func heapBounds(in ComposeInput) (string, string) {
	minHeap, maxHeap := autoTuneHeap(totalRAMGB(), in.ModCount)

	if in.MinMemory != "" {
		minHeap = in.MinMemory
	}
	if in.MaxMemory != "" {
		maxHeap = in.MaxMemory
	}
	return minHeap, maxHeap
}

// autoTuneHeap sizes the heap from total system RAM in GB and the number
// of installed mods.
func autoTuneHeap(ramGB int, modCount int) (string, string) {
	var minGB, maxGB int
	switch {
	case ramGB <= 4:
		minGB, maxGB = 1, 2
	case ramGB <= 8:
		minGB, maxGB = 2, 3
		if modCount > 50 {
			maxGB = 4
		}
	case ramGB <= 16:
		minGB, maxGB = 2, 4
		if modCount > 100 {
			maxGB = 6
		}
	default:
		minGB, maxGB = 3, 6
		if modCount > 150 {
			maxGB = 8
		}
	}
	return fmt.Sprintf("%dG", minGB), fmt.Sprintf("%dG", maxGB)
}

// gcFlags selects the collector by Java major version.
func gcFlags(javaMajor int) []string {
	if javaMajor >= 17 {
		return []string{
			"-XX:+UseG1GC",
			"-XX:G1NewSizePercent=20",
			"-XX:G1ReservePercent=20",
			"-XX:MaxGCPauseMillis=50",
			"-XX:G1HeapRegionSize=32M",
		}
	}
	// Java 8 era: CMS
	return []string{
		"-XX:+UseConcMarkSweepGC",
		"-XX:+CMSIncrementalMode",
		"-XX:-UseAdaptiveSizePolicy",
	}
}

func commonJVMFlags() []string {
	gcThreads := runtime.NumCPU() / 2
	if gcThreads < 1 {
		gcThreads = 1
	}
	return []string{
		"-XX:+ParallelRefProcEnabled",
		"-XX:+DisableExplicitGC",
		"-XX:+AlwaysPreTouch",
		"-XX:+PerfDisableSharedMem",
		fmt.Sprintf("-XX:ParallelGCThreads=%d", gcThreads),
		// Log4Shell mitigation, always set
		"-Dlog4j2.formatMsgNoLookups=true",
	}
}

// buildClasspath joins all admitted library artifacts plus the client jar
// with the OS path separator. A missing artifact aborts the launch.
func buildClasspath(in ComposeInput) (string, error) {
	osName := core.MojangOS()
	var paths []string
	seen := make(map[string]bool)

	for i := range in.Details.Libraries {
		lib := &in.Details.Libraries[i]
		if !lib.Applies(osName) {
			continue
		}
		if lib.Downloads == nil || lib.Downloads.Artifact == nil {
			continue
		}
		path := filepath.Join(in.Config.LibrariesDir, filepath.FromSlash(lib.Downloads.Artifact.Path))
		if seen[path] {
			continue
		}
		seen[path] = true

		if _, err := os.Stat(path); err != nil {
			return "", launcher.Wrap(launcher.KindPathNotFound, err, "library missing: %s", lib.Name)
		}
		paths = append(paths, path)
	}

	// The client jar belongs to the vanilla base even for loader documents.
	clientID := in.Details.ID
	if in.Details.InheritsFrom != "" {
		clientID = in.Details.InheritsFrom
	}
	clientJar := filepath.Join(in.Config.VersionsDir, clientID, clientID+".jar")
	if _, err := os.Stat(clientJar); err != nil {
		return "", launcher.Wrap(launcher.KindPathNotFound, err, "client jar missing: %s", clientID)
	}
	paths = append(paths, clientJar)

	return strings.Join(paths, string(os.PathListSeparator)), nil
}

// gameArguments builds the --flag vector after the main class.
func gameArguments(in ComposeInput) []string {
	assetIndexID := in.Details.AssetIndex.ID
	if assetIndexID == "" {
		assetIndexID = in.Details.Assets
	}

	versionType := in.Config.Brand
	if versionType == "" {
		versionType = string(in.Details.Type)
	}

	args := []string{
		"--username", in.Profile.Name,
		"--version", in.Details.ID,
		"--gameDir", in.GameDir,
		"--assetsDir", in.Config.AssetsDir,
		"--assetIndex", assetIndexID,
		"--uuid", in.Profile.UUID,
		"--accessToken", "null",
		"--userType", "legacy",
		"--versionType", versionType,
	}

	if in.Fullscreen {
		args = append(args, "--fullscreen")
	} else if in.WindowWidth > 0 && in.WindowHeight > 0 {
		args = append(args,
			"--width", fmt.Sprintf("%d", in.WindowWidth),
			"--height", fmt.Sprintf("%d", in.WindowHeight),
		)
	}

	if in.Server != nil && in.Server.Host != "" {
		args = append(args, "--server", in.Server.Host)
		if in.Server.Port > 0 {
			args = append(args, "--port", fmt.Sprintf("%d", in.Server.Port))
		}
	}

	return args
}
