// Command preload builds the window-index caches for a set of route
// roots ahead of training. Building once up front keeps concurrent
// data-loader workers on the read-only fast path; it is also the
// supported way (-force) to rebuild a cache after re-recording routes.
//
// Usage:
//
//	preload -data-root /data/carla [-roots Town01_tiny,Town02_short]
//	        [-seq 1] [-pred 4] [-workers 4] [-force]
//	        [-plot-dir output/plots] [-plot-samples 4]
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/edaniels/golog"

	"github.com/selfdrive-lab/carladata/config"
	"github.com/selfdrive-lab/carladata/datasets"
	"github.com/selfdrive-lab/carladata/viz"
)

func main() {
	var (
		dataRoot    = flag.String("data-root", "", "directory holding the town route roots")
		roots       = flag.String("roots", "", "comma-separated route roots relative to data-root (default: all configured towns)")
		seqLen      = flag.Int("seq", 1, "input timesteps per window")
		predLen     = flag.Int("pred", 4, "future waypoints per window")
		workers     = flag.Int("workers", 0, "concurrent root builds (default NumCPU)")
		force       = flag.Bool("force", false, "rebuild caches even when present")
		plotDir     = flag.String("plot-dir", "", "write sample waypoint plots here (optional)")
		plotSamples = flag.Int("plot-samples", 4, "number of sample windows to plot")
	)
	flag.Parse()

	logger := golog.NewDevelopmentLogger("preload")

	if *dataRoot == "" && *roots == "" {
		logger.Fatal("either -data-root or -roots is required")
	}

	cfg := config.New(config.GlobalConfig{
		SeqLen:  *seqLen,
		PredLen: *predLen,
		RootDir: *dataRoot,
	})

	var rootDirs []string
	if *roots != "" {
		for _, r := range strings.Split(*roots, ",") {
			r = strings.TrimSpace(r)
			if r == "" {
				continue
			}
			rootDirs = append(rootDirs, filepath.Join(*dataRoot, r))
		}
	} else {
		seen := map[string]bool{}
		for _, r := range append(append(append([]string{}, cfg.TrainData...), cfg.ValData...), cfg.SSDData...) {
			if !seen[r] {
				seen[r] = true
				rootDirs = append(rootDirs, r)
			}
		}
	}

	n := *workers
	if n <= 0 {
		n = runtime.NumCPU()
	}
	if n > len(rootDirs) {
		n = len(rootDirs)
	}

	type result struct {
		root    string
		windows int
		err     error
	}

	jobs := make(chan string)
	results := make(chan result, len(rootDirs))
	var wg sync.WaitGroup
	for w := 0; w < n; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for root := range jobs {
				windows, err := buildRoot(root, cfg, *force, logger)
				results <- result{root: root, windows: windows, err: err}
			}
		}()
	}
	for _, root := range rootDirs {
		jobs <- root
	}
	close(jobs)
	wg.Wait()
	close(results)

	failed := 0
	total := 0
	for r := range results {
		if r.err != nil {
			failed++
			logger.Errorw("preload failed", "root", r.root, "error", r.err)
			continue
		}
		total += r.windows
		logger.Infow("preload ready", "root", r.root, "windows", r.windows)
	}
	logger.Infow("preload pass complete", "roots", len(rootDirs), "windows", total, "failed", failed)
	if failed > 0 {
		os.Exit(1)
	}

	if *plotDir != "" {
		if err := plotSampleWindows(rootDirs, cfg, *plotDir, *plotSamples, logger); err != nil {
			logger.Fatalw("plotting failed", "error", err)
		}
	}
}

// buildRoot ensures one root's cache exists, honoring -force, and
// returns its window count. A root directory that does not exist is a
// hard error: the configuration names data that is not there.
func buildRoot(root string, cfg config.GlobalConfig, force bool, logger golog.Logger) (int, error) {
	if _, err := os.Stat(root); err != nil {
		return 0, err
	}
	if force {
		pre, err := datasets.BuildPreload(root, cfg, logger)
		if err != nil {
			return 0, err
		}
		if err := pre.Save(datasets.PreloadPath(root, cfg.SeqLen, cfg.PredLen)); err != nil {
			return 0, err
		}
		return pre.Len(), nil
	}
	pre, err := datasets.LoadOrBuildPreload(root, cfg, logger)
	if err != nil {
		return 0, err
	}
	return pre.Len(), nil
}

// plotSampleWindows renders the first few windows' ego-frame geometry.
func plotSampleWindows(roots []string, cfg config.GlobalConfig, dir string, count int, logger golog.Logger) error {
	ds, err := datasets.NewCarlaDataset(roots, cfg, logger)
	if err != nil {
		return err
	}
	if count > ds.Len() {
		count = ds.Len()
	}
	for i := 0; i < count; i++ {
		s, err := ds.Get(i)
		if err != nil {
			return err
		}
		path := filepath.Join(dir, fmt.Sprintf("window_%04d.png", i))
		if err := viz.SaveWaypointPlot(path, s.Waypoints, nil, s.TargetPoint); err != nil {
			return err
		}
		logger.Infow("plotted window", "index", i, "path", path)
	}
	return nil
}
