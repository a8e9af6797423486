// Command-line tool that prints a summary of a finished execution graph.

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/janelia-flyem/egraph/egraph"
	"github.com/janelia-flyem/egraph/graph"
	"github.com/janelia-flyem/egraph/storage"
	_ "github.com/janelia-flyem/egraph/storage/badger"
	_ "github.com/janelia-flyem/egraph/storage/historytree"
)

var (
	// Display usage if true.
	showHelp = flag.Bool("help", false, "")

	// Run in verbose mode if true.
	runVerbose = flag.Bool("v", false, "")

	// Storage engine of the graph.
	engineName = flag.String("engine", storage.DefaultEngine, "")

	// TOML file with [store] and [logging] tables.
	configFile = flag.String("config", "", "")

	// Worker key whose statistics are printed.
	statsKey = flag.String("stats", "", "")
)

const helpMessage = `
egraph-info prints the engine, time range, workers and file sizes of a finished execution graph.

Usage: egraph-info [options] <path> <name>
       egraph-info [options] -config <file.toml>

      -engine     =string   Storage engine of the graph (default %q).
      -config     =string   TOML file with [store] and [logging] tables instead of <path> <name>.
      -stats      =string   Print time spent per worker, scanning from the head of this worker key.
      -v          (flag)    Run in verbose mode.
  -h, -help       (flag)    Show help message

Engines:
%s`

var usage = func() {
	var engines []string
	for _, e := range storage.Engines() {
		engines = append(engines, fmt.Sprintf("\t%-12s %s\n", e.GetName(), e.GetDescription()))
	}
	fmt.Printf(helpMessage, storage.DefaultEngine, strings.Join(engines, ""))
}

func main() {
	flag.BoolVar(showHelp, "h", false, "Show help message")
	flag.Usage = usage
	flag.Parse()

	if *runVerbose {
		egraph.SetLevel(egraph.DebugLevel)
	} else {
		egraph.SetLevel(egraph.WarningLevel)
	}
	if *showHelp || (*configFile == "" && flag.NArg() != 2) {
		flag.Usage()
		os.Exit(0)
	}

	config, logFile, err := storeConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err = run(ctx, os.Stdout, config, *statsKey)
	logFile.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// storeConfig returns the graph configuration and the log file to close on exit.
func storeConfig() (egraph.StoreConfig, io.Closer, error) {
	var logConfig *egraph.LogConfig
	if *configFile != "" {
		config, lc, err := egraph.LoadConfig(*configFile)
		if err != nil {
			return config, nil, err
		}
		if config.Engine == "" {
			config.Engine = *engineName
		}
		return config, lc.SetLogger(), nil
	}
	return egraph.StoreConfig{
		Config: egraph.Config{
			"path": flag.Arg(0),
			"name": flag.Arg(1),
		},
		Engine: *engineName,
	}, logConfig.SetLogger(), nil
}

// run opens the finished graph of config and writes its summary to w.
func run(ctx context.Context, w io.Writer, config egraph.StoreConfig, statsKey string) error {
	config.Set("existing", true)
	if config.Engine == "" {
		config.Engine = storage.DefaultEngine
	}
	engine, err := storage.GetEngine(config.Engine)
	if err != nil {
		return err
	}
	g, err := storage.NewGraph(config, storage.Options{Serializer: graph.KeySerializer{}})
	if err != nil {
		return err
	}
	defer g.Close()

	fmt.Fprintf(w, "Engine:     %s\n", engine)
	if id, ok := g.(interface{ GraphID() string }); ok {
		fmt.Fprintf(w, "Graph:      %s\n", id.GraphID())
	}
	fmt.Fprintf(w, "Time range: %d - %d (%d)\n", g.StartTime(), g.EndTime(), g.EndTime()-g.StartTime())
	if ht, ok := g.(interface {
		NodeCount() int
		Depth() int
	}); ok {
		fmt.Fprintf(w, "Tree:       %d nodes, depth %d\n", ht.NodeCount(), ht.Depth())
	}

	if t, ok := g.(interface{ Table() *graph.WorkerTable }); ok {
		infos := t.Table().Infos()
		fmt.Fprintf(w, "\nWorkers (%d):\n", len(infos))
		for _, info := range infos {
			fmt.Fprintf(w, "  %-24s %10s vertices  %d - %d\n", info.Worker, humanize.Comma(int64(info.Count)), info.First, info.Last)
		}
	}

	fmt.Fprintf(w, "\nFiles:\n")
	for _, f := range graphFiles(g) {
		size, err := diskSize(f)
		if err != nil {
			egraph.Warningf("Unable to get size of %s: %v\n", f, err)
			continue
		}
		fmt.Fprintf(w, "  %-40s %s\n", f, humanize.Bytes(uint64(size)))
	}

	if statsKey == "" {
		printIO(w)
		return nil
	}
	sw := egraph.Start()
	stats, err := graph.ComputeStatistics(ctx, g, graph.KeyWorker(statsKey))
	if err != nil && !stats.Aborted() {
		return err
	}
	sw.Debugf("Scanned %d workers from %s", len(stats.Workers()), statsKey)
	fmt.Fprintf(w, "\nStatistics from %s:\n", statsKey)
	if stats.Aborted() {
		fmt.Fprintf(w, "  (partial, scan aborted: %v)\n", err)
	}
	for _, worker := range stats.Workers() {
		fmt.Fprintf(w, "  %-24s %12d  %6.2f%%\n", worker, stats.Sum(worker), stats.Percent(worker))
	}
	fmt.Fprintf(w, "  %-24s %12d\n", "total", stats.Total())
	printIO(w)
	return nil
}

func printIO(w io.Writer) {
	if !*runVerbose {
		return
	}
	totals := storage.IOTotals()
	fmt.Fprintf(w, "\nI/O: %s read from files, %s read in %d gets\n",
		humanize.Bytes(uint64(totals.FileBytesRead)), humanize.Bytes(uint64(totals.StoreBytesRead)), totals.Gets)
}

func graphFiles(g graph.Graph) []string {
	switch x := g.(type) {
	case interface{ Filenames() (string, string) }:
		graphFile, workerFile := x.Filenames()
		return []string{graphFile, workerFile}
	case interface{ Directory() string }:
		return []string{x.Directory()}
	}
	return nil
}

// diskSize returns the size of a file or the total size of a directory.
func diskSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}
