package main

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/GoSim-25-26J-441/drp-planner/internal/optimizer"
	"github.com/GoSim-25-26J-441/drp-planner/internal/trace"
	"github.com/GoSim-25-26J-441/drp-planner/pkg/utils"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List the training runs in the log directory",
	RunE:  listRunsCmd,
}

// runSummary is read back from the traces of one run.
type runSummary struct {
	ID       string
	Steps    int
	LastLoss float64
	Best     float64
	BestStep int64
}

func listRunsCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}
	runs, err := listRuns(cfg.LogDir)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTEPS\tLAST LOSS\tBEST AVG REWARD\tBEST STEP")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%d\t%.6f\t%.6f\t%d\n", r.ID, r.Steps, r.LastLoss, r.Best, r.BestStep)
	}
	return w.Flush()
}

// listRuns summarizes every run directory under dir, oldest first. A
// missing directory has no runs.
func listRuns(dir string) ([]runSummary, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list runs in %s: %w", dir, err)
	}

	var runs []runSummary
	for _, e := range entries {
		if !e.IsDir() || !utils.IsRunID(e.Name()) {
			continue
		}
		r, err := summarizeRun(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		r.ID = e.Name()
		runs = append(runs, r)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].ID < runs[j].ID })
	return runs, nil
}

func summarizeRun(dir string) (runSummary, error) {
	r := runSummary{Best: math.Inf(-1), BestStep: -1}

	train, err := readEvents(filepath.Join(dir, trace.TrainDir))
	if err != nil {
		return r, err
	}
	for _, e := range train {
		if v, ok := scalar(e, optimizer.TagLoss); ok {
			r.Steps++
			r.LastLoss = v
		}
	}

	test, err := readEvents(filepath.Join(dir, trace.TestDir))
	if err != nil {
		return r, err
	}
	for _, e := range test {
		if v, ok := scalar(e, optimizer.TagAvgTotalReward); ok && v > r.Best {
			r.Best = v
			r.BestStep = e.Step
		}
	}
	return r, nil
}

func readEvents(dir string) ([]*trace.Event, error) {
	files, err := trace.Files(dir)
	if err != nil {
		return nil, err
	}
	var events []*trace.Event
	for _, f := range files {
		es, err := trace.ReadFile(f)
		if err != nil {
			return nil, err
		}
		events = append(events, es...)
	}
	return events, nil
}

func scalar(e *trace.Event, tag string) (float64, bool) {
	for _, v := range e.Values {
		if v.Tag == tag && v.Histo == nil {
			return v.Scalar, true
		}
	}
	return 0, false
}
