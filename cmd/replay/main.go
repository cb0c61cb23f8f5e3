// Command replay checks a recorded workflow history against the current
// workflow code. A failure means a code change broke determinism for
// in-flight research runs.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"go.temporal.io/sdk/worker"

	"github.com/opencrew/deepresearch/internal/workflows"
)

func main() {
	historyPath := flag.String("history", "", "Path to Temporal workflow history JSON (from temporal workflow show --output json)")
	flag.Parse()

	if *historyPath == "" {
		fmt.Fprintln(os.Stderr, "usage: replay -history /path/to/history.json")
		os.Exit(2)
	}

	replayer := worker.NewWorkflowReplayer()
	replayer.RegisterWorkflow(workflows.ResearchReportWorkflow)
	replayer.RegisterWorkflow(workflows.SectionResearchWorkflow)

	if err := replayer.ReplayWorkflowHistoryFromJSONFile(nil, *historyPath); err != nil {
		log.Fatalf("Replay failed (non-deterministic change or invalid history): %v", err)
	}
	log.Printf("Replay succeeded for %s", *historyPath)
}
