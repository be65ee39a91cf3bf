// vtest runs the markdown golden programs through the compiler and the VM,
// once per optimizer setting, and keeps a JSON report of the results.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/go-cmp/cmp"

	"github.com/xplshn/vibec/pkg/compiler"
	"github.com/xplshn/vibec/pkg/config"
	"github.com/xplshn/vibec/pkg/suite"
)

type CaseResult struct {
	Name     string        `json:"name"`
	File     string        `json:"file"`
	Variant  string        `json:"variant"`
	Hash     string        `json:"hash"`
	Status   string        `json:"status"` // PASS, FAIL, ERROR, CACHED
	Message  string        `json:"message,omitempty"`
	Diff     string        `json:"diff,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Key identifies a result across runs.
func (r *CaseResult) Key() string { return r.File + "#" + r.Name + "/" + r.Variant }

type Report map[string]*CaseResult

type job struct {
	file    string
	c       suite.Case
	variant string
	hash    string
}

var (
	suiteFiles = flag.String("suite", "pkg/suite/testdata/*.md", "Glob pattern(s) for markdown suites (space-separated).")
	outputJSON = flag.String("output", ".vtest_results.json", "Output file for the JSON report.")
	variants   = flag.String("variants", "opt noopt", "Optimizer settings to run each case under (opt, noopt).")
	timeout    = flag.Duration("timeout", 5*time.Second, "Timeout for each case.")
	maxSteps   = flag.Int("max-steps", 10_000_000, "VM step budget per case.")
	jobs       = flag.Int("j", 4, "Number of parallel jobs.")
	useCache   = flag.Bool("cached", false, "Skip cases whose source and expectation passed in the previous report.")
	verbose    = flag.Bool("v", false, "Print every case, not only failures.")
)

const (
	cRed    = "\x1b[91m"
	cYellow = "\x1b[93m"
	cGreen  = "\x1b[92m"
	cCyan   = "\x1b[96m"
	cNone   = "\x1b[0m"
)

func main() {
	flag.Parse()
	log.SetFlags(0)

	files, err := expandGlobPatterns(*suiteFiles)
	if err != nil {
		log.Fatalf("%s[ERROR]%s Invalid glob pattern(s): %v\n", cRed, cNone, err)
	}
	if len(files) == 0 {
		log.Println("No suite files found matching the pattern(s).")
		return
	}

	previous := make(Report)
	if *useCache {
		if data, err := os.ReadFile(*outputJSON); err == nil {
			if json.Unmarshal(data, &previous) != nil {
				log.Printf("%s[WARN]%s Could not parse %s. Cache will not be used.\n", cYellow, cNone, *outputJSON)
				previous = make(Report)
			}
		}
	}

	var all []job
	for _, file := range files {
		cases, err := suite.Load(file)
		if err != nil {
			log.Fatalf("%s[ERROR]%s %v\n", cRed, cNone, err)
		}
		for _, c := range cases {
			for _, v := range strings.Fields(*variants) {
				all = append(all, job{file: file, c: c, variant: v, hash: caseHash(c, v)})
			}
		}
	}

	tasks := make(chan job, len(all))
	results := make(chan *CaseResult, len(all))
	var wg sync.WaitGroup

	for i := 0; i < *jobs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range tasks {
				results <- runCase(j)
			}
		}()
	}

	for _, j := range all {
		key := j.file + "#" + j.c.Name + "/" + j.variant
		if prev, ok := previous[key]; ok && prev.Hash == j.hash && (prev.Status == "PASS" || prev.Status == "CACHED") {
			results <- &CaseResult{Name: j.c.Name, File: j.file, Variant: j.variant, Hash: j.hash, Status: "CACHED", Message: "unchanged since last pass"}
			continue
		}
		tasks <- j
	}
	close(tasks)
	wg.Wait()
	close(results)

	var list []*CaseResult
	for r := range results {
		list = append(list, r)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Key() < list[j].Key() })

	printSummary(list)
	report := writeJSONReport(list)
	if hasFailures(report) {
		os.Exit(1)
	}
}

// caseHash keys the cache on everything that decides the outcome of a case.
func caseHash(c suite.Case, variant string) string {
	h := xxhash.New()
	for _, part := range []string{variant, c.Source, c.Output, c.Error, fmt.Sprint(c.WantOutput)} {
		h.WriteString(part)
		h.WriteString("\x00")
	}
	return fmt.Sprintf("%x", h.Sum64())
}

func configFor(variant string) (*config.Config, error) {
	cfg := config.NewConfig()
	cfg.MaxSteps = *maxSteps
	switch variant {
	case "opt":
		return cfg, cfg.ApplyOptLevel(1)
	case "noopt":
		return cfg, cfg.ApplyOptLevel(0)
	}
	return nil, fmt.Errorf("unknown variant '%s'", variant)
}

func runCase(j job) *CaseResult {
	res := &CaseResult{Name: j.c.Name, File: j.file, Variant: j.variant, Hash: j.hash}

	cfg, err := configFor(j.variant)
	if err != nil {
		res.Status, res.Message = "ERROR", err.Error()
		return res
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	start := time.Now()
	out, err := compiler.CompileAndRun(ctx, j.c.Source, cfg)
	res.Duration = time.Since(start)

	switch {
	case j.c.WantError() && err == nil:
		res.Status, res.Message = "FAIL", "expected an error, program succeeded"
		res.Diff = cmp.Diff(j.c.Error, "")
	case j.c.WantError():
		got := suite.Describe(err)
		if diff := cmp.Diff(j.c.Error, got); diff != "" {
			res.Status, res.Message, res.Diff = "FAIL", "error mismatch", diff
		} else {
			res.Status = "PASS"
		}
	case err != nil:
		res.Status, res.Message = "FAIL", suite.Describe(err)
	default:
		if diff := cmp.Diff(j.c.Output, out.Output); diff != "" {
			res.Status, res.Message, res.Diff = "FAIL", "output mismatch", diff
		} else {
			res.Status = "PASS"
		}
	}
	return res
}

func printSummary(results []*CaseResult) {
	counts := make(map[string]int)
	var total time.Duration
	for _, r := range results {
		counts[r.Status]++
		total += r.Duration

		switch r.Status {
		case "PASS", "CACHED":
			if *verbose {
				fmt.Printf("  [%s%s%s] %s%s%s (%s) %s\n", cGreen, r.Status, cNone, cCyan, r.Name, cNone, r.Variant, formatDuration(r.Duration))
			}
		default:
			fmt.Println("----------------------------------------------------------------------")
			fmt.Printf("  [%s%s%s] %s%s%s (%s) in %s\n", cRed, r.Status, cNone, cCyan, r.Name, cNone, r.Variant, filepath.Base(r.File))
			if r.Message != "" {
				fmt.Printf("  %s\n", r.Message)
			}
			if r.Diff != "" {
				fmt.Println(formatDiff(r.Diff))
			}
		}
	}
	fmt.Println("----------------------------------------------------------------------")
	fmt.Printf("%d passed, %d cached, %s%d failed%s, %d errored in %s\n",
		counts["PASS"], counts["CACHED"], cRed, counts["FAIL"], cNone, counts["ERROR"], total.Round(time.Microsecond))
}

func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%6dµs", d.Microseconds())
	}
	return fmt.Sprintf("%6dms", d.Milliseconds())
}

func formatDiff(diff string) string {
	var sb strings.Builder
	for _, line := range strings.Split(strings.TrimRight(diff, "\n"), "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "-"):
			sb.WriteString("    " + cRed + line + cNone + "\n")
		case strings.HasPrefix(trimmed, "+"):
			sb.WriteString("    " + cGreen + line + cNone + "\n")
		default:
			sb.WriteString("    " + line + "\n")
		}
	}
	return sb.String()
}

func writeJSONReport(results []*CaseResult) Report {
	report := make(Report, len(results))
	for _, r := range results {
		report[r.Key()] = r
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.Printf("%s[ERROR]%s Failed to marshal results to JSON: %v\n", cRed, cNone, err)
		return report
	}
	if err := os.WriteFile(*outputJSON, data, 0644); err != nil {
		log.Printf("%s[ERROR]%s Failed to write JSON report to %s: %v\n", cRed, cNone, *outputJSON, err)
	} else if *verbose {
		fmt.Printf("Full report saved to %s\n", *outputJSON)
	}
	return report
}

func hasFailures(report Report) bool {
	for _, r := range report {
		if r.Status == "FAIL" || r.Status == "ERROR" {
			return true
		}
	}
	return false
}

func expandGlobPatterns(patterns string) ([]string, error) {
	var all []string
	seen := make(map[string]bool)
	for _, pattern := range strings.Fields(patterns) {
		files, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %s: %w", pattern, err)
		}
		for _, file := range files {
			abs, err := filepath.Abs(file)
			if err != nil || seen[abs] {
				continue
			}
			if info, err := os.Stat(abs); err == nil && info.Mode().IsRegular() {
				all = append(all, abs)
				seen[abs] = true
			}
		}
	}
	return all, nil
}
