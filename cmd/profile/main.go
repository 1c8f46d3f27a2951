// Command profile runs the streaming profiler over one delimited file and
// prints the resulting profile as JSON.
//
// The command is a thin driver around the engine: it feeds the file through
// ingest in fixed-size chunks exactly as a network byte source would, then
// finalizes and emits the profile. It exists both as the operator-facing
// tool and as the reference for how a request-handling layer should drive
// the engine API.
//
// Output modes
//
//   - Default: prints the finalized Profile JSON to stdout.
//   - With -confirm: additionally re-scans the stored rows for the named
//     keys and prints the confirmed keys (with exact duplicate counts) as a
//     second JSON document.
//
// A catastrophic input error (invalid UTF-8, missing header, jagged row)
// prints the error record to stderr and exits non-zero; partial profiles
// are never emitted.
//
// # Metrics
//
// When -dd-metrics is set, run counters and stage durations are buffered
// and submitted to Datadog using the standard DD_API_KEY/DD_ENV environment
// configuration. Without the flag all metrics are discarded.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"profiler/internal/config"
	"profiler/internal/engine"
	"profiler/internal/metrics"
	"profiler/internal/metrics/datadog"
)

func main() {
	var (
		// flagFile is the local path of the delimited file to profile.
		flagFile = flag.String("file", "", "Path of the delimited input file")

		// flagConfig optionally loads the run submission payload from a JSON
		// file. Flags below override nothing when it is set; the payload is
		// authoritative.
		flagConfig = flag.String("config", "", "Path of a run config JSON file (overrides -delimiter/-quoted/-expect-crlf)")

		// flagDelimiter selects the field separator.
		flagDelimiter = flag.String("delimiter", "comma", "Field delimiter: comma|pipe")

		// flagQuoted enables RFC-style quoting rules. When false, quote
		// characters are ordinary content bytes.
		flagQuoted = flag.Bool("quoted", true, "Apply quoting rules (doubled-quote escaping, literal delimiters inside quotes)")

		// flagExpectCRLF records the submitter's line-ending expectation.
		// Detection governs behavior; a mismatch only warns.
		flagExpectCRLF = flag.Bool("expect-crlf", false, "Expect CRLF line endings (mismatch produces a warning)")

		// flagChunk is the ingest chunk size. The engine is insensitive to
		// chunk boundaries; this only affects syscall granularity.
		flagChunk = flag.Int("chunk", 256<<10, "Ingest chunk size in bytes")

		// flagSpillBudget caps the aggregate in-memory footprint of the
		// distinct indexes before they spill to disk.
		flagSpillBudget = flag.Int64("spill-budget", 1<<30, "In-memory distinct-index budget in bytes before spilling")

		// flagWorkers sizes the column worker pool. Zero means one worker
		// per CPU.
		flagWorkers = flag.Int("workers", 0, "Column worker count (0 = NumCPU)")

		// flagWorkspace is the parent directory for the run workspace (spool
		// and spill files). Empty means the OS temp directory.
		flagWorkspace = flag.String("workspace", "", "Parent directory for run workspaces (default: OS temp dir)")

		// flagConfirm names keys to confirm after profiling, as a
		// comma-separated list of keys whose member columns are joined with
		// '+'. Example: -confirm "id,email+dob".
		flagConfirm = flag.String("confirm", "", "Keys to confirm: comma-separated, members joined with '+' (e.g. \"id,email+dob\")")

		// flagPretty controls JSON indentation.
		flagPretty = flag.Bool("pretty", true, "Pretty-print JSON output")

		// flagDDMetrics enables the Datadog metrics backend.
		flagDDMetrics = flag.Bool("dd-metrics", false, "Submit run metrics to Datadog")

		// flagDDJob tags submitted metrics with job:<name>.
		flagDDJob = flag.String("dd-job", "profiler", "Datadog job tag")

		// flagDDTags adds extra Datadog tags, e.g. "env:prod,service:profiler".
		flagDDTags = flag.String("dd-tags", "", "Extra Datadog tags (comma-separated)")
	)
	flag.Parse()

	if strings.TrimSpace(*flagFile) == "" {
		fmt.Fprintln(os.Stderr, "missing -file")
		flag.Usage()
		os.Exit(2)
	}

	logger := log.New(os.Stderr, "profile: ", log.LstdFlags)

	if *flagDDMetrics {
		b, err := datadog.NewBackend(context.Background(), datadog.Options{
			JobName: *flagDDJob,
			Tags:    datadog.ParseTagsCSV(*flagDDTags),
		})
		if err != nil {
			log.Fatalf("datadog metrics init: %v", err)
		}
		metrics.SetBackend(b)
		defer func() {
			if err := b.Close(); err != nil {
				logger.Printf("metrics close: %v", err)
			}
		}()
	}

	rc, err := resolveRunConfig(*flagConfig, *flagDelimiter, *flagQuoted, *flagExpectCRLF)
	if err != nil {
		log.Fatalf("run config: %v", err)
	}

	ec := config.DefaultEngine()
	ec.SpillBudgetBytes = *flagSpillBudget
	if *flagWorkers > 0 {
		ec.ColumnWorkers = *flagWorkers
	}
	if ws := strings.TrimSpace(*flagWorkspace); ws != "" {
		ec.WorkspaceRoot = ws
	}

	eng := engine.New(ec, logger)
	run, err := eng.BeginRun(rc)
	if err != nil {
		log.Fatalf("begin run: %v", err)
	}
	defer func() {
		if err := run.Close(); err != nil {
			logger.Printf("close run: %v", err)
		}
	}()

	if err := ingestFile(run, *flagFile, *flagChunk); err != nil {
		log.Fatalf("%v", err)
	}

	prof, err := run.Finalize()
	if err != nil {
		log.Fatalf("finalize: %v", err)
	}
	printJSON(prof, *flagPretty)

	if keys := parseConfirm(*flagConfirm); len(keys) > 0 {
		confirmed, err := run.ConfirmKeys(keys)
		if err != nil {
			log.Fatalf("confirm keys: %v", err)
		}
		printJSON(confirmed, *flagPretty)
	}
}

// resolveRunConfig builds the run submission payload, preferring an
// explicit config file over the individual flags.
func resolveRunConfig(path, delimiter string, quoted, expectCRLF bool) (config.RunConfig, error) {
	if strings.TrimSpace(path) != "" {
		return config.LoadRunConfig(path)
	}
	rc := config.RunConfig{
		Delimiter:  config.Delimiter(delimiter),
		Quoted:     quoted,
		ExpectCRLF: expectCRLF,
	}
	if err := rc.Validate(); err != nil {
		return rc, err
	}
	return rc, nil
}

// ingestFile streams the file into the run in fixed-size chunks. A
// catastrophic abort is reported as an error carrying the record; the
// caller must not finalize afterwards.
func ingestFile(run *engine.Run, path string, chunk int) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	if fi, err := f.Stat(); err == nil {
		run.SetExpectedBytes(fi.Size())
	}

	buf := make([]byte, chunk)
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			out, err := run.Ingest(buf[:n])
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			if out.Aborted {
				return fmt.Errorf("run aborted: %s", out.Err.Error())
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return fmt.Errorf("read input: %w", rerr)
		}
	}
}

// parseConfirm parses the -confirm syntax: keys separated by commas,
// member columns joined with '+'.
func parseConfirm(s string) [][]string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var out [][]string
	for _, key := range strings.Split(s, ",") {
		var cols []string
		for _, c := range strings.Split(key, "+") {
			c = strings.TrimSpace(c)
			if c != "" {
				cols = append(cols, c)
			}
		}
		if len(cols) > 0 {
			out = append(out, cols)
		}
	}
	return out
}

func printJSON(v any, pretty bool) {
	enc := json.NewEncoder(os.Stdout)
	if pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(v); err != nil {
		log.Fatalf("encode output: %v", err)
	}
}
