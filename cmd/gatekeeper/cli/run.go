package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
)

const usage = `usage: gatekeeper [serve]
       gatekeeper policy check [--file FILE] [--json]
       gatekeeper policy explain --path PATH [--method GET] [--authority ROLE] [--user NAME] [--file FILE] [--json]
       gatekeeper jobs trigger NAME [--redis ADDR]
       gatekeeper jobs stats [--redis ADDR] [--json]
`

// Run executes an operator subcommand and returns the process exit code.
// args excludes the program name.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		_, _ = fmt.Fprint(stderr, usage)
		return 2
	}
	switch args[0] + " " + args[1] {
	case "policy check":
		return runPolicyCheck(args[2:], stdout, stderr)
	case "policy explain":
		return runPolicyExplain(args[2:], stdout, stderr)
	case "jobs trigger":
		return runJobsTrigger(ctx, args[2:], stdout, stderr)
	case "jobs stats":
		return runJobsStats(args[2:], stdout, stderr)
	default:
		_, _ = fmt.Fprint(stderr, usage)
		return 2
	}
}

func newFlagSet(name string, stderr io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func parse(fs *pflag.FlagSet, args []string) (int, bool) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0, false
		}
		return 2, false
	}
	return 0, true
}

func addPolicyFlags(fs *pflag.FlagSet, opts *PolicyOptions) {
	fs.StringVar(&opts.File, "file", os.Getenv("POLICY_FILE"), "policy YAML file (defaults to POLICY_FILE, then the built-in policy)")
	fs.BoolVar(&opts.JSONOutput, "json", false, "print JSON")
}

func runPolicyCheck(args []string, stdout, stderr io.Writer) int {
	opts := PolicyOptions{Stdout: stdout, Stderr: stderr}
	fs := newFlagSet("policy check", stderr)
	addPolicyFlags(fs, &opts)
	if code, ok := parse(fs, args); !ok {
		return code
	}
	return CheckCommand(opts)
}

func runPolicyExplain(args []string, stdout, stderr io.Writer) int {
	opts := ExplainOptions{PolicyOptions: PolicyOptions{Stdout: stdout, Stderr: stderr}}
	fs := newFlagSet("policy explain", stderr)
	addPolicyFlags(fs, &opts.PolicyOptions)
	fs.StringVar(&opts.Path, "path", "", "request path to evaluate")
	fs.StringVarP(&opts.Method, "method", "X", "GET", "HTTP method")
	fs.StringVar(&opts.Authority, "authority", "", "role or authority of the caller; empty means anonymous")
	fs.StringVar(&opts.Username, "user", "", "username of the caller")
	if code, ok := parse(fs, args); !ok {
		return code
	}
	return ExplainCommand(opts)
}

func redisFlag(fs *pflag.FlagSet) *string {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	return fs.String("redis", addr, "Redis address of the job queue")
}

func runJobsTrigger(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("jobs trigger", stderr)
	addr := redisFlag(fs)
	if code, ok := parse(fs, args); !ok {
		return code
	}
	if fs.NArg() != 1 {
		_, _ = fmt.Fprintln(stderr, "jobs trigger: exactly one job name is required")
		return 2
	}
	c := NewJobsCLI(*addr)
	defer func() { _ = c.Close() }()
	info, err := c.Trigger(ctx, fs.Arg(0))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "jobs trigger: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "enqueued %s as %s on %s\n", info.Type, info.ID, info.Queue)
	return 0
}

func runJobsStats(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("jobs stats", stderr)
	addr := redisFlag(fs)
	asJSON := fs.Bool("json", false, "print JSON")
	if code, ok := parse(fs, args); !ok {
		return code
	}
	c := NewJobsCLI(*addr)
	defer func() { _ = c.Close() }()
	stats, err := c.InspectQueue()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "jobs stats: %v\n", err)
		return 1
	}
	if *asJSON {
		if err := json.NewEncoder(stdout).Encode(stats); err != nil {
			_, _ = fmt.Fprintf(stderr, "jobs stats: encode json: %v\n", err)
			return 1
		}
		return 0
	}
	_, _ = fmt.Fprintf(stdout, "queue %s: pending=%d active=%d scheduled=%d retry=%d failed=%d\n",
		stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Failed)
	return 0
}
