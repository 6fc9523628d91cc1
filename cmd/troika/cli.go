package main

import (
	"flag"
	"fmt"
	"strings"
)

// Options holds the parsed command line.
type Options struct {
	ConfigPath string
	Logfile    string
	AppendLog  bool
	Verbose    int
	Quiet      int
	DryRun     bool

	Action  string
	Site    string
	Script  string
	User    string
	Output  string
	JobID   string
	Defines []string
	Timeout int
}

type defineList []string

func (d *defineList) String() string { return strings.Join(*d, ",") }

func (d *defineList) Set(v string) error {
	*d = append(*d, v)
	return nil
}

const usageText = `usage: troika [options] <action> [action options] <site> [script]

Submit, monitor and kill jobs on remote systems.

actions:
  submit            submit a new job
  monitor           monitor a submitted job
  kill              kill a submitted job
  check-connection  check whether the connection works
  list-sites        list available sites

environment variables:
  TROIKA_CONFIG_FILE    path to the default configuration file
`

// ParseFlags parses the global flags, the action name and the action's own
// flags and positional arguments.
func ParseFlags(args []string) (Options, error) {
	var opts Options

	fs := flag.NewFlagSet("troika", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usageText)
		fs.PrintDefaults()
	}
	fs.StringVar(&opts.ConfigPath, "c", "", "path to the configuration file")
	fs.StringVar(&opts.ConfigPath, "config", "", "path to the configuration file")
	fs.StringVar(&opts.Logfile, "l", "", "save log output to this file")
	fs.StringVar(&opts.Logfile, "logfile", "", "save log output to this file")
	fs.BoolVar(&opts.AppendLog, "A", false, "append to the log file instead of overwriting")
	fs.BoolVar(&opts.AppendLog, "append-log", false, "append to the log file instead of overwriting")
	verbose := counter{&opts.Verbose}
	quiet := counter{&opts.Quiet}
	fs.Var(verbose, "v", "increase verbosity level (can be repeated)")
	fs.Var(verbose, "verbose", "increase verbosity level (can be repeated)")
	fs.Var(quiet, "q", "decrease verbosity level (can be repeated)")
	fs.Var(quiet, "quiet", "decrease verbosity level (can be repeated)")
	fs.BoolVar(&opts.DryRun, "n", false, "do not execute, just report")
	fs.BoolVar(&opts.DryRun, "dryrun", false, "do not execute, just report")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}

	rest := fs.Args()
	if len(rest) == 0 {
		return opts, fmt.Errorf("please specify an action")
	}
	opts.Action = rest[0]

	afs := flag.NewFlagSet("troika "+opts.Action, flag.ContinueOnError)
	var defines defineList
	switch opts.Action {
	case "submit":
		afs.StringVar(&opts.User, "u", "", "remote user")
		afs.StringVar(&opts.User, "user", "", "remote user")
		afs.StringVar(&opts.Output, "o", "", "job output file")
		afs.StringVar(&opts.Output, "output", "", "job output file")
		afs.Var(&defines, "D", "set this directive in the submitted job (name=value, can be repeated)")
		afs.Var(&defines, "define", "set this directive in the submitted job (name=value, can be repeated)")
	case "monitor", "kill":
		afs.StringVar(&opts.User, "u", "", "remote user")
		afs.StringVar(&opts.User, "user", "", "remote user")
		afs.StringVar(&opts.Output, "o", "", "job output file")
		afs.StringVar(&opts.Output, "output", "", "job output file")
		afs.StringVar(&opts.JobID, "j", "", "remote job ID")
		afs.StringVar(&opts.JobID, "jobid", "", "remote job ID")
	case "check-connection":
		afs.StringVar(&opts.User, "u", "", "remote user")
		afs.StringVar(&opts.User, "user", "", "remote user")
		afs.IntVar(&opts.Timeout, "t", 0, "wait at most this number of seconds")
		afs.IntVar(&opts.Timeout, "timeout", 0, "wait at most this number of seconds")
	case "list-sites":
	default:
		return opts, fmt.Errorf("unknown action %q", opts.Action)
	}
	if err := afs.Parse(rest[1:]); err != nil {
		return opts, err
	}
	opts.Defines = defines

	pos := afs.Args()
	switch opts.Action {
	case "submit", "monitor", "kill":
		if len(pos) != 2 {
			return opts, fmt.Errorf("%s requires <site> and <script> arguments", opts.Action)
		}
		opts.Site, opts.Script = pos[0], pos[1]
	case "check-connection":
		if len(pos) != 1 {
			return opts, fmt.Errorf("check-connection requires a <site> argument")
		}
		opts.Site = pos[0]
	case "list-sites":
		if len(pos) != 0 {
			return opts, fmt.Errorf("list-sites takes no arguments")
		}
	}
	if opts.Action == "submit" && opts.Output == "" {
		return opts, fmt.Errorf("submit requires the -o/--output flag")
	}
	return opts, nil
}

// counter is a boolean flag that increments on every occurrence.
type counter struct {
	n *int
}

func (c counter) String() string { return "" }

func (c counter) IsBoolFlag() bool { return true }

func (c counter) Set(string) error {
	*c.n++
	return nil
}
