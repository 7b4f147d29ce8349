package main

import (
	"flag"
	"fmt"
	"math"

	"github.com/peterbourgon/ff/v3"
)

const (
	defaultCacheSize = 8
	defaultTreeDepth = 4
	defaultLogLevel  = "info"
	defaultLogFormat = "text"
	defaultDBPath    = "profsnap.db"
)

// Help strings for command line arguments
var (
	cacheSizeHelp = "Maximum number of snapshots kept open. The least recently used " +
		"snapshot is closed when the limit is reached."
	dbPathHelp    = "SQLite database used by export_session."
	logLevelHelp  = "Log level (trace, debug, info, warn, error)."
	logFormatHelp = "Log format: text or json. Logs always go to stderr."
	treeDepthHelp = "Default depth for view_call_tree."
	configHelp    = "Optional configuration file with one 'flag value' pair per line."
	versionHelp   = "Show version."
)

type config struct {
	CacheSize uint
	DBPath    string
	LogLevel  string
	LogFormat string
	TreeDepth int
	Version   bool
}

func parseArgs(args []string) (*config, error) {
	var cfg config

	fs := flag.NewFlagSet("profsnap-mcp", flag.ContinueOnError)

	// Please keep the parameters ordered alphabetically in the source-code.
	fs.UintVar(&cfg.CacheSize, "cache-size", defaultCacheSize, cacheSizeHelp)
	fs.String("config", "", configHelp)
	fs.StringVar(&cfg.DBPath, "db", defaultDBPath, dbPathHelp)
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, logFormatHelp)
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, logLevelHelp)
	fs.IntVar(&cfg.TreeDepth, "tree-depth", defaultTreeDepth, treeDepthHelp)
	fs.BoolVar(&cfg.Version, "version", false, versionHelp)

	if err := ff.Parse(fs, args,
		ff.WithEnvVarPrefix("PROFSNAP"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		ff.WithAllowMissingConfigFile(true),
	); err != nil {
		return nil, err
	}

	if cfg.CacheSize == 0 || cfg.CacheSize > math.MaxUint32 {
		return nil, fmt.Errorf("cache-size must be between 1 and %d, got %d",
			uint64(math.MaxUint32), cfg.CacheSize)
	}
	return &cfg, nil
}
