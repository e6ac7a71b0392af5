// Package config parses the CLI flags and optional JSONC config file
// shared by kvmaster and kvslave. Flags are parsed with pflag; an
// optional config file is read with hujson so comments and trailing
// commas are tolerated, then merged underneath whatever the user passed
// on the command line (flags always win).
package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/tailscale/hujson"
	flag "github.com/spf13/pflag"

	"github.com/dreamware/kvring/internal/kverr"
)

// Master holds kvmaster's tunables. Defaults match §6's CLI spec:
// capacity 2, redundancy 2, cache 4x4.
type Master struct {
	ConfigFile string `json:"-"`
	Host       string `json:"host,omitempty"`
	DataDir    string `json:"data_dir,omitempty"` //nolint:tagliatelle
	Port       int    `json:"port,omitempty"`
	Capacity   int    `json:"capacity,omitempty"`
	Redundancy int    `json:"redundancy,omitempty"`
	CacheSets  int    `json:"cache_sets,omitempty"`  //nolint:tagliatelle
	CacheCap   int    `json:"cache_cap,omitempty"`   //nolint:tagliatelle
	Connect    string `json:"connect,omitempty"`     // duration string, e.g. "1s"
	MaxThreads int    `json:"max_threads,omitempty"` //nolint:tagliatelle
	QueueDepth int    `json:"queue_depth,omitempty"` //nolint:tagliatelle
	LogJSON    bool   `json:"log_json,omitempty"`    //nolint:tagliatelle
}

// ConnectTimeout parses Connect, defaulting to 1 second on empty/invalid
// input (§5's default T_CONNECT).
func (m Master) ConnectTimeout() time.Duration {
	if m.Connect == "" {
		return time.Second
	}
	d, err := time.ParseDuration(m.Connect)
	if err != nil {
		return time.Second
	}
	return d
}

// DefaultMaster returns kvmaster's defaults before any flag or file is
// applied.
func DefaultMaster() Master {
	return Master{
		Host:       "localhost",
		Port:       8888,
		DataDir:    "kvmaster-data",
		Capacity:   2,
		Redundancy: 2,
		CacheSets:  4,
		CacheCap:   4,
		Connect:    "1s",
		MaxThreads: 8,
		QueueDepth: 64,
	}
}

// ParseMaster builds a FlagSet for kvmaster, parses args into it, loads
// an optional config file (flags take precedence over the file, the
// file over built-in defaults), and returns the resolved Master.
func ParseMaster(args []string) (Master, error) {
	cfg := DefaultMaster()
	fs := flag.NewFlagSet("kvmaster", flag.ContinueOnError)

	fs.StringVar(&cfg.ConfigFile, "config", "", "path to a JSONC config file")
	fs.StringVar(&cfg.Host, "host", cfg.Host, "address to bind")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "port to bind")
	fs.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory for master cache state (currently unused on disk)")
	fs.IntVar(&cfg.Capacity, "capacity", cfg.Capacity, "slave_capacity: max registered slaves")
	fs.IntVar(&cfg.Redundancy, "redundancy", cfg.Redundancy, "replicas per key")
	fs.IntVar(&cfg.CacheSets, "cache-sets", cfg.CacheSets, "number of master cache sets (N)")
	fs.IntVar(&cfg.CacheCap, "cache-cap", cfg.CacheCap, "capacity per master cache set (M)")
	fs.StringVar(&cfg.Connect, "connect-timeout", cfg.Connect, "outbound connect timeout, e.g. 1s")
	fs.IntVar(&cfg.MaxThreads, "max-threads", cfg.MaxThreads, "worker pool size")
	fs.IntVar(&cfg.QueueDepth, "queue-depth", cfg.QueueDepth, "work queue capacity")
	fs.BoolVar(&cfg.LogJSON, "log-json", cfg.LogJSON, "emit structured JSON logs")

	if err := fs.Parse(args); err != nil {
		return Master{}, kverr.Wrap(kverr.KindInvalidRequest, err)
	}

	if cfg.ConfigFile != "" {
		file := DefaultMaster()
		if err := loadJSONC(cfg.ConfigFile, &file); err != nil {
			return Master{}, err
		}
		cfg = mergeMaster(file, cfg, fs)
	}
	return cfg, nil
}

// mergeMaster starts from file (the config-file values layered over
// defaults) and overwrites with any flag the user actually set on the
// command line, so flags always win.
func mergeMaster(file, flags Master, fs *flag.FlagSet) Master {
	out := file
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			out.Host = flags.Host
		case "port":
			out.Port = flags.Port
		case "data-dir":
			out.DataDir = flags.DataDir
		case "capacity":
			out.Capacity = flags.Capacity
		case "redundancy":
			out.Redundancy = flags.Redundancy
		case "cache-sets":
			out.CacheSets = flags.CacheSets
		case "cache-cap":
			out.CacheCap = flags.CacheCap
		case "connect-timeout":
			out.Connect = flags.Connect
		case "max-threads":
			out.MaxThreads = flags.MaxThreads
		case "queue-depth":
			out.QueueDepth = flags.QueueDepth
		case "log-json":
			out.LogJSON = flags.LogJSON
		}
	})
	out.ConfigFile = flags.ConfigFile
	return out
}

// Slave holds kvslave's tunables.
type Slave struct {
	ConfigFile string `json:"-"`
	Host       string `json:"host,omitempty"`
	MasterHost string `json:"master_host,omitempty"` //nolint:tagliatelle
	DataDir    string `json:"data_dir,omitempty"`     //nolint:tagliatelle
	LogDir     string `json:"log_dir,omitempty"`      //nolint:tagliatelle
	Port       int    `json:"port,omitempty"`
	MasterPort int    `json:"master_port,omitempty"` //nolint:tagliatelle
	KeyMax     int    `json:"key_max,omitempty"`     //nolint:tagliatelle
	ValMax     int    `json:"val_max,omitempty"`     //nolint:tagliatelle
	CacheSets  int    `json:"cache_sets,omitempty"`  //nolint:tagliatelle
	CacheCap   int    `json:"cache_cap,omitempty"`   //nolint:tagliatelle
	MaxThreads int    `json:"max_threads,omitempty"` //nolint:tagliatelle
	QueueDepth int    `json:"queue_depth,omitempty"` //nolint:tagliatelle
	TPC        bool   `json:"tpc,omitempty"`
	LogJSON    bool   `json:"log_json,omitempty"` //nolint:tagliatelle
}

// DefaultSlave returns kvslave's defaults before any flag or file is
// applied, per §6's CLI spec.
func DefaultSlave() Slave {
	return Slave{
		Host:       "localhost",
		Port:       9000,
		MasterHost: "localhost",
		MasterPort: 8888,
		DataDir:    "kvslave-data",
		LogDir:     "kvslave-log",
		KeyMax:     0, // 0 means "use the store's own default"
		ValMax:     0,
		CacheSets:  4,
		CacheCap:   4,
		MaxThreads: 8,
		QueueDepth: 64,
	}
}

// ParseSlave builds a FlagSet for kvslave, parses args into it, loads an
// optional config file, and returns the resolved Slave.
func ParseSlave(args []string) (Slave, error) {
	cfg := DefaultSlave()
	fs := flag.NewFlagSet("kvslave", flag.ContinueOnError)

	fs.StringVarP(&cfg.ConfigFile, "config", "c", "", "path to a JSONC config file")
	fs.BoolVarP(&cfg.TPC, "tpc", "t", cfg.TPC, "run as a 2PC participant, registering with the master")
	fs.StringVar(&cfg.Host, "host", cfg.Host, "address to bind")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "port to bind")
	fs.StringVar(&cfg.MasterHost, "master-host", cfg.MasterHost, "master address, for TPC registration")
	fs.IntVar(&cfg.MasterPort, "master-port", cfg.MasterPort, "master port, for TPC registration")
	fs.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "on-disk store directory")
	fs.StringVar(&cfg.LogDir, "log-dir", cfg.LogDir, "transaction log directory")
	fs.IntVar(&cfg.KeyMax, "key-max", cfg.KeyMax, "maximum key length (0 = store default)")
	fs.IntVar(&cfg.ValMax, "val-max", cfg.ValMax, "maximum value length (0 = store default)")
	fs.IntVar(&cfg.CacheSets, "cache-sets", cfg.CacheSets, "number of cache sets (N)")
	fs.IntVar(&cfg.CacheCap, "cache-cap", cfg.CacheCap, "capacity per cache set (M)")
	fs.IntVar(&cfg.MaxThreads, "max-threads", cfg.MaxThreads, "worker pool size")
	fs.IntVar(&cfg.QueueDepth, "queue-depth", cfg.QueueDepth, "work queue capacity")
	fs.BoolVar(&cfg.LogJSON, "log-json", cfg.LogJSON, "emit structured JSON logs")

	if err := fs.Parse(args); err != nil {
		return Slave{}, kverr.Wrap(kverr.KindInvalidRequest, err)
	}

	if cfg.ConfigFile != "" {
		file := DefaultSlave()
		if err := loadJSONC(cfg.ConfigFile, &file); err != nil {
			return Slave{}, err
		}
		cfg = mergeSlave(file, cfg, fs)
	}
	return cfg, nil
}

func mergeSlave(file, flags Slave, fs *flag.FlagSet) Slave {
	out := file
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "tpc":
			out.TPC = flags.TPC
		case "host":
			out.Host = flags.Host
		case "port":
			out.Port = flags.Port
		case "master-host":
			out.MasterHost = flags.MasterHost
		case "master-port":
			out.MasterPort = flags.MasterPort
		case "data-dir":
			out.DataDir = flags.DataDir
		case "log-dir":
			out.LogDir = flags.LogDir
		case "key-max":
			out.KeyMax = flags.KeyMax
		case "val-max":
			out.ValMax = flags.ValMax
		case "cache-sets":
			out.CacheSets = flags.CacheSets
		case "cache-cap":
			out.CacheCap = flags.CacheCap
		case "max-threads":
			out.MaxThreads = flags.MaxThreads
		case "queue-depth":
			out.QueueDepth = flags.QueueDepth
		case "log-json":
			out.LogJSON = flags.LogJSON
		}
	})
	out.ConfigFile = flags.ConfigFile
	return out
}

// loadJSONC reads path as JSONC (JSON with comments and trailing
// commas, tolerated via hujson.Standardize) and unmarshals it into out.
func loadJSONC(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return kverr.Wrap(kverr.KindFileAccess, err)
	}
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return kverr.Wrap(kverr.KindInvalidRequest, err)
	}
	if err := json.Unmarshal(standardized, out); err != nil {
		return kverr.Wrap(kverr.KindInvalidRequest, err)
	}
	return nil
}
