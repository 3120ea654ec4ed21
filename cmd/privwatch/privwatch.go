package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/SmoteReverser/Intune-Deploy-Privileges/pkg/constant"
	"github.com/SmoteReverser/Intune-Deploy-Privileges/pkg/countdown"
	"github.com/SmoteReverser/Intune-Deploy-Privileges/pkg/database"
	"github.com/SmoteReverser/Intune-Deploy-Privileges/pkg/monitor"
	"github.com/SmoteReverser/Intune-Deploy-Privileges/pkg/platform"
	"github.com/SmoteReverser/Intune-Deploy-Privileges/pkg/privileges"
	"github.com/SmoteReverser/Intune-Deploy-Privileges/pkg/secure"
	"github.com/dgraph-io/badger/v2"
	"github.com/oklog/run"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

var (
	// Flags set by goreleaser during build
	version = ""
	commit  = ""
	date    = ""
)

func main() {
	app := cli.NewApp()
	app.Name = "privwatch"
	app.Usage = "Watchdog for temporary admin privileges granted through Privileges.app"
	app.Commands = []*cli.Command{
		runCommand,
		provisionCommand,
		statusCommand,
		grantCommand,
		revokeCommand,
		versionCommand,
	}

	if err := app.Run(os.Args); err != nil {
		log.Error().Err(err).Msg("")
		os.Exit(1)
	}
}

// watchdogFlags are shared by the commands that need the agent's state and
// toggle configuration.
func watchdogFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "root-dir",
			Usage:   "Root directory for privwatch state",
			Value:   constant.DefaultRootDir,
			EnvVars: []string{"PRIVWATCH_ROOT_DIR"},
		},
		&cli.IntFlag{
			Name:    "timeout",
			Usage:   "Seconds an admin elevation lasts before revocation",
			Value:   int(constant.DefaultTimeout.Seconds()),
			EnvVars: []string{"PRIVWATCH_TIMEOUT"},
		},
		&cli.DurationFlag{
			Name:    "check-interval",
			Usage:   "Interval between privilege tier checks",
			Value:   constant.DefaultCheckInterval,
			EnvVars: []string{"PRIVWATCH_CHECK_INTERVAL"},
		},
		&cli.StringFlag{
			Name:    "privileges-cli",
			Usage:   "Path to the PrivilegesCLI binary",
			Value:   constant.PrivilegesCLIPath,
			EnvVars: []string{"PRIVWATCH_PRIVILEGES_CLI"},
		},
		&cli.BoolFlag{
			Name:    "debug",
			Usage:   "Enable debug logging",
			EnvVars: []string{"PRIVWATCH_DEBUG"},
		},
		&cli.StringFlag{
			Name:    "log-file",
			Usage:   "Log to this file path in addition to stderr",
			EnvVars: []string{"PRIVWATCH_LOG_FILE"},
		},
	}
}

func setupLogging(c *cli.Context) error {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339Nano, NoColor: true})
	if logfile := c.String("log-file"); logfile != "" {
		f, err := secure.OpenFile(logfile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, constant.DefaultFileMode)
		if err != nil {
			return cli.Exit("open logfile: "+err.Error(), 1)
		}
		log.Logger = log.Output(zerolog.MultiLevelWriter(
			zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339Nano, NoColor: true},
			zerolog.ConsoleWriter{Out: f, TimeFormat: time.RFC3339Nano, NoColor: true},
		))
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if c.Bool("debug") {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	return nil
}

// openDatabase opens the local badger store, truncating after an unclean
// shutdown if badger demands it.
func openDatabase(rootDir string) (*database.DB, error) {
	dbPath := filepath.Join(rootDir, constant.DatabaseDirName)
	db, err := database.Open(dbPath)
	if err != nil {
		if !errors.Is(err, badger.ErrTruncateNeeded) {
			return nil, err
		}
		db, err = database.OpenTruncate(dbPath)
		if err != nil {
			return nil, err
		}
		log.Warn().Msg("open badger required truncate, data loss is possible")
	}
	return db, nil
}

func newToggle(c *cli.Context) *privileges.CLIToggle {
	toggle := privileges.NewCLIToggle()
	toggle.CLIPath = c.String("privileges-cli")
	return toggle
}

var runCommand = &cli.Command{
	Name:  "run",
	Usage: "Run the session monitor",
	Flags: append(watchdogFlags(),
		&cli.BoolFlag{
			Name:  "once",
			Usage: "Run a single check and exit (for launchd StartInterval scheduling)",
		},
	),
	Action: func(c *cli.Context) error {
		if err := setupLogging(c); err != nil {
			return err
		}

		rootDir := c.String("root-dir")
		if err := secure.MkdirAll(rootDir, constant.DefaultDirMode); err != nil {
			return cli.Exit("initialize root dir: "+err.Error(), 1)
		}

		// One monitor per session. A concurrent instance exits cleanly so
		// launchd does not flag the job as failing.
		running, err := platform.AnotherInstanceRunning(rootDir, constant.WatchdogPidfile, constant.WatchdogExecName)
		if err != nil {
			log.Warn().Err(err).Msg("check for running instance")
		}
		if running {
			log.Info().Msg("another privwatch instance is active, exiting")
			return nil
		}
		if err := platform.WritePidFile(rootDir, constant.WatchdogPidfile); err != nil {
			log.Warn().Err(err).Msg("write pidfile")
		}

		db, err := openDatabase(rootDir)
		if err != nil {
			return err
		}
		defer func() {
			if err := db.Close(); err != nil {
				log.Error().Err(err).Msg("close badger")
			}
		}()

		timeout := time.Duration(c.Int("timeout")) * time.Second
		m := monitor.New(newToggle(c), countdown.NewStore(db.DB), timeout)

		if c.Bool("once") {
			ctx, cancel := context.WithTimeout(context.Background(), c.Duration("check-interval"))
			defer cancel()
			// Failures are logged with the right severity inside Tick; the
			// next launchd invocation retries from persisted state.
			_ = m.Tick(ctx)
			return nil
		}

		var g run.Group

		runner := monitor.NewRunner(m, c.Duration("check-interval"))
		g.Add(runner.Execute, runner.Interrupt)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		g.Add(run.SignalHandler(ctx, os.Interrupt, os.Kill))

		if err := g.Run(); err != nil {
			log.Error().Err(err).Msg("unexpected exit")
		}
		return nil
	},
}

var versionCommand = &cli.Command{
	Name:  "version",
	Usage: "Get the privwatch version",
	Action: func(c *cli.Context) error {
		fmt.Println("privwatch " + version)
		fmt.Println("commit - " + commit)
		fmt.Println("date - " + date)
		return nil
	},
}
