package main

import (
	"context"
	"fmt"
	"time"

	"github.com/SmoteReverser/Intune-Deploy-Privileges/pkg/console"
	"github.com/SmoteReverser/Intune-Deploy-Privileges/pkg/constant"
	"github.com/SmoteReverser/Intune-Deploy-Privileges/pkg/countdown"
	"github.com/SmoteReverser/Intune-Deploy-Privileges/pkg/provision"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

// targetUser resolves the user a command acts on: the --user flag when
// given, otherwise the console user.
func targetUser(c *cli.Context) (string, error) {
	if user := c.String("user"); user != "" {
		return user, nil
	}
	usr, err := console.CurrentUser()
	if err != nil {
		return "", fmt.Errorf("resolve console user: %w", err)
	}
	return usr.Name, nil
}

func userFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "user",
		Usage: "Target user (defaults to the console user)",
	}
}

var statusCommand = &cli.Command{
	Name:  "status",
	Usage: "Show the privilege tier and any active revocation countdown",
	Flags: append(watchdogFlags(), userFlag()),
	Action: func(c *cli.Context) error {
		if err := setupLogging(c); err != nil {
			return err
		}

		user, err := targetUser(c)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), constant.DefaultCommandTimeout)
		defer cancel()

		tier, err := newToggle(c).Tier(ctx, user)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", user, tier)

		// The monitor holds the badger lock while running; a locked store
		// is reported, not fatal, since the tier was already printed.
		db, err := openDatabase(c.String("root-dir"))
		if err != nil {
			log.Warn().Err(err).Msg("countdown state unavailable (monitor running?)")
			return nil
		}
		defer db.Close()

		record, err := countdown.NewStore(db.DB).Get(user)
		if err != nil {
			return err
		}
		if record == nil {
			fmt.Println("no revocation countdown active")
			return nil
		}
		fmt.Printf("elevated since %s, revocation at %s\n",
			record.StartedAt.Local().Format(time.RFC3339),
			record.Deadline.Local().Format(time.RFC3339))
		return nil
	},
}

var grantCommand = &cli.Command{
	Name:  "grant",
	Usage: "Elevate a user to the admin tier (the watchdog will revoke it after the timeout)",
	Flags: append(watchdogFlags(), userFlag()),
	Action: func(c *cli.Context) error {
		if err := setupLogging(c); err != nil {
			return err
		}

		user, err := targetUser(c)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), constant.DefaultCommandTimeout)
		defer cancel()

		if err := newToggle(c).Grant(ctx, user); err != nil {
			return err
		}
		log.Info().Str("user", user).Msg("admin tier granted")
		return nil
	},
}

var revokeCommand = &cli.Command{
	Name:  "revoke",
	Usage: "Demote a user to the standard tier immediately",
	Flags: append(watchdogFlags(), userFlag()),
	Action: func(c *cli.Context) error {
		if err := setupLogging(c); err != nil {
			return err
		}

		user, err := targetUser(c)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), constant.DefaultCommandTimeout)
		defer cancel()

		if err := newToggle(c).Revoke(ctx, user); err != nil {
			return err
		}
		// Any countdown record is discarded by the monitor's next tick once
		// it observes the standard tier.
		log.Info().Str("user", user).Msg("admin tier revoked")
		return nil
	},
}

var provisionCommand = &cli.Command{
	Name:  "provision",
	Usage: "One-shot device setup: install the app, register launchd jobs, add the Dock tile",
	Flags: append(watchdogFlags(),
		&cli.StringFlag{
			Name:    "app-url",
			Usage:   "URL of the zip archive holding Privileges.app",
			EnvVars: []string{"PRIVWATCH_APP_URL"},
		},
		&cli.StringFlag{
			Name:    "dockutil-url",
			Usage:   "URL of the dockutil installer pkg (installed only when missing)",
			EnvVars: []string{"PRIVWATCH_DOCKUTIL_URL"},
		},
	),
	Action: func(c *cli.Context) error {
		if err := setupLogging(c); err != nil {
			return err
		}

		p := provision.New(provision.Options{
			RootDir:        c.String("root-dir"),
			AppZipURL:      c.String("app-url"),
			DockutilPkgURL: c.String("dockutil-url"),
			CheckInterval:  c.Duration("check-interval"),
			Timeout:        time.Duration(c.Int("timeout")) * time.Second,
		})
		return p.Run(c.Context)
	},
}
