package lims

import (
	"bufio"
	"fmt"
	"io"
	"io/fs"
	"log"
	"strconv"
	"strings"
)

// MigrateCommand runs the 'migrate' subcommand against one database.
type MigrateCommand struct {
	DB  *DB
	FS  fs.FS
	In  io.Reader
	Out io.Writer
}

// Run dispatches args[0] to the matching migrate action.
func (c *MigrateCommand) Run(args []string) error {
	if c.Out == nil {
		c.Out = io.Discard
	}
	if len(args) < 1 {
		c.printHelp()
		return fmt.Errorf("migrate: missing action")
	}
	if c.FS == nil {
		c.FS = MigrationsFS()
	}

	action := args[0]
	switch action {
	case "up":
		return c.up()
	case "down":
		return c.down()
	case "status":
		return c.status()
	case "version", "force":
		if len(args) < 2 {
			return fmt.Errorf("usage: ophys migrate %s <version_number>", action)
		}
		v, err := strconv.Atoi(args[1])
		if err != nil || v < 0 {
			return fmt.Errorf("invalid version number: %s", args[1])
		}
		if action == "version" {
			return c.to(uint(v))
		}
		return c.force(v)
	case "help":
		c.printHelp()
		return nil
	default:
		c.printHelp()
		return fmt.Errorf("unknown migrate action: %s", action)
	}
}

func (c *MigrateCommand) up() error {
	log.Printf("Running migrations...")
	if err := c.DB.MigrateUp(c.FS); err != nil {
		return err
	}
	return c.reportVersion()
}

func (c *MigrateCommand) down() error {
	log.Printf("Rolling back one migration...")
	if err := c.DB.MigrateDown(c.FS); err != nil {
		return err
	}
	return c.reportVersion()
}

func (c *MigrateCommand) to(version uint) error {
	log.Printf("Migrating to version %d...", version)
	if err := c.DB.MigrateTo(c.FS, version); err != nil {
		return err
	}
	return c.reportVersion()
}

func (c *MigrateCommand) force(version int) error {
	fmt.Fprintf(c.Out, "WARNING: forcing migration version to %d\n", version)
	fmt.Fprintln(c.Out, "This should only be used to recover from a dirty migration state.")
	fmt.Fprint(c.Out, "Continue? [y/N]: ")

	var response string
	if c.In != nil {
		line, _ := bufio.NewReader(c.In).ReadString('\n')
		response = strings.TrimSpace(line)
	}
	if response != "y" && response != "Y" {
		fmt.Fprintln(c.Out, "Aborted")
		return nil
	}

	if err := c.DB.MigrateForce(c.FS, version); err != nil {
		return err
	}
	return c.reportVersion()
}

func (c *MigrateCommand) status() error {
	status, err := c.DB.GetMigrationStatus(c.FS)
	if err != nil {
		return err
	}

	fmt.Fprintln(c.Out, "=== Migration Status ===")
	fmt.Fprintf(c.Out, "Current version: %d\n", status.CurrentVersion)
	fmt.Fprintf(c.Out, "Latest version: %d\n", status.LatestVersion)
	fmt.Fprintf(c.Out, "Dirty: %v\n", status.Dirty)
	fmt.Fprintf(c.Out, "Schema migrations table exists: %v\n", status.SchemaMigrationsExists)
	if status.Dirty {
		fmt.Fprintln(c.Out, "\nWARNING: database is in a dirty state.")
		fmt.Fprintln(c.Out, "Inspect it, fix the failed migration, then run: ophys migrate force <version>")
	} else if status.Pending() {
		fmt.Fprintln(c.Out, "\nPending migrations. Run: ophys migrate up")
	}
	return nil
}

func (c *MigrateCommand) reportVersion() error {
	version, dirty, err := c.DB.MigrateVersion(c.FS)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.Out, "Current version: %d (dirty: %v)\n", version, dirty)
	return nil
}

func (c *MigrateCommand) printHelp() {
	fmt.Fprint(c.Out, `Usage: ophys migrate <action> [args]

Actions:
  up                 apply all pending migrations
  down               roll back the most recent migration
  status             show current and latest schema version
  version <n>        migrate up or down to version n
  force <n>          set the recorded version without running migrations
  help               show this help
`)
}
