// Command accounts inspects and maintains the account table of a stopped or
// running server.
//
//	accounts -config config.yaml list
//	accounts -config config.yaml prune -unverified -older-than 720h -yes
//	accounts -config config.yaml verify -email alice@example.com
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"studylib/internal/config"
	"studylib/internal/db"
	"studylib/internal/models"
	"studylib/internal/verification"
)

var (
	okColor   = color.New(color.FgGreen)
	warnColor = color.New(color.FgYellow)
	errColor  = color.New(color.FgRed, color.Bold)
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run returns the process exit code so deferred cleanup finishes before
// main exits.
func run(args []string, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("accounts", flag.ContinueOnError)
	flags.SetOutput(stderr)
	configPath := flags.String("config", "config.yaml", "path to config file")
	flags.Usage = func() {
		fmt.Fprintf(stderr, "usage: accounts [-config path] <list|prune|verify> [flags]\n")
		flags.PrintDefaults()
	}
	if err := flags.Parse(args); err != nil {
		return 2
	}
	if flags.NArg() == 0 {
		flags.Usage()
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fail(stderr, "loading config: %v", err)
	}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return fail(stderr, "opening database: %v", err)
	}
	defer database.Close()

	cmd := &command{
		ctx:    context.Background(),
		repo:   db.NewAccountRepository(database),
		out:    stdout,
		errOut: stderr,
	}

	sub := flags.Args()[1:]
	switch flags.Arg(0) {
	case "list":
		err = cmd.list(sub)
	case "prune":
		err = cmd.prune(sub)
	case "verify":
		err = cmd.verify(sub)
	default:
		flags.Usage()
		return 2
	}
	if err != nil {
		return fail(stderr, "%v", err)
	}
	return 0
}

func fail(w io.Writer, format string, args ...any) int {
	errColor.Fprintf(w, "error: "+format+"\n", args...)
	return 1
}

type command struct {
	ctx    context.Context
	repo   *db.AccountRepository
	out    io.Writer
	errOut io.Writer
}

func (c *command) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.errOut)
	return fs
}

func (c *command) list(args []string) error {
	fs := c.flagSet("list")
	unverified := fs.Bool("unverified", false, "only list accounts awaiting verification")
	if err := fs.Parse(args); err != nil {
		return err
	}

	accounts, err := c.repo.List(c.ctx, db.AccountFilter{OnlyUnverified: *unverified})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tEMAIL\tROLE\tSTATUS\tCREATED")
	for _, a := range accounts {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			a.ID, a.Name, a.Email, a.Role, status(a), a.CreatedAt.Format(time.DateOnly))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(c.out, "%d account(s)\n", len(accounts))
	return nil
}

func status(a *models.Account) string {
	switch {
	case a.IsVerified:
		return okColor.Sprint("verified")
	case a.IsPending() && a.VerificationExpiresAt.Before(time.Now()):
		return warnColor.Sprint("code expired")
	default:
		return warnColor.Sprint("pending")
	}
}

// prune deletes student accounts. Admin accounts are never touched.
func (c *command) prune(args []string) error {
	fs := c.flagSet("prune")
	unverified := fs.Bool("unverified", false, "only delete accounts that never verified")
	olderThan := fs.Duration("older-than", 0, "only delete accounts created before now minus this duration")
	yes := fs.Bool("yes", false, "confirm the deletion")
	if err := fs.Parse(args); err != nil {
		return err
	}

	filter := db.AccountFilter{
		ExcludeRoles:   []models.Role{models.RoleAdmin},
		OnlyUnverified: *unverified,
	}
	if *olderThan > 0 {
		cutoff := time.Now().Add(-*olderThan)
		filter.CreatedBefore = &cutoff
	}

	if !*yes {
		matched, err := c.repo.List(c.ctx, filter)
		if err != nil {
			return err
		}
		warnColor.Fprintf(c.out, "%d account(s) would be deleted; rerun with -yes to confirm\n", len(matched))
		return nil
	}

	deleted, err := c.repo.DeleteMany(c.ctx, filter)
	if err != nil {
		return err
	}
	okColor.Fprintf(c.out, "deleted %d account(s)\n", deleted)
	return nil
}

func (c *command) verify(args []string) error {
	fs := c.flagSet("verify")
	addr := fs.String("email", "", "email address of the account to verify")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*addr) == "" {
		return errors.New("-email is required")
	}

	account, err := c.repo.FindByEmail(c.ctx, verification.NormalizeEmail(*addr))
	if errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("no account for %s", *addr)
	}
	if err != nil {
		return err
	}
	if account.IsVerified {
		warnColor.Fprintf(c.out, "%s is already verified\n", account.Email)
		return nil
	}

	if err := c.repo.ForceVerify(c.ctx, account.ID); err != nil {
		return err
	}
	if err := c.repo.MarkJoinedGlobalChat(c.ctx, account.ID); err != nil {
		return err
	}
	okColor.Fprintf(c.out, "verified %s (%s)\n", account.Email, account.ID)
	return nil
}
