// Command vault collects secrets from people on behalf of applications.
//
// It serves the capability-URL front end and the app API (vault serve) and
// exposes the same exchange operations on the command line for operators.
//
// @title                      Secret Vault API
// @version                    1.0
// @description                Collects secrets from people on behalf of applications through one-time capability URLs.
// @BasePath                   /
// @securityDefinitions.basic  BasicAuth
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/tbourn/go-secret-vault/internal/config"
	"github.com/tbourn/go-secret-vault/internal/mailer"
	"github.com/tbourn/go-secret-vault/internal/repo"
	"github.com/tbourn/go-secret-vault/internal/services"
	"github.com/tbourn/go-secret-vault/internal/sysutil"
	"github.com/tbourn/go-secret-vault/internal/webhook"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// vaultEnv holds what every command needs once configuration is loaded.
type vaultEnv struct {
	cfg     config.Config
	log     zerolog.Logger
	db      *gorm.DB
	audit   *repo.AuditWriter
	vault   *services.VaultService
	sweeper *services.Sweeper
}

// newVaultEnv loads configuration, opens the database and wires the service.
// Lines the service logs at or above AUDIT_LEVEL are also stored in the
// audit_log table.
func newVaultEnv(stderr io.Writer) (*vaultEnv, error) {
	// .env is optional; real environment variables win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	sysutil.SetLogLevel(cfg.LogLevel)
	log.Logger = sysutil.NewLogger(stderr, cfg.LogPretty)

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.DBPath, err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		closeDB(db)
		return nil, fmt.Errorf("migrate: %w", err)
	}

	audit := repo.NewAuditWriter(db, sysutil.ParseLevel(cfg.AuditLevel))
	svcLog := zerolog.New(zerolog.MultiLevelWriter(sysutil.Writer(stderr, cfg.LogPretty), audit)).With().Timestamp().Logger()

	var m mailer.Mailer = mailer.LogMailer{Log: log.Logger}
	if cfg.Mail.UseSMTP() {
		m = mailer.NewSMTPMailer(cfg.Mail.SMTPAddr, cfg.Mail.SMTPUsername, cfg.Mail.SMTPPassword,
			mail.Address{Name: cfg.Mail.FromName, Address: cfg.Mail.FromAddress})
	}

	notifier := webhook.New(webhook.Config{
		Timeout:        cfg.Webhook.Timeout,
		ConnectTimeout: cfg.Webhook.ConnectTimeout,
		UserAgent:      "Vault/" + version,
	}, svcLog)

	vault := services.NewVaultService(db, repo.Store{}, notifier, m, svcLog, services.Options{
		InputBaseURL:      cfg.Vault.InputBaseURL,
		UnlockBaseURL:     cfg.Vault.UnlockBaseURL,
		DeliveryPolicy:    services.DeliveryPolicy(cfg.Vault.DeliveryPolicy),
		RepeatSecretInput: cfg.Vault.RepeatSecretInput,
		MaxSecretBytes:    cfg.Vault.MaxSecretBytes,
	})
	sweeper := services.NewSweeper(db, repo.Store{}, svcLog,
		cfg.Vault.ExpireAnsweredAfter, cfg.Vault.ExpireUnansweredAfter)

	return &vaultEnv{cfg: cfg, log: log.Logger, db: db, audit: audit, vault: vault, sweeper: sweeper}, nil
}

// Close stores pending audit lines and releases the database.
func (rt *vaultEnv) Close() {
	if rt.audit != nil {
		_ = rt.audit.Close()
	}
	closeDB(rt.db)
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// newRootCmd builds the command tree. The environment is created lazily by the
// first command that needs it and closed by execute.
func newRootCmd(stdin io.Reader, stdout, stderr io.Writer, rt **vaultEnv) *cobra.Command {
	root := &cobra.Command{
		Use:           "vault",
		Short:         "Vault collects secrets from people on behalf of applications",
		Long:          `Vault e-mails a one-time link to a person, seals what they submit, notifies the requesting application and reveals the secret exactly once.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			r, err := newVaultEnv(stderr)
			if err != nil {
				return err
			}
			*rt = r
			return nil
		},
	}
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	get := func() *vaultEnv { return *rt }
	root.AddCommand(
		newServeCmd(get),
		newAppCmd(get),
		newRequestCmd(get),
		newSecretCmd(get),
		newUnlockCmd(get),
		newMaintenanceCmd(get),
	)
	return root
}

// execute runs the CLI with args and returns the process exit code.
func execute(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var rt *vaultEnv
	root := newRootCmd(stdin, stdout, stderr, &rt)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if rt != nil {
		rt.Close()
	}
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}
