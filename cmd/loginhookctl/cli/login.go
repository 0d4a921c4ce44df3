package cli

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrEthical07/loginhook"
	"github.com/MrEthical07/loginhook/credential"
	"github.com/MrEthical07/loginhook/host"
	"github.com/MrEthical07/loginhook/host/redishost"
	"github.com/MrEthical07/loginhook/metrics/export/prometheus"
)

type loginOptions struct {
	user       string
	database   string
	databaseID string
	role       string
	superuser  bool
	file       string
	audit      bool
	metrics    bool
}

func newLoginCommand(opts *globalOptions) *cobra.Command {
	lo := &loginOptions{}

	cmd := &cobra.Command{
		Use:   "login --user NAME --db NAME",
		Short: "Simulate a session start and dispatch the login hook",
		Long: "Simulate one session start against the hook stored in Redis and print how the dispatch ended. " +
			"The command fails when the hook blocks the login.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLogin(cmd, opts, lo)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&lo.user, "user", "u", "", "Session user")
	f.StringVarP(&lo.database, "db", "d", "postgres", "Database name; empty simulates a connection without a database")
	f.StringVar(&lo.databaseID, "db-id", "", "Database identifier (defaults to the database name)")
	f.StringVar(&lo.role, "role", "session", "Process role (session, background_worker, parallel_worker)")
	f.BoolVar(&lo.superuser, "superuser", false, "Present a credential that grants superuser")
	f.StringVarP(&lo.file, "file", "f", "", "Install this Lua hook body before dispatching")
	f.BoolVar(&lo.audit, "audit", false, "Write the audit event as JSON to stderr")
	f.BoolVar(&lo.metrics, "metrics", false, "Print engine metrics in Prometheus format after dispatch")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func parseRole(s string) (host.ProcessRole, error) {
	for _, r := range []host.ProcessRole{host.RoleSession, host.RoleBackgroundWorker, host.RoleParallelWorker} {
		if r.String() == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown role %q", s)
}

func runLogin(cmd *cobra.Command, opts *globalOptions, lo *loginOptions) error {
	role, err := parseRole(lo.role)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	e, err := opts.open(ctx, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer e.Close()

	if lo.file != "" {
		src, err := os.ReadFile(lo.file)
		if err != nil {
			return fmt.Errorf("read hook source: %w", err)
		}
		if err := e.admin.Register(ctx, e.config.Hook.Namespace, e.config.Hook.Routine, string(src)); err != nil {
			return err
		}
	}

	dbID := lo.databaseID
	if dbID == "" {
		dbID = lo.database
	}
	sess := redishost.Session{
		Role:         role,
		DatabaseID:   dbID,
		DatabaseName: lo.database,
		User:         lo.user,
	}

	hostOpts := redishost.Options{Prefix: opts.prefix, Logger: e.logger}
	if lo.superuser {
		verifier, token, err := superuserCredential(lo.user, lo.database)
		if err != nil {
			return err
		}
		hostOpts.Verifier = verifier
		sess.Credential = token
	}
	h := redishost.New(e.client, sess, hostOpts)

	cfg := e.config
	builder := loginhook.New().WithHost(h).WithLogger(e.logger)
	if lo.audit {
		cfg.Audit.Enabled = true
		builder.WithAuditSink(loginhook.NewJSONWriterSink(cmd.ErrOrStderr()))
	}
	engine, err := builder.WithConfig(cfg).Build()
	if err != nil {
		return err
	}
	h.SetDispatcher(engine)

	res, dispatchErr := engine.Dispatch(ctx)
	// Flush the audit event before printing.
	engine.Close()

	out := cmd.OutOrStdout()
	printResult(out, res, h.Notices())
	if lo.metrics {
		fmt.Fprint(out, prometheus.NewPrometheusExporter(engine).Render())
	}
	return dispatchErr
}

// superuserCredential signs a short-lived credential with a throwaway key.
func superuserCredential(user, database string) (*credential.Manager, string, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, "", err
	}
	mgr, err := credential.NewManager(credential.Config{
		TTL:           time.Minute,
		SigningMethod: credential.MethodHS256,
		PrivateKey:    key,
		Issuer:        "loginhookctl",
	})
	if err != nil {
		return nil, "", err
	}
	token, err := mgr.Issue(user, database, true)
	if err != nil {
		return nil, "", err
	}
	return mgr, token, nil
}
