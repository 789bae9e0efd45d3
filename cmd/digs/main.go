package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/digsapp/digs/internal/cli/styles"
	"github.com/digsapp/digs/internal/config"
	"github.com/digsapp/digs/internal/discogs"
	"github.com/digsapp/digs/internal/domain"
	"github.com/digsapp/digs/internal/log"
	"github.com/digsapp/digs/internal/search"
	"github.com/digsapp/digs/internal/store"
	"github.com/digsapp/digs/internal/syncer"
)

// Version is set at build time via -ldflags
var Version = "dev"

const clearProgressLine = "\r                                                            \r"

func main() {
	var showVersion bool
	flag.BoolVar(&showVersion, "v", false, "print version")
	flag.BoolVar(&showVersion, "version", false, "print version")
	flag.Usage = usage
	flag.Parse()

	if showVersion {
		fmt.Printf("digs %s\n", Version)
		return
	}

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	if err := run(args[0], args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `digs - keep a local mirror of your Discogs collection

Usage:
  digs <command> [flags]

Commands:
  login              authorize with Discogs and store the access token
  logout             discard the stored access token
  sync [-full]       sync the collection (incremental after the first run)
  details [-max N]   fetch full details for releases that still need them
  search <query>     search the local collection
  random             pick something to put on
  status             show collection and sync status

Flags:
  -v, -version       print version
`)
}

func run(cmd string, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, closer, err := log.SetupLogger(cfg.Logging.File, cfg.Logging.Level)
	if err != nil {
		logger = log.NullLogger()
	}
	if closer != nil {
		defer closer.Close()
	}
	slog.SetDefault(logger)

	logger.Info("starting digs", "version", Version, "command", cmd)

	app, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	switch cmd {
	case "login":
		return app.login(ctx)
	case "logout":
		return app.logout(ctx)
	case "sync":
		fs := flag.NewFlagSet("sync", flag.ExitOnError)
		full := fs.Bool("full", false, "force a full re-sync")
		if err := fs.Parse(args); err != nil {
			return err
		}
		return app.sync(ctx, *full)
	case "details":
		fs := flag.NewFlagSet("details", flag.ExitOnError)
		maxReleases := fs.Int("max", cfg.Sync.BackgroundMaxReleases, "max releases to fetch")
		if err := fs.Parse(args); err != nil {
			return err
		}
		return app.details(ctx, *maxReleases)
	case "search":
		if len(args) == 0 {
			return fmt.Errorf("search requires a query")
		}
		return app.runSearch(ctx, strings.Join(args, " "))
	case "random":
		return app.random(ctx)
	case "status":
		return app.status(ctx)
	default:
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// app wires the stores, the API client, and the sync engine together
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	session *store.SessionStore
	store   *store.Store
	limiter *discogs.Limiter
	client  *discogs.Client
	engine  *syncer.Engine
	search  *search.Service
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	if err := os.MkdirAll(cfg.Storage.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	session, err := store.OpenSession(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}

	db, err := store.Open(filepath.Join(cfg.Storage.DataDir, "collection.db"), logger)
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to open collection store: %w", err)
	}

	limiter := discogs.NewLimiter(0, 0)

	var clientOpts *discogs.ClientOptions
	if cfg.Discogs.BaseURL != "" {
		clientOpts = &discogs.ClientOptions{BaseURL: cfg.Discogs.BaseURL}
	}
	client := discogs.NewClient(session, limiter, clientOpts, logger)

	engine := syncer.New(client, db, session, syncer.NewTracker(), syncer.Options{
		PageSize:           cfg.Sync.PageSize,
		DetailBatchSize:    cfg.Sync.DetailBatchSize,
		ForegroundBatchCap: cfg.Sync.ForegroundBatchCap,
		BatchPause:         cfg.Sync.BatchPause,
	}, logger)

	a := &app{
		cfg:     cfg,
		logger:  logger,
		session: session,
		store:   db,
		limiter: limiter,
		client:  client,
		engine:  engine,
		search:  search.NewService(db, logger),
	}

	engine.Logout = func(ctx context.Context) {
		if err := a.clearSession(); err != nil {
			logger.Error("failed to clear session after auth expiry", "error", err)
		}
		fmt.Println()
		fmt.Printf("%s Discogs rejected the stored token. Run %s to re-authorize.\n",
			styles.Cross, styles.AccentStyle.Render("digs login"))
	}

	return a, nil
}

func (a *app) Close() {
	a.limiter.Close()
	if err := a.store.Close(); err != nil {
		a.logger.Error("failed to close collection store", "error", err)
	}
	if err := a.session.Close(); err != nil {
		a.logger.Error("failed to close session store", "error", err)
	}
}

func (a *app) clearSession() error {
	a.client.ClearCredentials()
	return a.session.ClearCredentials()
}

// login runs the three-legged OAuth flow on the terminal
func (a *app) login(ctx context.Context) error {
	if !a.cfg.IsConfigured() {
		return fmt.Errorf("no consumer key configured: set discogs.consumer_key and discogs.consumer_secret in %s, or DIGS_DISCOGS_CONSUMER_KEY / DIGS_DISCOGS_CONSUMER_SECRET in the environment", "~/.config/digs/config.yaml")
	}

	if creds, err := a.session.Credentials(); err == nil && creds != nil {
		fmt.Printf("Already logged in as %s. Run %s first to switch accounts.\n",
			styles.AccentStyle.Render(creds.Username), styles.AccentStyle.Render("digs logout"))
		return nil
	}

	flow := discogs.NewAuthFlow(a.cfg.Discogs.ConsumerKey, a.cfg.Discogs.ConsumerSecret, a.cfg.Discogs.BaseURL, a.logger)

	reqToken, reqSecret, err := flow.RequestToken(ctx)
	if err != nil {
		return fmt.Errorf("failed to get request token: %w", err)
	}

	fmt.Println()
	fmt.Println("Open this URL in your browser and authorize the app:")
	fmt.Println()
	fmt.Printf("  %s\n", styles.AccentStyle.Render(flow.AuthorizationURL(reqToken)))
	fmt.Println()
	fmt.Print("Enter the verification code shown by Discogs: ")

	reader := bufio.NewReader(os.Stdin)
	input, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("failed to read verification code: %w", err)
	}
	verifier := strings.TrimSpace(input)
	if verifier == "" {
		return fmt.Errorf("verification code cannot be empty")
	}

	token, tokenSecret, err := flow.AccessToken(ctx, reqToken, reqSecret, verifier)
	if err != nil {
		return fmt.Errorf("authorization failed: %w", err)
	}

	creds := domain.Credentials{
		ConsumerKey:    a.cfg.Discogs.ConsumerKey,
		ConsumerSecret: a.cfg.Discogs.ConsumerSecret,
		Token:          token,
		TokenSecret:    tokenSecret,
	}
	a.client.SetCredentials(creds)

	username, err := a.client.Identity(ctx)
	if err != nil {
		return fmt.Errorf("failed to verify identity: %w", err)
	}
	creds.Username = username

	if err := a.session.SaveCredentials(creds); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}

	fmt.Println()
	fmt.Printf("%s Logged in as %s\n", styles.Check, styles.AccentStyle.Render(username))
	fmt.Printf("Run %s to mirror your collection.\n", styles.AccentStyle.Render("digs sync"))
	return nil
}

func (a *app) logout(ctx context.Context) error {
	if err := a.clearSession(); err != nil {
		return fmt.Errorf("failed to clear credentials: %w", err)
	}
	// The mirrored collection belongs to the account; drop it too.
	if err := a.store.ClearReleases(ctx); err != nil {
		return fmt.Errorf("failed to clear local collection: %w", err)
	}
	fmt.Printf("%s Logged out\n", styles.Check)
	return nil
}

// sync runs a full or incremental collection sync with inline progress
func (a *app) sync(ctx context.Context, full bool) error {
	creds, err := a.requireLogin()
	if err != nil {
		return err
	}

	_, hasSynced, err := a.session.LastFullSyncAt()
	if err != nil {
		return fmt.Errorf("failed to read sync state: %w", err)
	}

	tracker := a.engine.Tracker()
	tracker.Subscribe(printProgress)

	start := time.Now()
	if full || !hasSynced {
		fmt.Printf("Syncing collection for %s (full)\n", styles.AccentStyle.Render(creds.Username))
		err = a.engine.RunFullSync(ctx, creds.Username)
	} else {
		fmt.Printf("Syncing collection for %s\n", styles.AccentStyle.Render(creds.Username))
		err = a.engine.RunIncrementalSync(ctx, creds.Username)
	}
	fmt.Print(clearProgressLine)

	if err != nil {
		if errors.Is(err, domain.ErrAuthExpired) || errors.Is(err, domain.ErrNotAuthenticated) {
			return fmt.Errorf("not authorized: run digs login")
		}
		return fmt.Errorf("sync failed: %w", err)
	}

	if ctx.Err() != nil {
		fmt.Printf("%s Sync interrupted\n", styles.Pending)
		return nil
	}

	st := tracker.Status()
	if st.DetailFailed > 0 {
		fmt.Printf("%s %d releases failed detail fetch; run %s to retry\n",
			styles.Pending, st.DetailFailed, styles.AccentStyle.Render("digs details"))
	}

	stats, err := a.store.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to read stats: %w", err)
	}
	fmt.Printf("%s Synced %d releases by %d artists in %s\n",
		styles.Check, stats.TotalReleases, stats.TotalArtists, time.Since(start).Round(time.Second))
	return nil
}

// printProgress renders phase and counters on a single terminal line
func printProgress(st syncer.Status) {
	if !st.Syncing {
		return
	}
	line := string(st.Phase)
	if st.Progress != nil && st.Progress.Total > 0 {
		line = fmt.Sprintf("%s %d/%d", st.Phase, st.Progress.Current, st.Progress.Total)
	}
	fmt.Printf("%s%s %s", clearProgressLine, styles.Pending, styles.DimStyle.Render(line))
}

// details fetches full release details outside a sync session
func (a *app) details(ctx context.Context, maxReleases int) error {
	if _, err := a.requireLogin(); err != nil {
		return err
	}

	before, err := a.store.DetailProgress(ctx)
	if err != nil {
		return fmt.Errorf("failed to read detail progress: %w", err)
	}
	if before.Synced >= before.Total {
		fmt.Printf("%s All %d releases already have details\n", styles.Check, before.Total)
		return nil
	}

	fmt.Printf("Fetching details (%d of %d synced)\n", before.Synced, before.Total)
	processed := a.engine.RunDetailBatch(ctx, maxReleases)

	after, err := a.store.DetailProgress(ctx)
	if err != nil {
		return fmt.Errorf("failed to read detail progress: %w", err)
	}
	fmt.Printf("%s Fetched %d releases (%d of %d synced)\n", styles.Check, processed, after.Synced, after.Total)
	return nil
}

// search queries the local collection, no network involved
func (a *app) runSearch(ctx context.Context, query string) error {
	// Warm the in-memory index so fuzzy fallback has data if the
	// full-text index is unusable.
	if err := a.search.RefreshIndex(ctx); err != nil {
		a.logger.Warn("filter index refresh failed", "error", err)
	}

	results, err := a.search.Search(ctx, query)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	if len(results) == 0 {
		fmt.Printf("No matches for %q\n", query)
		return nil
	}

	for _, r := range results {
		fmt.Println(formatRelease(r))
	}
	return nil
}

// formatRelease renders one release as a single result line
func formatRelease(r domain.Release) string {
	artists := make([]string, 0, len(r.Artists))
	for _, a := range r.Artists {
		artists = append(artists, a.Name)
	}

	line := fmt.Sprintf("%s %s %s",
		styles.TitleStyle.Render(strings.Join(artists, ", ")),
		styles.DimStyle.Render("-"),
		r.Title)

	var extras []string
	if r.Year > 0 {
		extras = append(extras, fmt.Sprintf("%d", r.Year))
	}
	for _, f := range r.Formats {
		extras = append(extras, f.Name)
		break
	}
	for _, l := range r.Labels {
		if l.CatNo != "" {
			extras = append(extras, l.CatNo)
		}
		break
	}
	if len(extras) > 0 {
		line += " " + styles.SubtitleStyle.Render("("+strings.Join(extras, ", ")+")")
	}
	return line
}

// random picks one release to put on the turntable
func (a *app) random(ctx context.Context) error {
	r, err := a.store.RandomRelease(ctx, domain.AllFolderID)
	if err != nil {
		if errors.Is(err, domain.ErrItemNotFound) {
			fmt.Printf("Collection is empty; run %s first\n", styles.AccentStyle.Render("digs sync"))
			return nil
		}
		return fmt.Errorf("failed to pick a release: %w", err)
	}
	fmt.Println(formatRelease(*r))
	return nil
}

// status reports login state, collection counts, and sync recency
func (a *app) status(ctx context.Context) error {
	creds, err := a.session.Credentials()
	if err != nil {
		return fmt.Errorf("failed to read session: %w", err)
	}
	if creds == nil {
		fmt.Printf("%s Not logged in\n", styles.Cross)
		return nil
	}
	fmt.Printf("%s Logged in as %s\n", styles.Check, styles.AccentStyle.Render(creds.Username))

	lastSync, hasSynced, err := a.session.LastFullSyncAt()
	if err != nil {
		return fmt.Errorf("failed to read sync state: %w", err)
	}
	if !hasSynced {
		fmt.Printf("%s Never synced; run %s\n", styles.Pending, styles.AccentStyle.Render("digs sync"))
		return nil
	}
	fmt.Printf("  Last full sync: %s\n", lastSync.Local().Format("2006-01-02 15:04"))

	folders, err := a.store.Folders(ctx)
	if err != nil {
		return fmt.Errorf("failed to read folders: %w", err)
	}
	stats, err := a.store.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to read stats: %w", err)
	}
	detail, err := a.store.DetailProgress(ctx)
	if err != nil {
		return fmt.Errorf("failed to read detail progress: %w", err)
	}

	fmt.Printf("  Releases:       %d across %d folders (%d artists)\n",
		stats.TotalReleases, len(folders), stats.TotalArtists)
	if detail.Synced < detail.Total {
		fmt.Printf("  Details:        %d/%d %s\n", detail.Synced, detail.Total,
			styles.DimStyle.Render("(run digs details)"))
	} else {
		fmt.Printf("  Details:        %d/%d\n", detail.Synced, detail.Total)
	}
	return nil
}

// requireLogin returns the stored credentials or a friendly error
func (a *app) requireLogin() (*domain.Credentials, error) {
	creds, err := a.session.Credentials()
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	if creds == nil {
		return nil, fmt.Errorf("not logged in: run digs login")
	}
	return creds, nil
}
