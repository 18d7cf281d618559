package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/starford/timedline/internal/activity"
	"github.com/starford/timedline/internal/auth"
	"github.com/starford/timedline/internal/blob"
	"github.com/starford/timedline/internal/kv"
	"github.com/starford/timedline/internal/metrics"
	"github.com/starford/timedline/internal/models"
	"github.com/starford/timedline/internal/objstore"
	"github.com/starford/timedline/internal/rowstore"
	"github.com/starford/timedline/internal/session"
	"github.com/starford/timedline/internal/sse"
	"github.com/starford/timedline/internal/storage"
	"github.com/starford/timedline/internal/storage/local"
	"github.com/starford/timedline/internal/storage/remote"
	"github.com/starford/timedline/internal/vault"
)

// components is the wired object graph shared by every command.
type components struct {
	cfg    *Config
	logger *slog.Logger
	events *sse.Broker // nil outside the server

	store    kv.Store
	blobs    *blob.Registry
	metrics  *metrics.Metrics
	sel      *storage.Selector
	vault    *vault.Manager
	activity *activity.Manager
	prefs    *session.Store
	tracker  *session.Tracker

	// Set only when the remote backend is configured.
	auth    *auth.Session
	remote  *remote.Driver
	rows    *rowstore.DB
	objects *objstore.FS
}

// setup applies opts and builds the logger.
func setup(opts []Option) (*Config, *slog.Logger, error) {
	app := &application{logOutput: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, nil, fmt.Errorf("config is required")
	}
	logger := newLogger(app.logOutput, app.config.App.LogLevel)
	slog.SetDefault(logger)
	return app.config, logger, nil
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// newComponents opens storage, builds the managers and loads them from the
// local driver. The remote backend, if configured, is opened but not
// promoted; call promote for that.
func newComponents(ctx context.Context, cfg *Config, logger *slog.Logger, events *sse.Broker) (*components, error) {
	c := &components{cfg: cfg, logger: logger, events: events}

	store, err := kv.Open(cfg.Local.Engine, cfg.Local.Path, cfg.Local.QuotaBytes)
	if err != nil {
		return nil, fmt.Errorf("init local store: %w", err)
	}
	c.store = store
	c.blobs = blob.NewRegistry(cfg.Local.AttachmentsMaxBytes)
	c.metrics = metrics.New()

	localDrv := local.New(store, c.blobs, logger)
	c.sel = storage.NewSelector(c.metrics.Instrument(localDrv))
	c.metrics.ObserveSwap(c.sel.Current())

	c.activity = activity.New(c.sel,
		activity.WithMirror(localDrv),
		activity.WithLogger(logger),
		activity.WithOnLog(c.publishActivity),
	)
	c.vault = vault.New(c.sel,
		vault.WithActivity(c.activity),
		vault.WithLogger(logger),
		vault.WithOnChange(c.publishChange),
	)
	c.prefs = session.NewStore(store, logger)
	c.tracker = session.NewTracker(c.prefs, c.activity, nil)

	if err := c.activity.Load(ctx); err != nil {
		logger.Warn("initial activity load failed", slog.String("error", err.Error()))
	}
	if err := c.vault.Load(ctx); err != nil {
		logger.Warn("initial vault load failed", slog.String("error", err.Error()))
	}

	reloadCtx := context.WithoutCancel(ctx)
	c.sel.OnSwap(func(b storage.Binding) {
		c.metrics.ObserveSwap(b)
		logger.Info("storage driver swapped",
			slog.String("driver", b.Driver.Name()), slog.Uint64("generation", b.Generation))
		c.reload(reloadCtx)
		c.publish(sse.EventDriverSwapped, map[string]any{
			"driver":     b.Driver.Name(),
			"generation": b.Generation,
		})
	})

	switch {
	case cfg.WantsRemote():
		if err := c.openRemote(ctx); err != nil {
			logger.Warn("remote backend failed to initialise, staying on local storage",
				slog.String("error", err.Error()))
		}
	case cfg.Storage.Driver == storage.DriverRemote:
		logger.Warn("remote backend is not fully configured, staying on local storage")
	}
	return c, nil
}

// openRemote builds the row store, object store, session and driver. On
// failure nothing remote is left open and c.remote stays nil.
func (c *components) openRemote(ctx context.Context) (err error) {
	rc := c.cfg.Remote
	rows, err := rowstore.Open(rc.Database.DSN)
	if err != nil {
		return fmt.Errorf("init remote rows: %w", err)
	}
	defer func() {
		if err == nil {
			return
		}
		if cerr := rows.Close(); cerr != nil {
			c.logger.Warn("close remote rows failed", slog.String("error", cerr.Error()))
		}
		c.objects = nil
	}()

	var objects remote.Objects
	switch rc.Objects.Backend {
	case ObjectsS3:
		s3, err := objstore.NewS3(ctx, objstore.S3Config{
			Bucket:          rc.Objects.Bucket,
			Endpoint:        rc.Objects.Endpoint,
			Region:          rc.Objects.Region,
			AccessKeyID:     rc.Objects.AccessKeyID,
			SecretAccessKey: rc.Objects.SecretAccessKey,
			PathStyle:       rc.Objects.PathStyle,
		})
		if err != nil {
			return fmt.Errorf("init s3 objects: %w", err)
		}
		objects = s3
	default:
		fs, err := objstore.NewFS(rc.Objects.Root, c.cfg.App.HTTP.PublicURL, rc.Session.JWTSecret)
		if err != nil {
			return fmt.Errorf("init fs objects: %w", err)
		}
		c.objects = fs
		objects = fs
	}

	c.rows = rows
	c.auth = auth.New(auth.Config{
		Secret:      rc.Session.JWTSecret,
		Issuer:      rc.Session.Issuer,
		RedirectURL: rc.Session.RedirectURL,
	}, c.store, c.logger)
	c.remote = remote.New(c.auth, rows, objects,
		remote.WithPublicObjects(rc.Objects.Public),
		remote.WithLogger(c.logger),
	)

	reloadCtx := context.WithoutCancel(ctx)
	c.auth.OnChange(func(u *models.User) {
		if !c.sel.IsRemote() {
			return
		}
		c.reload(reloadCtx)
		c.publish(sse.EventAuthChanged, map[string]any{"user": u})
	})
	return nil
}

// promote swaps the remote driver in, if one was opened.
func (c *components) promote() error {
	if c.remote == nil {
		return nil
	}
	if err := c.sel.Promote(c.metrics.Instrument(c.remote)); err != nil && !errors.Is(err, storage.ErrAlreadyPromoted) {
		return err
	}
	return nil
}

func (c *components) reload(ctx context.Context) {
	if err := c.vault.Load(ctx); err != nil {
		c.logger.Warn("vault reload failed", slog.String("error", err.Error()))
	}
	if err := c.activity.Load(ctx); err != nil {
		c.logger.Warn("activity reload failed", slog.String("error", err.Error()))
	}
}

func (c *components) publish(typ string, data any) {
	if c.events != nil {
		c.events.Publish(sse.Event{Type: typ, Data: data})
	}
}

func (c *components) publishChange(ch vault.Change) {
	if c.events != nil {
		c.events.PublishEntryEvent(ch.Kind, ch.Timestamp, ch.Count)
	}
}

func (c *components) publishActivity(item models.ActivityItem) {
	c.publish(sse.EventActivityLogged, item)
}

// Close waits for in-flight activity writes and releases storage.
func (c *components) Close() {
	c.activity.Wait()
	c.blobs.Close()
	if c.rows != nil {
		if err := c.rows.Close(); err != nil {
			c.logger.Warn("close remote rows failed", slog.String("error", err.Error()))
		}
	}
	if err := c.store.Close(); err != nil {
		c.logger.Warn("close local store failed", slog.String("error", err.Error()))
	}
}
