package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/threadmark/internal/auth"
	"github.com/kalambet/threadmark/internal/config"
	"github.com/kalambet/threadmark/internal/storage"
)

const probeTimeout = 3 * time.Second

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon, hub and local storage status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			printError("config error: %v", err)
			return nil
		}
		token, err := config.APIToken(cfg)
		if err != nil {
			printWarning("API token unavailable: %v", err)
		}
		client := &apiClient{
			baseURL:    fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port),
			token:      token,
			httpClient: &http.Client{Timeout: probeTimeout},
		}

		rep := probeStatus(cmd.Context(), cfg, client)
		printStatus("Daemon", "%s", rep.Daemon)
		printStatus("Hub", "%s", rep.Hub)
		printStatus("Local storage", "%s", rep.Local)
		printStatus("Data dir", "%s", cfg.Storage.DataDir)
		return nil
	},
}

type probe struct {
	OK     bool
	Detail string
}

func (p probe) String() string {
	if p.OK {
		return colorize(colorGreen, p.Detail)
	}
	return colorize(colorYellow, p.Detail)
}

type statusReport struct {
	Daemon probe
	Hub    probe
	Local  probe
}

// probeStatus runs the three probes concurrently. Probe failures are
// reported in the result, never returned.
func probeStatus(ctx context.Context, cfg config.Config, client *apiClient) statusReport {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	var rep statusReport
	var g errgroup.Group
	g.Go(func() error {
		rep.Daemon = probeDaemon(ctx, client)
		return nil
	})
	g.Go(func() error {
		rep.Hub = probeHub(ctx, cfg)
		return nil
	})
	g.Go(func() error {
		rep.Local = probeLocal(cfg)
		return nil
	})
	g.Wait()
	return rep
}

func probeDaemon(ctx context.Context, client *apiClient) probe {
	resp, err := client.get(ctx, "/health")
	if err != nil {
		return probe{Detail: "stopped"}
	}
	var health map[string]string
	if err := decodeJSON(resp, &health); err != nil {
		return probe{Detail: fmt.Sprintf("error (%v)", err)}
	}
	return probe{OK: true, Detail: fmt.Sprintf("running at %s (backend %s, storage %s)", client.baseURL, health["backend"], health["storage"])}
}

func probeHub(ctx context.Context, cfg config.Config) probe {
	sessions, err := auth.OpenFile(sessionPath(cfg), nil)
	if err != nil {
		return probe{Detail: fmt.Sprintf("session unreadable (%v)", err)}
	}
	url := hubURL(cfg, sessions)
	if url == "" {
		return probe{OK: true, Detail: "not configured"}
	}

	who := "signed out"
	if s, ok := sessions.CurrentSession(); ok {
		who = "signed in as " + s.User.Label()
	}
	if err := newHubClient(cfg, url, sessions, nil).Ping(ctx); err != nil {
		return probe{Detail: fmt.Sprintf("%s unreachable (%v), %s", url, err, who)}
	}
	return probe{OK: true, Detail: fmt.Sprintf("%s reachable, %s", url, who)}
}

func probeLocal(cfg config.Config) probe {
	local := storage.NewLocal(cfg.Storage.DataDir, storage.LocalOptions{
		Backend:       strings.ToLower(cfg.Storage.Backend),
		FlatFileLimit: int64(cfg.Storage.FlatFileLimit),
		Logger:        newLogger("error"),
	})
	defer local.Close()

	kind := local.Kind()
	if kind == storage.KindUnavailable {
		return probe{Detail: "unavailable"}
	}
	detail := string(kind)
	if err := local.PrimaryError(); err != nil {
		detail += fmt.Sprintf(" (embedded database unavailable: %v)", err)
	}
	if u, ok, err := local.Usage(); err == nil && ok {
		detail += fmt.Sprintf(", %d of %d bytes used", u.Used, u.Limit)
	}
	return probe{OK: local.PrimaryError() == nil, Detail: detail}
}
