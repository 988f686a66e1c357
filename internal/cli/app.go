// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// app.go - Session wiring shared by the chat, ask and history commands.

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/jeranaias/innerguide/internal/chat"
	"github.com/jeranaias/innerguide/internal/cloud"
	"github.com/jeranaias/innerguide/internal/config"
	"github.com/jeranaias/innerguide/internal/model"
	"github.com/jeranaias/innerguide/internal/storage"
)

// session is an orchestrator bound to the gateway it writes to.
type session struct {
	orch    *chat.Orchestrator
	gateway storage.Gateway
}

// Close flushes pending writes and closes the gateway.
func (s *session) Close() error {
	if s.orch != nil {
		_ = s.orch.Close()
	}
	if s.gateway != nil {
		return s.gateway.Close()
	}
	return nil
}

// identity returns the configured user. The access token is the bearer
// credential; the client falls back to inference.api_key when it is empty.
func (a *app) identity() chat.Identity {
	return chat.Identity{
		UserID: a.cfg.Session.UserID,
		Token:  a.cfg.Session.AccessToken,
	}
}

// newClient builds the inference client from config.
func (a *app) newClient() *cloud.Client {
	inf := a.cfg.Inference
	return cloud.NewClient(cloud.Options{
		URL:               inf.URL,
		Token:             inf.APIKey,
		Model:             inf.Model,
		RequestsPerMinute: inf.RequestsPerMinute,
		HTTPClient:        a.httpClient,
		UserAgent:         "innerguide/" + Version,
		Logger:            a.logger,
	})
}

// openGateway opens the configured gateway, or an in-memory one for
// --ephemeral sessions.
func (a *app) openGateway() (storage.Gateway, error) {
	if a.ephemeral {
		return storage.NewMemoryGateway(), nil
	}
	return storage.Open(a.cfg.Storage)
}

// requireUser fails when no user is configured. Commands that read or
// delete stored turns need one.
func (a *app) requireUser(command string) error {
	if a.cfg.Session.UserID == "" {
		return &UsageError{
			Field:   "session.user_id",
			Reason:  command + " needs a user; set it in the config or INNERGUIDE_USER_ID",
			Example: "innerguide config set session.user_id you@example.com",
		}
	}
	return nil
}

// openSession wires an orchestrator for a chat or ask command. A gateway
// that fails to open is logged and the session continues unsaved.
func (a *app) openSession(transcript *model.Transcript) (*session, error) {
	client := a.newClient()
	if !client.IsConfigured() {
		return nil, fmt.Errorf("%w: set inference.url or INNERGUIDE_URL", cloud.ErrNotConfigured)
	}
	a.logger.Debug().
		Str("key", client.KeyFingerprint()).
		Str("token", cloud.Fingerprint(a.cfg.Session.AccessToken)).
		Msg("inference client ready")

	var gw storage.Gateway
	if a.cfg.Session.UserID != "" {
		g, err := a.openGateway()
		if err != nil {
			a.logger.Warn().Err(err).Str("driver", a.cfg.Storage.Driver).Msg("storage unavailable, this session will not be saved")
			fmt.Fprintf(a.stderr, "%s %s\n", a.errOut.Warning.Render("[WARN]"), "Storage unavailable; this session will not be saved.")
		} else {
			gw = g
		}
	}

	orch, err := chat.New(chat.Options{
		Transcript:     transcript,
		Client:         client,
		Gateway:        gw,
		Notifier:       a.notifier(),
		Identity:       a.identity(),
		HistoryLimit:   a.cfg.History.Limit,
		PersistTimeout: a.cfg.Storage.PersistTimeout(),
		Logger:         a.logger,
	})
	if err != nil {
		if gw != nil {
			_ = gw.Close()
		}
		return nil, err
	}
	return &session{orch: orch, gateway: gw}, nil
}

// openStore opens the gateway for commands that work on stored turns only.
func (a *app) openStore(command string) (storage.Gateway, error) {
	if err := a.requireUser(command); err != nil {
		return nil, err
	}
	gw, err := a.openGateway()
	if err != nil {
		return nil, newCommandError(command, "open storage", err)
	}
	return gw, nil
}

// notifier prints orchestrator notifications to stderr.
func (a *app) notifier() chat.Notifier {
	return chat.NotifierFunc(func(n chat.Notification) {
		var tag string
		switch n.Level {
		case chat.LevelInfo:
			tag = a.errOut.Dim.Render("[Info]")
		case chat.LevelWarning:
			tag = a.errOut.Warning.Render("[WARN]")
		default:
			tag = a.errOut.Error.Render("[Error]")
		}
		fmt.Fprintf(a.stderr, "%s %s\n", tag, n.Message)
	})
}

// onInterrupt calls cancel on the first SIGINT until the returned stop
// function is called.
func onInterrupt(cancel context.CancelFunc) (stop func()) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	done := make(chan struct{})
	go func() {
		select {
		case <-sigs:
			cancel()
		case <-done:
		}
	}()
	return func() {
		signal.Stop(sigs)
		close(done)
	}
}

// storagePath describes where turns are kept, for display.
func storagePath(cfg config.StorageConfig) string {
	switch cfg.Driver {
	case config.DriverPostgres, config.DriverMySQL:
		return cfg.Driver
	case config.DriverMemory:
		return "memory"
	}
	return cfg.Path
}
