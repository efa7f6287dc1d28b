package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"html"
	"net"
	"net/http"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"gosuda.org/portal/portal/core/cryptoops"
	"gosuda.org/portal/sdk"
)

// leasePolicy strips all markup from lease metadata shown in portal listings.
var leasePolicy = bluemonday.StrictPolicy()

func leaseText(s string) string {
	return strings.TrimSpace(html.UnescapeString(leasePolicy.Sanitize(html.UnescapeString(s))))
}

// sanitizeLease returns cfg with plain-text description, owner and tags.
// Tags that are empty once stripped are dropped.
func sanitizeLease(cfg PortalConfig) PortalConfig {
	cfg.Description = leaseText(cfg.Description)
	cfg.Owner = leaseText(cfg.Owner)
	cfg.Tags = lo.FilterMap(cfg.Tags, func(tag string, _ int) (string, bool) {
		tag = leaseText(tag)
		return tag, tag != ""
	})
	return cfg
}

// publish serves handler through every portal relay in cfg.Relays under one
// shared credential. The returned stop closes all listeners and clients.
func publish(ctx context.Context, cfg PortalConfig, handler http.Handler) (stop func(), err error) {
	cfg = sanitizeLease(cfg)
	cred := sdk.NewCredential()
	if cfg.CredKey != "" {
		key, err := base64.StdEncoding.DecodeString(cfg.CredKey)
		if err != nil {
			return nil, fmt.Errorf("decode cred key: %w", err)
		}
		cred2, err := cryptoops.NewCredentialFromPrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("new credential from private key: %w", err)
		}
		cred = cred2
	}

	var clients []*sdk.RDClient
	var listeners []net.Listener
	stop = func() {
		for _, ln := range listeners {
			_ = ln.Close()
		}
		for _, c := range clients {
			_ = c.Close()
		}
	}

	for _, u := range cfg.Relays {
		client, err := sdk.NewClient(func(c *sdk.RDClientConfig) { c.BootstrapServers = []string{u} })
		if err != nil {
			log.Error().Err(err).Str("url", u).Msg("new client failed")
			continue
		}
		clients = append(clients, client)
		ln, err := client.Listen(cred, cfg.Name, []string{"http/1.1"},
			sdk.WithDescription(cfg.Description),
			sdk.WithHide(cfg.Hide),
			sdk.WithOwner(cfg.Owner),
			sdk.WithTags(cfg.Tags),
		)
		if err != nil {
			stop()
			return nil, fmt.Errorf("listen (%s): %w", u, err)
		}
		listeners = append(listeners, ln)
	}
	if len(listeners) == 0 {
		stop()
		return nil, fmt.Errorf("no portal relay accepted the listener")
	}

	for i, ln := range listeners {
		go func() {
			if err := http.Serve(ln, handler); err != nil && err != http.ErrServerClosed && ctx.Err() == nil {
				log.Error().Err(err).Int("listener", i).Msg("[chat] portal http error")
			}
		}()
	}
	log.Info().Msgf("[chat] published as %q on %d portal relay(s)", cfg.Name, len(listeners))
	return stop, nil
}
