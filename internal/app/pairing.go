package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/leafd/internal/config"
	"github.com/dokzlo13/leafd/internal/db"
	"github.com/dokzlo13/leafd/internal/kv"
	"github.com/dokzlo13/leafd/internal/nanoleaf"
)

func newDeviceClient(cfg *config.Config, host, token string) *nanoleaf.Client {
	clientCfg := nanoleaf.DefaultClientConfig()
	clientCfg.Port = cfg.Device.Port
	clientCfg.Timeout = cfg.Device.Timeout.Duration()
	return nanoleaf.NewClient(host, token, clientCfg)
}

// Pair requests a new token from a device in pairing mode and stores it.
func Pair(ctx context.Context, cfg *config.Config) (kv.Credential, error) {
	host, err := resolveHost(ctx, cfg)
	if err != nil {
		return kv.Credential{}, err
	}
	return pairWith(ctx, cfg, newDeviceClient(cfg, host, ""))
}

func pairWith(ctx context.Context, cfg *config.Config, client *nanoleaf.Client) (kv.Credential, error) {
	token, err := client.Authorize(ctx)
	if err != nil {
		return kv.Credential{}, err
	}
	info, err := client.GetInfo(ctx)
	if err != nil {
		return kv.Credential{}, fmt.Errorf("paired, but failed to read device info: %w", err)
	}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return kv.Credential{}, err
	}
	defer database.Close()

	cred := kv.Credential{Token: token, Name: info.Name, SerialNo: info.SerialNo}
	if err := kv.NewCredentials(database.DB).Save(ctx, client.Host(), cred); err != nil {
		return kv.Credential{}, fmt.Errorf("failed to store token: %w", err)
	}

	log.Info().Str("host", client.Host()).Str("name", info.Name).Msg("Device paired, token stored")
	return cred, nil
}

// ResetToken revokes the stored token on the device, best effort, and deletes it.
func ResetToken(ctx context.Context, cfg *config.Config) error {
	host, err := resolveHost(ctx, cfg)
	if err != nil {
		return err
	}
	return resetTokenFor(ctx, cfg, host)
}

func resetTokenFor(ctx context.Context, cfg *config.Config, host string) error {
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer database.Close()

	creds := kv.NewCredentials(database.DB)
	cred, ok, err := creds.Load(ctx, host)
	if err != nil {
		return err
	}
	if !ok {
		log.Info().Str("host", host).Msg("No stored token")
		return nil
	}

	if err := newDeviceClient(cfg, host, cred.Token).Deauthorize(ctx); err != nil {
		log.Warn().Err(err).Str("host", host).Msg("Failed to revoke token on the device, deleting it locally")
	}
	if _, err := creds.Forget(ctx, host); err != nil {
		return err
	}
	log.Info().Str("host", host).Msg("Stored token deleted")
	return nil
}

// DiscoverDevices lists devices advertising the API over mDNS.
func DiscoverDevices(ctx context.Context, cfg *config.Config) ([]nanoleaf.DiscoveredDevice, error) {
	return nanoleaf.Discover(ctx, cfg.Device.DiscoverTimeout.Duration())
}
