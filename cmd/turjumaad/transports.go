package main

import (
	"github.com/harunnryd/turjumaad/pkg/configutil"
	"github.com/harunnryd/turjumaad/pkg/transports"
	mocktransport "github.com/harunnryd/turjumaad/pkg/transports/mock"
	"github.com/harunnryd/turjumaad/pkg/transports/telegram"
	twiliotransport "github.com/harunnryd/turjumaad/pkg/transports/twilio"
	"github.com/harunnryd/turjumaad/pkg/transports/websocket"
	"github.com/harunnryd/turjumaad/pkg/turjumaad"
)

const transportSettings = "transports.settings"

func registerTransports(reg *turjumaad.ProviderRegistry) {
	reg.RegisterTransport("telegram", func(cfg turjumaad.Config) (transports.Transport, error) {
		var s telegram.Config
		if err := decode(transportSettings, cfg.Transports.Settings, &s, configutil.Schema{
			Required: []string{"token"},
			Optional: []string{"api_endpoint", "file_endpoint", "poll_timeout", "keyboard", "debug"},
		}); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(s.Token, transportSettings+".token"); err != nil {
			return nil, err
		}
		s.Keyboard = configutil.SplitList(s.Keyboard)
		return telegram.New(s), nil
	})

	reg.RegisterTransport("twilio", func(cfg turjumaad.Config) (transports.Transport, error) {
		var s twiliotransport.Config
		if err := decode(transportSettings, cfg.Transports.Settings, &s, configutil.Schema{
			Required: []string{"account_sid", "auth_token", "from"},
			Optional: []string{"public_url", "server_addr", "webhook_path", "status_callback_path"},
		}); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(s.AccountSID, transportSettings+".account_sid"); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(s.AuthToken, transportSettings+".auth_token"); err != nil {
			return nil, err
		}
		return twiliotransport.New(s), nil
	})

	reg.RegisterTransport("websocket", func(cfg turjumaad.Config) (transports.Transport, error) {
		var s websocket.Config
		if err := decode(transportSettings, cfg.Transports.Settings, &s, configutil.Schema{
			Optional: []string{"server_addr", "path", "allowed_origins", "allow_any_origin", "sender_param"},
		}); err != nil {
			return nil, err
		}
		s.AllowedOrigins = configutil.SplitList(s.AllowedOrigins)
		return websocket.New(s), nil
	})

	reg.RegisterTransport("mock", func(cfg turjumaad.Config) (transports.Transport, error) {
		return mocktransport.New(), nil
	})
}
