// Command send_message sends one text or voice message to a running bot over
// the websocket transport and prints the replies as they arrive.
package main

import (
	"encoding/base64"
	"flag"
	"fmt"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	gorilla "github.com/gorilla/websocket"
	"github.com/spf13/viper"

	"github.com/harunnryd/turjumaad/pkg/configutil"
	"github.com/harunnryd/turjumaad/pkg/transports/websocket"
)

type transportConfig struct {
	Transports struct {
		Provider string         `mapstructure:"provider"`
		Settings map[string]any `mapstructure:"settings"`
	} `mapstructure:"transports"`
}

func main() {
	configPath := flag.String("config", "config.yaml", "")
	addr := flag.String("addr", "", "host:port of the bot, overrides the config")
	sender := flag.String("sender", "", "sender id, must be on the allow-list")
	text := flag.String("text", "", "text to translate")
	audio := flag.String("audio", "", "path to a voice recording")
	wait := flag.Duration("wait", 2*time.Minute, "how long to wait for the final reply")
	flag.Parse()
	if *sender == "" || (*text == "") == (*audio == "") {
		fmt.Println("usage: send_message -sender=1001 (-text=... | -audio=file.ogg) [-config=...]")
		os.Exit(1)
	}

	settings, err := loadSettings(*configPath)
	if err != nil {
		fmt.Println("config error:", err)
		os.Exit(1)
	}
	host := *addr
	if host == "" {
		host = settings.ServerAddr
		if host == "" {
			host = ":8090"
		}
		if strings.HasPrefix(host, ":") {
			host = "localhost" + host
		}
	}
	path := settings.Path
	if path == "" {
		path = "/ws"
	}
	u := url.URL{Scheme: "ws", Host: host, Path: path, RawQuery: url.Values{"sender": {*sender}}.Encode()}

	msg := websocket.ClientMessage{ID: uuid.NewString()}
	if *text != "" {
		msg.Type = websocket.TypeText
		msg.Text = *text
	} else {
		data, err := os.ReadFile(*audio)
		if err != nil {
			fmt.Println("audio error:", err)
			os.Exit(1)
		}
		msg.Type = websocket.TypeVoice
		msg.Audio = base64.StdEncoding.EncodeToString(data)
		msg.MIME = mime.TypeByExtension(filepath.Ext(*audio))
	}

	conn, _, err := gorilla.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		fmt.Println("dial error:", err)
		os.Exit(1)
	}
	defer conn.Close()
	if err := conn.WriteJSON(msg); err != nil {
		fmt.Println("send error:", err)
		os.Exit(1)
	}

	_ = conn.SetReadDeadline(time.Now().Add(*wait))
	for {
		var reply websocket.ServerMessage
		if err := conn.ReadJSON(&reply); err != nil {
			fmt.Println("read error:", err)
			os.Exit(1)
		}
		fmt.Printf("[%s] %s\n", reply.Type, reply.Text)
		if reply.Type == websocket.TypeNotice || reply.Type == websocket.TypeError || !reply.Partial {
			return
		}
	}
}

func loadSettings(path string) (websocket.Config, error) {
	var out websocket.Config
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return out, err
	}
	var cfg transportConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return out, err
	}
	if !strings.EqualFold(cfg.Transports.Provider, "websocket") {
		return out, nil
	}
	err := configutil.DecodeSettings(cfg.Transports.Settings, &out)
	return out, err
}
