package mqtt

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

const (
	DefaultPrefix  = "airbridge"
	publishTimeout = 10 * time.Second
)

// Config locates the broker accessories are published to.
type Config struct {
	BrokerURL string
	Prefix    string
	ClientID  string
	Username  string
	Password  string
}

func (c Config) Enabled() bool {
	return strings.TrimSpace(c.BrokerURL) != ""
}

func (c Config) prefix() string {
	if prefix := strings.Trim(strings.TrimSpace(c.Prefix), "/"); prefix != "" {
		return prefix
	}
	return DefaultPrefix
}

// Publisher is the slice of an MQTT client the registry needs.
type Publisher interface {
	PublishWith(topic string, payload []byte, retain bool) error
}

// Client is a connected paho client.
type Client struct {
	cli    paho.Client
	status string
}

// Dial connects to the broker. The status topic carries a retained
// online/offline marker, with offline set as the last will.
func Dial(cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	server, err := brokerAddress(cfg.BrokerURL)
	if err != nil {
		return nil, err
	}

	status := cfg.prefix() + "/status"
	opts := paho.NewClientOptions()
	opts.AddBroker(server)
	clientID := strings.TrimSpace(cfg.ClientID)
	if clientID == "" {
		clientID = "airbridge-" + time.Now().Format("150405.000")
	}
	opts.SetClientID(clientID)
	username, password := cfg.Username, cfg.Password
	if u, err := url.Parse(cfg.BrokerURL); err == nil && u.User != nil && username == "" {
		username = u.User.Username()
		password, _ = u.User.Password()
	}
	if username != "" {
		opts.SetUsername(username)
		opts.SetPassword(password)
	}
	if strings.HasPrefix(server, "ssl://") {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetWill(status, "offline", 1, true)
	opts.OnConnect = func(c paho.Client) {
		logger.Info("mqtt connected", "broker", server)
		c.Publish(status, 1, true, "online")
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		logger.Error("mqtt connection lost", "error", err)
	}

	cli := paho.NewClient(opts)
	token := cli.Connect()
	if !token.WaitTimeout(publishTimeout) {
		cli.Disconnect(0)
		return nil, fmt.Errorf("mqtt connect %s: timed out", server)
	}
	if err := token.Error(); err != nil {
		cli.Disconnect(0)
		return nil, fmt.Errorf("mqtt connect %s: %w", server, err)
	}
	return &Client{cli: cli, status: status}, nil
}

func (c *Client) PublishWith(topic string, payload []byte, retain bool) error {
	token := c.cli.Publish(topic, 1, retain, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqtt publish %s: timed out", topic)
	}
	return token.Error()
}

// Close marks the bridge offline and disconnects.
func (c *Client) Close() {
	token := c.cli.Publish(c.status, 1, true, "offline")
	token.WaitTimeout(time.Second)
	c.cli.Disconnect(250)
}

func brokerAddress(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("mqtt broker url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse mqtt broker url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid mqtt broker url: %q", raw)
	}
	switch u.Scheme {
	case "mqtt", "tcp":
		return "tcp://" + u.Host, nil
	case "mqtts", "ssl", "tls":
		return "ssl://" + u.Host, nil
	case "ws", "wss":
		return u.Scheme + "://" + u.Host + u.Path, nil
	default:
		return "", fmt.Errorf("unsupported mqtt scheme %q", u.Scheme)
	}
}
