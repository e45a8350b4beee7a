// Package config declares the daemon's options and resolves them into the
// concrete settings the components consume. Options can be given as flags or
// BWT_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/bwt-dev/bwt/internal/model"
)

// Config is the full option surface, parsed by go-flags.
type Config struct {
	Network string `short:"n" long:"network" env:"BWT_NETWORK" default:"bitcoin" choice:"bitcoin" choice:"testnet" choice:"regtest" choice:"signet" description:"one of bitcoin, testnet, regtest or signet"`
	Verbose []bool `short:"v" long:"verbose" env:"BWT_VERBOSE" description:"increase logging verbosity"`

	BitcoindURL    string `short:"u" long:"bitcoind-url" env:"BWT_BITCOIND_URL" description:"bitcoind rpc url (defaults to http://localhost:<network rpc port>)"`
	BitcoindAuth   string `short:"a" long:"bitcoind-auth" env:"BWT_BITCOIND_AUTH" description:"bitcoind rpc credentials as user:password"`
	BitcoindDir    string `short:"d" long:"bitcoind-dir" env:"BWT_BITCOIND_DIR" description:"bitcoind data directory, for cookie authentication"`
	BitcoindCookie string `short:"c" long:"bitcoind-cookie" env:"BWT_BITCOIND_COOKIE" description:"path to bitcoind cookie file"`
	BitcoindWallet string `short:"w" long:"bitcoind-wallet" env:"BWT_BITCOIND_WALLET" description:"bitcoind wallet to use (for multi-wallet setups)"`

	Descriptors []string `long:"descriptor" env:"BWT_DESCRIPTORS" env-delim:";" description:"output script descriptor to track"`
	Xpubs       []string `short:"x" long:"xpub" env:"BWT_XPUBS" env-delim:";" description:"xpub to track, expanded into external and internal chains"`
	BareXpubs   []string `short:"X" long:"bare-xpub" env:"BWT_BARE_XPUBS" env-delim:";" description:"xpub to track with direct child derivation"`
	Addresses   []string `long:"address" env:"BWT_ADDRESSES" env-delim:";" description:"standalone address to track"`

	RescanSince       string        `short:"s" long:"rescan-since" env:"BWT_RESCAN_SINCE" default:"now" description:"rescan start as unix timestamp, 'all' or 'now'"`
	GapLimit          uint32        `short:"g" long:"gap-limit" env:"BWT_GAP_LIMIT" default:"20" description:"unused indexes kept imported beyond the last funded one"`
	InitialImportSize uint32        `short:"G" long:"initial-import-size" env:"BWT_INITIAL_IMPORT_SIZE" default:"350" description:"indexes imported on the first run"`
	PollInterval      time.Duration `short:"i" long:"poll-interval" env:"BWT_POLL_INTERVAL" default:"5s" description:"how often to poll the node for updates"`
	RPCPoolSize       int           `long:"rpc-pool-size" env:"BWT_RPC_POOL_SIZE" default:"4" description:"concurrent rpc requests against the node"`
	NoTrackSpends     bool          `long:"no-track-spends" env:"BWT_NO_TRACK_SPENDS" description:"disable the txo spend graph"`

	ElectrumAddr     string   `short:"e" long:"electrum-addr" env:"BWT_ELECTRUM_ADDR" description:"electrum server bind address (e.g. 127.0.0.1:50001)"`
	HTTPAddr         string   `long:"http-addr" env:"BWT_HTTP_ADDR" description:"http api bind address (e.g. 127.0.0.1:3060)"`
	HTTPCors         string   `long:"http-cors" env:"BWT_HTTP_CORS" description:"allowed cross-origin for the http api"`
	WebhookURLs      []string `short:"H" long:"webhook-url" env:"BWT_WEBHOOK_URLS" env-delim:";" description:"url to post index updates to"`
	UnixListenerPath string   `short:"U" long:"unix-listener-path" env:"BWT_UNIX_LISTENER_PATH" description:"unix socket for sync trigger pokes"`
	TxBroadcastCmd   string   `long:"tx-broadcast-cmd" env:"BWT_TX_BROADCAST_CMD" description:"external command for broadcasting transactions, {tx_hex} is substituted"`
}

// Validate rejects fatally misconfigured setups before anything starts.
func (c *Config) Validate() error {
	if c.GapLimit == 0 {
		return errors.New("gap-limit must be positive")
	}
	if len(c.Descriptors)+len(c.Xpubs)+len(c.BareXpubs)+len(c.Addresses) == 0 {
		return errors.New("provide at least one of --descriptor, --xpub, --bare-xpub or --address to track")
	}
	if c.BitcoindAuth != "" && !strings.Contains(c.BitcoindAuth, ":") {
		return errors.New("bitcoind-auth must be given as user:password")
	}
	if c.ElectrumAddr == "" && c.HTTPAddr == "" && len(c.WebhookURLs) == 0 {
		return errors.New("nothing to serve: set --electrum-addr, --http-addr or --webhook-url")
	}
	if _, err := c.Params(); err != nil {
		return err
	}
	if _, err := c.RescanPolicy(); err != nil {
		return err
	}
	return nil
}

// Params maps the network name to its chain parameters.
func (c *Config) Params() (*chaincfg.Params, error) {
	switch c.Network {
	case "bitcoin", "mainnet", "main":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	default:
		return nil, fmt.Errorf("unsupported network %q", c.Network)
	}
}

// RescanPolicy parses the rescan-since option.
func (c *Config) RescanPolicy() (model.RescanSince, error) {
	return model.ParseRescanSince(c.RescanSince)
}

// NodeURL resolves the bitcoind host:port, honoring the network default port.
func (c *Config) NodeURL() (string, error) {
	rawURL := c.BitcoindURL
	if rawURL == "" {
		rawURL = fmt.Sprintf("http://localhost:%d", c.defaultRPCPort())
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid bitcoind url: %w", err)
	}
	if parsed.Scheme != "http" {
		return "", fmt.Errorf("bitcoind url scheme %q not supported, use http", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", errors.New("bitcoind url missing host")
	}
	return parsed.Host, nil
}

func (c *Config) defaultRPCPort() int {
	switch c.Network {
	case "testnet", "testnet3":
		return 18332
	case "regtest":
		return 18443
	case "signet":
		return 38332
	default:
		return 8332
	}
}

// NodeAuth resolves the RPC credentials: explicit user:password first, then
// the cookie file (explicit path or derived from the data directory).
func (c *Config) NodeAuth() (user, pass string, err error) {
	if c.BitcoindAuth != "" {
		parts := strings.SplitN(c.BitcoindAuth, ":", 2)
		return parts[0], parts[1], nil
	}

	cookiePath := c.BitcoindCookie
	if cookiePath == "" {
		dir := c.BitcoindDir
		if dir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", "", fmt.Errorf("no bitcoind credentials and no home directory: %w", err)
			}
			dir = filepath.Join(home, ".bitcoin")
		}
		cookiePath = filepath.Join(dir, c.networkSubdir(), ".cookie")
	}

	cookie, err := os.ReadFile(cookiePath)
	if err != nil {
		return "", "", fmt.Errorf("read bitcoind cookie %s: %w", cookiePath, err)
	}
	parts := strings.SplitN(strings.TrimSpace(string(cookie)), ":", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("malformed bitcoind cookie %s", cookiePath)
	}
	return parts[0], parts[1], nil
}

func (c *Config) networkSubdir() string {
	switch c.Network {
	case "testnet", "testnet3":
		return "testnet3"
	case "regtest":
		return "regtest"
	case "signet":
		return "signet"
	default:
		return ""
	}
}

// TrackSpends reports whether the spend graph is maintained.
func (c *Config) TrackSpends() bool {
	return !c.NoTrackSpends
}
