// All components are configured via environment variables or a config file
// (strings!) and wired together by NewEngine.

package cmd

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

const (
	ENV_CONFIG_FILE_PATH = "COVENANT_CONFIG"

	SIGNER_DIRECT = "direct"
	SIGNER_SDK    = "sdk"
)

// Default knobs, rarely worth tweaking.
const (
	defaultFeeRate          = "1000" // sat/kB
	defaultMaxRetries       = "3"
	defaultFeeBumpPercent   = "25"
	defaultMinConfirmations = "1"
	defaultConfirmTimeout   = "30m"
	defaultPollInterval     = 5 * time.Second
	frequencyToExpireLocks  = time.Minute
)

// Keep the configuration's fields as "text" as possible.
// Its easier to load it from env vars or a config file.
type CovenantConfig struct {
	// btc side
	BtcRpcServer       string // btc rpc server info
	BtcRpcPort         string // btc rpc server info
	BtcRpcUsername     string // btc rpc server info
	BtcRpcPwd          string // btc rpc server info
	BtcChainConfig     string // regtest, testnet or mainnet
	BtcCoreAccountPriv string // WIF of the key paying fees and signing calls
	ForkID             string // "true" signs with the fork-id sighash variant

	// state side
	DbFilePath   string // sqlite file of the utxo vault and the sqlite handle store
	HandleStore  string // sqlite or bolt
	BoltFilePath string // bbolt file when HandleStore is bolt
	ArtifactDir  string // compiled contracts, <family>.json or .yaml

	// engine knobs
	SignerVariant    string // direct or sdk
	FeeRate          string // sat/kB floor
	DustLimit        string // satoshi
	MaxRetries       string // broadcast retries after the first attempt
	FeeBumpPercent   string // fee rate increase after a fee-too-low rejection
	MinConfirmations string
	ConfirmTimeout   string // eg. 30m

	// Http side
	HttpIp   string // eg. 0.0.0.0
	HttpPort string // eg. 8080

	LogLevel string
	LogJson  string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("BTC_CHAIN_CONFIG", "regtest")
	v.SetDefault("HANDLE_STORE", "sqlite")
	v.SetDefault("SIGNER_VARIANT", SIGNER_SDK)
	v.SetDefault("FEE_RATE_SAT_PER_KB", defaultFeeRate)
	v.SetDefault("MAX_RETRIES", defaultMaxRetries)
	v.SetDefault("FEE_BUMP_PERCENT", defaultFeeBumpPercent)
	v.SetDefault("MIN_CONFIRMATIONS", defaultMinConfirmations)
	v.SetDefault("CONFIRM_TIMEOUT", defaultConfirmTimeout)
	v.SetDefault("FORK_ID", "false")
	v.SetDefault("HTTP_IP", "127.0.0.1")
	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_JSON", "false")
}

// LoadConfig reads env vars, plus the file named by COVENANT_CONFIG when
// it is set. Env vars win over the file.
func LoadConfig(v *viper.Viper) (*CovenantConfig, error) {
	v.AutomaticEnv()
	setDefaults(v)

	if path := v.GetString(ENV_CONFIG_FILE_PATH); path != "" {
		if !FileExists(path) {
			return nil, fmt.Errorf("configuration file not found: %s", path)
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading configuration file: %w", err)
		}
	}

	return &CovenantConfig{
		BtcRpcServer:       v.GetString("BTC_RPC_SERVER"),
		BtcRpcPort:         v.GetString("BTC_RPC_PORT"),
		BtcRpcUsername:     v.GetString("BTC_RPC_USERNAME"),
		BtcRpcPwd:          v.GetString("BTC_RPC_PWD"),
		BtcChainConfig:     v.GetString("BTC_CHAIN_CONFIG"),
		BtcCoreAccountPriv: v.GetString("BTC_CORE_ACCOUNT_PRIV"),
		ForkID:             v.GetString("FORK_ID"),
		DbFilePath:         v.GetString("DB_FILE_PATH"),
		HandleStore:        v.GetString("HANDLE_STORE"),
		BoltFilePath:       v.GetString("BOLT_FILE_PATH"),
		ArtifactDir:        v.GetString("ARTIFACT_DIR"),
		SignerVariant:      v.GetString("SIGNER_VARIANT"),
		FeeRate:            v.GetString("FEE_RATE_SAT_PER_KB"),
		DustLimit:          v.GetString("DUST_LIMIT"),
		MaxRetries:         v.GetString("MAX_RETRIES"),
		FeeBumpPercent:     v.GetString("FEE_BUMP_PERCENT"),
		MinConfirmations:   v.GetString("MIN_CONFIRMATIONS"),
		ConfirmTimeout:     v.GetString("CONFIRM_TIMEOUT"),
		HttpIp:             v.GetString("HTTP_IP"),
		HttpPort:           v.GetString("HTTP_PORT"),
		LogLevel:           v.GetString("LOG_LEVEL"),
		LogJson:            v.GetString("LOG_JSON"),
	}, nil
}

// FileExists checks if a file exists and is readable
func FileExists(filePath string) bool {
	file, err := os.Open(filePath)
	if err != nil {
		return false
	}
	defer file.Close()
	return true
}

func parseInt(name, s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("%s: negative value %d", name, n)
	}
	return n, nil
}

func parseBool(name, s string) (bool, error) {
	if s == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("%s: %w", name, err)
	}
	return b, nil
}
