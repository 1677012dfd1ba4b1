// Package config defines the gwflash settings and loads them from flags,
// environment variables and an optional config file.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Keys.
const (
	KeyPort            = "port"
	KeyEraseFlash      = "erase-flash"
	KeyReset           = "reset"
	KeyCompileAndFlash = "compile-and-flash"
	KeyCompileOnly     = "compile-only"
	KeyDownloadOnly    = "download-only"
	KeyLogUART         = "log-uart"
	KeyLogToConsole    = "log-to-console"
	KeyPrintPort       = "print-port"
	KeyLog             = "log"
	KeyNonInteractive  = "non-interactive"
	KeyVerbose         = "verbose"
	KeyNoColor         = "no-color"
	KeyLogDir          = "log-dir"
	KeyReleasesDir     = "releases-dir"
	KeyBuildDir        = "build-dir"
	KeyRepo            = "repo"
	KeyArtifactName    = "artifact-name"
	KeyChip            = "chip"
	KeyBaud            = "baud"
	KeyUARTBaud        = "uart-baud"
	KeyGitHubAPI       = "github-api"
	KeyGitHubWeb       = "github-web"
	KeyRetries         = "retries"
	KeyGitHubToken     = "github-token"
)

// Environment.
const (
	EnvPrefix      = "GWFLASH"
	EnvSerialPort  = "RUUVI_GW_SERIAL_PORT"
	EnvGitHubToken = "GITHUB_TOKEN"
)

// Config is the complete configuration of one run.
type Config struct {
	FirmwareRef string

	Port            string
	EnvPort         string
	EraseFlash      bool
	Reset           bool
	CompileAndFlash bool
	CompileOnly     bool
	DownloadOnly    bool
	LogUART         bool
	LogToConsole    bool
	PrintPort       bool
	Log             bool
	NonInteractive  bool
	Verbose         bool
	NoColor         bool

	LogDir       string
	ReleasesDir  string
	BuildDir     string
	Repo         string
	ArtifactName string
	Chip         string
	Baud         int
	UARTBaud     int
	GitHubAPI    string
	GitHubWeb    string
	Retries      int
	GitHubToken  string
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		LogDir:       ".",
		ReleasesDir:  ".releases",
		BuildDir:     "build",
		Repo:         "ruuvi/ruuvi.gateway_esp.c",
		ArtifactName: "ruuvi_gateway_fw",
		Chip:         "esp32",
		Baud:         460800,
		UARTBaud:     115200,
		GitHubAPI:    "https://api.github.com",
		GitHubWeb:    "https://github.com",
		Retries:      3,
	}
}

// RegisterFlags adds every setting to fs. Underscore spellings such as
// --erase_flash are accepted as aliases.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringP(KeyPort, "p", "", "serial port of the gateway (env "+EnvSerialPort+")")
	fs.Bool(KeyEraseFlash, false, "erase the whole flash before writing firmware")
	fs.Bool(KeyReset, false, "reset the gateway, use with \"-\" as firmware")
	fs.Bool(KeyCompileAndFlash, false, "incremental build, then flash only ota_data_initial.bin and ruuvi_gateway_esp.bin")
	fs.Bool(KeyCompileOnly, false, "build the project without flashing")
	fs.Bool(KeyDownloadOnly, false, "download the firmware into the cache without flashing")
	fs.Bool(KeyLogUART, false, "capture the UART log to a file after flashing")
	fs.Bool(KeyLogToConsole, false, "also print the UART log on the console (implies --log-uart)")
	fs.Bool(KeyPrintPort, false, "print the selected serial port and exit")
	fs.Bool(KeyLog, false, "save the log of this run to a file")
	fs.Bool(KeyNonInteractive, false, "never ask for confirmation, answer no")
	fs.BoolP(KeyVerbose, "v", false, "debug logging")
	fs.Bool(KeyNoColor, false, "disable coloured output")

	fs.String(KeyLogDir, d.LogDir, "directory for log files")
	fs.String(KeyReleasesDir, d.ReleasesDir, "firmware cache directory")
	fs.String(KeyBuildDir, d.BuildDir, "ESP-IDF build directory")
	fs.String(KeyRepo, d.Repo, "GitHub repository owner/name")
	fs.String(KeyArtifactName, d.ArtifactName, "name of the CI artifact holding the firmware")
	fs.String(KeyChip, d.Chip, "chip target: esp32, esp32s2, esp32s3, esp32c3")
	fs.Int(KeyBaud, d.Baud, "flashing baud rate")
	fs.Int(KeyUARTBaud, d.UARTBaud, "UART log baud rate")
	fs.String(KeyGitHubAPI, d.GitHubAPI, "GitHub API base URL")
	fs.String(KeyGitHubWeb, d.GitHubWeb, "GitHub web base URL")
	fs.Int(KeyRetries, d.Retries, "download attempts per file")
}

// Load resolves the configuration. Precedence: flags, environment, config
// file, defaults.
func Load(v *viper.Viper, fs *pflag.FlagSet, configFile string) (Config, error) {
	d := Default()
	v.SetDefault(KeyLogDir, d.LogDir)
	v.SetDefault(KeyReleasesDir, d.ReleasesDir)
	v.SetDefault(KeyBuildDir, d.BuildDir)
	v.SetDefault(KeyRepo, d.Repo)
	v.SetDefault(KeyArtifactName, d.ArtifactName)
	v.SetDefault(KeyChip, d.Chip)
	v.SetDefault(KeyBaud, d.Baud)
	v.SetDefault(KeyUARTBaud, d.UARTBaud)
	v.SetDefault(KeyGitHubAPI, d.GitHubAPI)
	v.SetDefault(KeyGitHubWeb, d.GitHubWeb)
	v.SetDefault(KeyRetries, d.Retries)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv(KeyGitHubToken, EnvGitHubToken, EnvPrefix+"_GITHUB_TOKEN"); err != nil {
		return Config{}, err
	}
	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return Config{}, fmt.Errorf("failed to bind flags: %w", err)
		}
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	c := Config{
		Port:            v.GetString(KeyPort),
		EnvPort:         os.Getenv(EnvSerialPort),
		EraseFlash:      v.GetBool(KeyEraseFlash),
		Reset:           v.GetBool(KeyReset),
		CompileAndFlash: v.GetBool(KeyCompileAndFlash),
		CompileOnly:     v.GetBool(KeyCompileOnly),
		DownloadOnly:    v.GetBool(KeyDownloadOnly),
		LogUART:         v.GetBool(KeyLogUART),
		LogToConsole:    v.GetBool(KeyLogToConsole),
		PrintPort:       v.GetBool(KeyPrintPort),
		Log:             v.GetBool(KeyLog),
		NonInteractive:  v.GetBool(KeyNonInteractive),
		Verbose:         v.GetBool(KeyVerbose),
		NoColor:         v.GetBool(KeyNoColor),
		LogDir:          v.GetString(KeyLogDir),
		ReleasesDir:     v.GetString(KeyReleasesDir),
		BuildDir:        v.GetString(KeyBuildDir),
		Repo:            v.GetString(KeyRepo),
		ArtifactName:    v.GetString(KeyArtifactName),
		Chip:            v.GetString(KeyChip),
		Baud:            v.GetInt(KeyBaud),
		UARTBaud:        v.GetInt(KeyUARTBaud),
		GitHubAPI:       v.GetString(KeyGitHubAPI),
		GitHubWeb:       v.GetString(KeyGitHubWeb),
		Retries:         v.GetInt(KeyRetries),
		GitHubToken:     v.GetString(KeyGitHubToken),
	}
	c.normalize()
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) normalize() {
	if c.LogToConsole {
		c.LogUART = true
	}
	if c.PrintPort {
		c.NonInteractive = true
	}
	if c.Retries < 0 {
		c.Retries = 0
	}
}

func (c *Config) validate() error {
	if c.Baud <= 0 {
		return fmt.Errorf("invalid %s: %d", KeyBaud, c.Baud)
	}
	if c.UARTBaud <= 0 {
		return fmt.Errorf("invalid %s: %d", KeyUARTBaud, c.UARTBaud)
	}
	if strings.Count(c.Repo, "/") != 1 {
		return fmt.Errorf("invalid %s: %q, want owner/name", KeyRepo, c.Repo)
	}
	return nil
}
