// Package config provides configuration management for cmdintel.
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

const appName = "cmdintel"

// Paths holds all the path configurations for cmdintel.
type Paths struct {
	// ConfigDir is the directory for configuration files (~/.config/cmdintel)
	ConfigDir string

	// DataDir is the directory for data files (~/.local/share/cmdintel)
	DataDir string

	// CacheDir is the directory for cache files (~/.cache/cmdintel)
	CacheDir string

	// RuntimeDir is the directory for runtime files like sockets and PID files
	RuntimeDir string
}

// DefaultPaths returns the default paths based on the XDG Base Directory layout.
// On Windows, it uses %APPDATA% instead.
func DefaultPaths() *Paths {
	home := homeDir()

	if runtime.GOOS == "windows" {
		appData := os.Getenv("APPDATA")
		if appData == "" {
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData == "" {
			localAppData = filepath.Join(home, "AppData", "Local")
		}

		return &Paths{
			ConfigDir:  filepath.Join(appData, appName),
			DataDir:    filepath.Join(localAppData, appName),
			CacheDir:   filepath.Join(localAppData, appName, "cache"),
			RuntimeDir: filepath.Join(localAppData, appName, "run"),
		}
	}

	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		configHome = filepath.Join(home, ".config")
	}

	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		dataHome = filepath.Join(home, ".local", "share")
	}

	cacheHome := os.Getenv("XDG_CACHE_HOME")
	if cacheHome == "" {
		cacheHome = filepath.Join(home, ".cache")
	}

	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir == "" {
		runtimeDir = filepath.Join(home, "."+appName, "run")
	} else {
		runtimeDir = filepath.Join(runtimeDir, appName)
	}

	return &Paths{
		ConfigDir:  filepath.Join(configHome, appName),
		DataDir:    filepath.Join(dataHome, appName),
		CacheDir:   filepath.Join(cacheHome, appName),
		RuntimeDir: runtimeDir,
	}
}

// ConfigFile returns the path to the main configuration file.
func (p *Paths) ConfigFile() string {
	return filepath.Join(p.ConfigDir, "config.yaml")
}

// DatabaseFile returns the path to the pattern store database.
func (p *Paths) DatabaseFile() string {
	return filepath.Join(p.DataDir, "patterns.db")
}

// SocketFile returns the path to the Unix domain socket.
func (p *Paths) SocketFile() string {
	return filepath.Join(p.RuntimeDir, appName+".sock")
}

// PIDFile returns the path to the daemon PID file.
func (p *Paths) PIDFile() string {
	return filepath.Join(p.RuntimeDir, appName+".pid")
}

// LogDir returns the path to the log directory.
func (p *Paths) LogDir() string {
	return filepath.Join(p.DataDir, "logs")
}

// LogFile returns the path to the daemon log file.
func (p *Paths) LogFile() string {
	return filepath.Join(p.LogDir(), "daemon.log")
}

// EnsureDirectories creates all necessary directories.
func (p *Paths) EnsureDirectories() error {
	dirs := []string{
		p.ConfigDir,
		p.DataDir,
		p.CacheDir,
		p.RuntimeDir,
		p.LogDir(),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	return nil
}

// Resolve applies config overrides on top of the default locations and
// returns the effective database, socket and log file paths.
func (p *Paths) Resolve(cfg *Config) (dbPath, socketPath, logPath string) {
	dbPath, socketPath, logPath = p.DatabaseFile(), p.SocketFile(), p.LogFile()
	if cfg == nil {
		return
	}
	if cfg.Store.Path != "" {
		dbPath = cfg.Store.Path
	}
	if cfg.Daemon.SocketPath != "" {
		socketPath = cfg.Daemon.SocketPath
	}
	if cfg.Daemon.LogFile != "" {
		logPath = cfg.Daemon.LogFile
	}
	return
}

// homeDir returns the user's home directory.
func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		if runtime.GOOS == "windows" {
			return os.Getenv("USERPROFILE")
		}
		return os.Getenv("HOME")
	}
	return home
}
