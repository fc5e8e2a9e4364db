package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"mmassist/internal/config"
	"mmassist/internal/vectorstore"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your mmassist installation",
		Long: `Verifies that mmassist's configuration, credentials, database, data
directories and ports are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Println(titleStyle.Render("mmassist Doctor v" + version))
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0
			pass := func(check, detail string) { fmt.Println(passLine(check, detail)); passed++ }
			fail := func(check, detail string) { fmt.Println(failLine(check, detail)); failed++ }
			warn := func(check, detail string) { fmt.Println(warnLine(check, detail)); warned++ }

			// 1. Config file exists
			if _, err := os.Stat(cfgPath); err != nil {
				warn("Config file", fmt.Sprintf("not found at %s, using defaults", cfgPath))
			} else {
				pass("Config file", cfgPath)
			}

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath, profileFlag)
			if err != nil {
				fail("Config validation", err.Error())
				fmt.Printf("\n%d passed, %d failed\n", passed, failed)
				return fmt.Errorf("%d check(s) failed", failed)
			}
			pass("Config validation", "valid (profile "+cfg.Profile+")")

			// 3. Credentials
			if cfg.OpenAI.APIKey == "" {
				fail("OpenAI API key", "not set (OPENAI_API_KEY or openai.apiKey)")
			} else {
				pass("OpenAI API key", "configured")
			}
			if cfg.Telegram.Enabled {
				pass("Telegram", fmt.Sprintf("enabled, %d allowed user(s)", len(cfg.Telegram.AllowFrom)))
			}

			// 4. Data directories writable
			if err := cfg.EnsureDirectories(); err != nil {
				fail("Data directory", err.Error())
			} else if err := checkWritable(cfg.Paths.DataDir); err != nil {
				fail("Data directory", err.Error())
			} else {
				pass("Data directory", cfg.Paths.DataDir)
			}

			// 5. Knowledge base present
			if _, err := os.Stat(filepath.Join(cfg.Paths.IndexPath(), vectorstore.IndexFile)); err != nil {
				warn("Knowledge base", "empty, run 'mmassist ingest <file>' to add documents")
			} else {
				pass("Knowledge base", cfg.Paths.IndexPath())
			}

			// 6. Database writable
			if cfg.Memory.Enabled {
				if err := checkDatabase(cfg.Paths.MemoryDB()); err != nil {
					fail("Database", err.Error())
				} else {
					pass("Database", cfg.Paths.MemoryDB())
				}
			}

			// 7. Port and TLS
			if err := checkPort(cfg.Server.Host, cfg.Server.Port); err != nil {
				warn("API port", fmt.Sprintf("port %d may be in use: %v", cfg.Server.Port, err))
			} else {
				pass("API port", fmt.Sprintf("%s:%d available", cfg.Server.Host, cfg.Server.Port))
			}
			if cfg.Server.SSLRequired {
				for _, f := range []string{cfg.Server.TLSCert, cfg.Server.TLSKey} {
					if _, err := os.Stat(f); err != nil {
						fail("TLS", fmt.Sprintf("cannot read %s", f))
					} else {
						pass("TLS", f)
					}
				}
			}

			// 8. Log file writable
			if cfg.Logging.File != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0o755); err != nil {
					warn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
				} else {
					pass("Log file", cfg.Logging.File)
				}
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running mmassist.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nmmassist should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! mmassist is ready to run.\n")
			}
			return nil
		},
	}
}

func checkWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

func checkDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}

	// Try a write.
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")

	return nil
}

func checkPort(host string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}
