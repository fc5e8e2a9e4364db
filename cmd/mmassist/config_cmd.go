package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"mmassist/internal/config"
)

func initCmd() *cobra.Command {
	var (
		interactive bool
		force       bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the config file and data directories",
		Long: `Writes a default config.yaml for the selected profile and creates the data
directories. With --interactive, asks for the data directory, OpenAI key and
Telegram bot token first.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", cfgPath)
			}

			cfg := config.Defaults()
			if err := config.ApplyProfile(cfg, profileFlag); err != nil {
				return err
			}
			if interactive {
				if err := runSetup(os.Stdin, os.Stdout, cfg); err != nil {
					return err
				}
			}
			cfg.Paths.DataDir = config.ExpandPath(cfg.Paths.DataDir)

			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return err
			}
			fmt.Println(okStyle.Render("✅ Initialized"))
			fmt.Println(kv("Config", cfgPath))
			fmt.Println(kv("Data directory", cfg.Paths.DataDir))
			if cfg.OpenAI.APIKey == "" {
				fmt.Println(warnStyle.Render("Set OPENAI_API_KEY in your environment or .env file before chatting."))
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "prompt for the main settings")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

// runSetup asks for the settings a first run needs. Empty answers keep the
// shown default.
func runSetup(in io.Reader, out io.Writer, cfg *config.Config) error {
	reader := bufio.NewReader(in)
	prompt := func(label, def string) (string, error) {
		if def != "" {
			fmt.Fprintf(out, "%s [%s]: ", label, def)
		} else {
			fmt.Fprintf(out, "%s: ", label)
		}
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return "", err
		}
		s := strings.TrimSpace(line)
		if s == "" {
			return def, nil
		}
		return s, nil
	}

	fmt.Fprintln(out, "\n--- Step 1: Data directory ---")
	dir, err := prompt("Directory for the knowledge base, images and history", cfg.Paths.DataDir)
	if err != nil {
		return err
	}
	cfg.Paths.DataDir = dir

	fmt.Fprintln(out, "\n--- Step 2: OpenAI ---")
	fmt.Fprintln(out, "Leave empty to read OPENAI_API_KEY from the environment.")
	key, err := prompt("API key", "")
	if err != nil {
		return err
	}
	if key != "" {
		cfg.OpenAI.APIKey = key
	} else {
		cfg.OpenAI.APIKey = "${OPENAI_API_KEY}"
	}

	fmt.Fprintln(out, "\n--- Step 3: Telegram (optional) ---")
	token, err := prompt("Bot token (empty to skip)", "")
	if err != nil {
		return err
	}
	if token != "" {
		cfg.Telegram.Enabled = true
		cfg.Telegram.Token = token
		ids, err := prompt("Allowed user IDs, comma separated (empty = everyone)", "")
		if err != nil {
			return err
		}
		for _, id := range strings.Split(ids, ",") {
			if id = strings.TrimSpace(id); id != "" {
				cfg.Telegram.AllowFrom = append(cfg.Telegram.AllowFrom, id)
			}
		}
	}
	return nil
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. openai.chatModel)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath(), profileFlag)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. chunking.size 800)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath, profileFlag)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			fmt.Printf("%s = %s (%s)\n", args[0], args[1], cfgPath)
			return nil
		},
	})

	var flat bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List all config values (secrets masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath(), profileFlag)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			sanitized := config.Sanitize(cfg)
			if !flat {
				data, err := yaml.Marshal(sanitized)
				if err != nil {
					return err
				}
				fmt.Print(string(data))
				return nil
			}
			paths := config.ListPaths(sanitized)
			keys := make([]string, 0, len(paths))
			for k := range paths {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Printf("%s = %v\n", k, paths[k])
			}
			return nil
		},
	}
	list.Flags().BoolVar(&flat, "flat", false, "print dot paths instead of YAML")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "profiles",
		Short: "List configuration profiles",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(strings.Join(config.ProfileNames(), "\n"))
		},
	})

	return cmd
}
