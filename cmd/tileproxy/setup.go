package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/mapgrid/tileproxy/internal/config"
	"github.com/mapgrid/tileproxy/internal/secrets"
)

// Setup command flags
var (
	setupSecretsFile string
	setupProvider    string
	setupParam       string
	setupValue       string
)

// knownProviders maps provider names to the query parameter carrying their
// credential.
var knownProviders = map[string]string{
	"maptiler":    "key",
	"mapbox":      "access_token",
	"tracestrack": "key",
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Store provider credentials",
	Long: `Add an upstream provider credential to the secrets file. Without
flags, runs interactively and never echoes the key.`,
	Run: runSetup,
}

func init() {
	setupCmd.Flags().StringVar(&setupSecretsFile, "secrets", config.EnvOrDefault("SECRETS_FILE", "./secrets.json"), "Path to the secrets file")
	setupCmd.Flags().StringVar(&setupProvider, "provider", "", "Provider name (maptiler, mapbox, tracestrack, ...)")
	setupCmd.Flags().StringVar(&setupParam, "param", "", "Credential query parameter name (defaults per provider)")
	setupCmd.Flags().StringVar(&setupValue, "value", "", "Credential value (prompted without echo when omitted)")
}

func runSetup(cmd *cobra.Command, args []string) {
	reader := bufio.NewReader(os.Stdin)

	provider := strings.TrimSpace(setupProvider)
	if provider == "" {
		fmt.Println("tileproxy credential setup")
		fmt.Println("==========================")
		names := make([]string, 0, len(knownProviders))
		for name := range knownProviders {
			names = append(names, name)
		}
		fmt.Printf("Known providers: %s\n", strings.Join(names, ", "))
		fmt.Print("Provider name: ")
		input, _ := reader.ReadString('\n')
		provider = strings.TrimSpace(input)
	}
	if provider == "" {
		fmt.Fprintln(os.Stderr, "Error: provider name is required")
		osExit(1)
		return
	}

	param := strings.TrimSpace(setupParam)
	if param == "" {
		if known, ok := knownProviders[provider]; ok {
			param = known
		} else {
			fmt.Printf("Credential parameter name [key]: ")
			input, _ := reader.ReadString('\n')
			param = strings.TrimSpace(input)
			if param == "" {
				param = "key"
			}
		}
	}

	value := setupValue
	if value == "" {
		value = promptSecret(reader, fmt.Sprintf("%s %s", provider, param))
	}
	if value == "" {
		fmt.Fprintln(os.Stderr, "Error: credential value is required")
		osExit(1)
		return
	}

	if err := secrets.Save(setupSecretsFile, provider, secrets.Credential{param: value}); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to write %s: %v\n", setupSecretsFile, err)
		osExit(1)
		return
	}
	fmt.Printf("Stored %s credential in %s\n", provider, setupSecretsFile)
}

// promptSecret reads a credential without echoing when stdin is a terminal,
// falling back to a plain line read (e.g. piped input).
func promptSecret(reader *bufio.Reader, label string) string {
	fmt.Printf("%s: ", label)
	if term.IsTerminal(int(os.Stdin.Fd())) {
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return ""
		}
		return strings.TrimSpace(string(raw))
	}
	input, _ := reader.ReadString('\n')
	return strings.TrimSpace(input)
}
