package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/org/certrenew/internal/csr"
	"github.com/org/certrenew/internal/deploy"
	"github.com/org/certrenew/internal/impact"
	"github.com/org/certrenew/internal/remote"
	"github.com/org/certrenew/internal/renewal"
	"github.com/org/certrenew/pkg/models"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "certrenew",
	Short: "Certificate renewal CLI",
	Long:  "A CLI for previewing impact and renewing TLS certificates on a load-balancer fleet.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		loadConfig()
		// Env var overrides are applied in newClient()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "Output format: table, json")

	rootCmd.AddCommand(impactCmd())
	rootCmd.AddCommand(renewCmd())
	rootCmd.AddCommand(csrCmd())
	rootCmd.AddCommand(deployCmd())
	rootCmd.AddCommand(verifyCmd())
	rootCmd.AddCommand(configCmd())
}

// --- impact ---

func impactCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "impact <device-id> <cert-name>",
		Short: "Preview what uses a certificate",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			deviceID, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid device id: %s", args[0])
			}
			certName := args[1]

			live, _ := cmd.Flags().GetBool("live")
			timeoutSecs, _ := cmd.Flags().GetInt("timeout")
			certID, _ := cmd.Flags().GetInt("cert-id")

			resolver := impact.NewResolver(newClient(), newLogger())
			defer resolver.Close()

			ctx := cmd.Context()
			if live {
				result, err := resolver.ResolveLive(ctx, deviceID, certName, time.Duration(timeoutSecs)*time.Second)
				if err != nil {
					printError(err.Error())
					return nil
				}
				printImpact(result, "")
				return nil
			}

			var fallback *int
			if certID > 0 {
				fallback = &certID
			}
			result, err := resolver.ResolveFromCache(ctx, deviceID, certName, fallback)
			if err != nil {
				printError(err.Error())
				return nil
			}
			printImpact(result, resolver.Age().Label())
			return nil
		},
	}
	cmd.Flags().Bool("live", false, "Query the device directly instead of the cache")
	cmd.Flags().Int("timeout", 30, "Live query timeout in seconds")
	cmd.Flags().Int("cert-id", 0, "Certificate id for the legacy usage fallback")
	return cmd
}

// --- renew ---

func renewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "renew <cert-id>",
		Short: "Run the renewal flow: impact preview, upload, deploy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			certID, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid certificate id: %s", args[0])
			}
			deviceID, _ := cmd.Flags().GetInt("device")
			certName, _ := cmd.Flags().GetString("cert-name")
			certFile, _ := cmd.Flags().GetString("cert-file")
			keyFile, _ := cmd.Flags().GetString("key-file")
			password, _ := cmd.Flags().GetString("pfx-password")
			autoLive, _ := cmd.Flags().GetBool("auto-live")
			deviceIDs, _ := cmd.Flags().GetIntSlice("devices")
			yes, _ := cmd.Flags().GetBool("yes")

			if certFile == "" {
				return fmt.Errorf("--cert-file is required")
			}

			client := newClient()
			logger := newLogger()
			resolver := impact.NewResolver(client, logger)
			wizard := renewal.NewWizard(renewal.Config{
				DeviceID:      deviceID,
				CertName:      certName,
				CertificateID: &certID,
				AutoLive:      autoLive,
			}, resolver, renewal.NewCertValidator(), client, logger)
			defer wizard.Close()

			ctx := cmd.Context()

			// Step 0: impact preview
			result, err := wizard.Start(ctx)
			if err != nil {
				printError(fmt.Sprintf("impact preview unavailable: %v", err))
			} else {
				printImpact(result, resolver.Age().Label())
			}

			// Step 1: upload
			if _, err := wizard.Advance(); err != nil {
				printError(err.Error())
				return nil
			}
			content, err := os.ReadFile(certFile)
			if err != nil {
				return fmt.Errorf("reading %s: %w", certFile, err)
			}
			if keyFile != "" {
				keyPem, err := os.ReadFile(keyFile)
				if err != nil {
					return fmt.Errorf("reading %s: %w", keyFile, err)
				}
				if err := renewal.MatchKey(content, keyPem); err != nil {
					printError(err.Error())
					return nil
				}
			}
			validated, err := wizard.SetUpload(filepath.Base(certFile), content, password)
			if err != nil {
				printError(err.Error())
				return nil
			}
			fmt.Printf("Upload validated: CN=%s, expires %s\n",
				validated.CommonName, validated.NotAfter.Format("2006-01-02"))

			// Step 2: confirm
			if _, err := wizard.Advance(); err != nil {
				printError(err.Error())
				return nil
			}
			if len(deviceIDs) == 0 {
				deviceIDs = []int{deviceID}
			}
			if !yes && !confirm(fmt.Sprintf("Deploy to %d device(s)?", len(deviceIDs))) {
				printSuccess("Aborted.")
				return nil
			}

			run, err := wizard.Confirm(ctx, deviceIDs)
			if err != nil {
				printError(err.Error())
				return nil
			}
			printRun(run)

			final := run
			if !run.Status.Terminal() {
				poller := deploy.NewPoller(client, logger)
				final, err = poller.Watch(ctx, run.BatchID, func(update *models.BatchDeployRun) {
					fmt.Printf("  ... %s (%d/%d)\n", update.Status, update.Completed, update.TotalDevices)
				})
				if err != nil {
					printError(err.Error())
					return nil
				}
				printRun(final)
			}

			if final.Status == models.DeploySuccess {
				if err := client.ConfirmDeployment(ctx, final.BatchID); err != nil {
					printError(fmt.Sprintf("acknowledging rollout: %v", err))
				}
			}

			if msg, err := wizard.VerifyNow(ctx); err == nil {
				printSuccess(msg)
			}
			return nil
		},
	}
	cmd.Flags().Int("device", 0, "Device id the certificate lives on")
	cmd.Flags().String("cert-name", "", "Certificate object name on the device")
	cmd.Flags().String("cert-file", "", "Signed certificate (PEM) or PFX bundle to deploy")
	cmd.Flags().String("key-file", "", "Private key (PEM) to check against the certificate")
	cmd.Flags().String("pfx-password", "", "Password for a PFX bundle")
	cmd.Flags().Bool("auto-live", false, "Run a live impact query on start")
	cmd.Flags().IntSlice("devices", nil, "Device ids to deploy to (default: --device)")
	cmd.Flags().Bool("yes", false, "Skip the deploy confirmation prompt")
	return cmd
}

// --- csr ---

func csrCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "csr", Short: "Manage certificate signing requests"}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List signing requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			lifecycle := csr.NewLifecycle(newClient(), newLogger())
			reqs, err := lifecycle.List(cmd.Context())
			if err != nil {
				printError(err.Error())
				return nil
			}
			printCSRList(reqs)
			return nil
		},
	}

	generateCmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a new signing request",
		RunE: func(cmd *cobra.Command, args []string) error {
			commonName, _ := cmd.Flags().GetString("common-name")
			sans, _ := cmd.Flags().GetStringSlice("san")
			keySize, _ := cmd.Flags().GetInt("key-size")
			link, _ := cmd.Flags().GetInt("link")

			var linked *int
			if link > 0 {
				linked = &link
			}

			lifecycle := csr.NewLifecycle(newClient(), newLogger())
			req, err := lifecycle.Generate(cmd.Context(), models.CSRDetails{
				CommonName: commonName,
				SanNames:   sans,
				KeySize:    models.KeySize(keySize),
			}, linked)
			if err != nil {
				printError(err.Error())
				return nil
			}

			fmt.Printf("Request %d created (%s)\n\n", req.ID, req.Status)
			fmt.Println(req.CsrPem)
			if req.KeyPemOnce != "" {
				fmt.Println("Private key (shown ONCE, never retrievable again):")
				fmt.Println(req.KeyPemOnce)
			}
			return nil
		},
	}
	generateCmd.Flags().String("common-name", "", "Certificate common name")
	generateCmd.Flags().StringSlice("san", nil, "Subject alternative name (repeatable)")
	generateCmd.Flags().Int("key-size", 2048, "RSA key size: 2048 or 4096")
	generateCmd.Flags().Int("link", 0, "Certificate id this request renews (reuses its key)")

	completeCmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Attach the CA-signed certificate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid request id: %s", args[0])
			}
			certFile, _ := cmd.Flags().GetString("cert-file")
			chainFile, _ := cmd.Flags().GetString("chain-file")
			password, _ := cmd.Flags().GetString("pfx-password")

			certPem, err := os.ReadFile(certFile)
			if err != nil {
				return fmt.Errorf("reading %s: %w", certFile, err)
			}
			var chainPem []byte
			if chainFile != "" {
				chainPem, err = os.ReadFile(chainFile)
				if err != nil {
					return fmt.Errorf("reading %s: %w", chainFile, err)
				}
			}

			lifecycle := csr.NewLifecycle(newClient(), newLogger())
			req, err := lifecycle.Complete(cmd.Context(), id, string(certPem), string(chainPem), password)
			if err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess(fmt.Sprintf("Request %d is now %s (pfx: %s)", req.ID, req.Status, req.PfxFilename))
			return nil
		},
	}
	completeCmd.Flags().String("cert-file", "", "CA-signed certificate (PEM)")
	completeCmd.Flags().String("chain-file", "", "CA chain (PEM)")
	completeCmd.Flags().String("pfx-password", "", "Password to protect the PFX bundle")

	deleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a signing request and destroy its private key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid request id: %s", args[0])
			}
			force, _ := cmd.Flags().GetBool("force")
			if !force && !confirm(fmt.Sprintf("Delete request %d? The private key is destroyed and cannot be recovered.", id)) {
				printSuccess("Aborted.")
				return nil
			}

			lifecycle := csr.NewLifecycle(newClient(), newLogger())
			if err := lifecycle.Delete(cmd.Context(), id); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Request deleted.")
			return nil
		},
	}
	deleteCmd.Flags().Bool("force", false, "Skip the confirmation prompt")

	cmd.AddCommand(listCmd, generateCmd, completeCmd, deleteCmd)
	return cmd
}

// --- deploy ---

func deployCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "deploy", Short: "Inspect batch deployments"}

	statusCmd := &cobra.Command{
		Use:   "status <batch-id>",
		Short: "Show the state of a batch deploy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			watch, _ := cmd.Flags().GetBool("watch")
			client := newClient()

			run, err := client.BatchDeployStatus(cmd.Context(), args[0])
			if err != nil {
				printError(err.Error())
				return nil
			}
			printRun(run)

			if watch && !run.Status.Terminal() {
				poller := deploy.NewPoller(client, newLogger())
				final, err := poller.Watch(cmd.Context(), args[0], func(update *models.BatchDeployRun) {
					fmt.Printf("  ... %s (%d/%d)\n", update.Status, update.Completed, update.TotalDevices)
				})
				if err != nil {
					printError(err.Error())
					return nil
				}
				printRun(final)
			}
			return nil
		},
	}
	statusCmd.Flags().Bool("watch", false, "Poll until the run reaches a terminal state")

	previewCmd := &cobra.Command{
		Use:   "preview",
		Short: "Preview what a deployment would change, without executing it",
		RunE: func(cmd *cobra.Command, args []string) error {
			pfxFilename, _ := cmd.Flags().GetString("pfx")
			certName, _ := cmd.Flags().GetString("cert-name")
			deviceIDs, _ := cmd.Flags().GetIntSlice("devices")
			if pfxFilename == "" || len(deviceIDs) == 0 {
				return fmt.Errorf("--pfx and --devices are required")
			}

			plan, err := newClient().PreviewDeployment(cmd.Context(), remote.DeploymentRequest{
				PfxFilename: pfxFilename,
				DeviceIDs:   deviceIDs,
				CertName:    certName,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			fmt.Printf("Plan %s:\n", plan.PlanID)
			for _, action := range plan.Actions {
				fmt.Printf("  - %s\n", action)
			}
			for _, warning := range plan.Warnings {
				fmt.Printf("  ! %s\n", warning)
			}
			return nil
		},
	}
	previewCmd.Flags().String("pfx", "", "Server-side PFX filename from a prior upload")
	previewCmd.Flags().String("cert-name", "", "Certificate object name on the device")
	previewCmd.Flags().IntSlice("devices", nil, "Device ids the rollout would touch")

	cmd.AddCommand(statusCmd, previewCmd)
	return cmd
}

// --- verify ---

func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <device-id> <cert-name>",
		Short: "Verify the certificate installed on a device",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			deviceID, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid device id: %s", args[0])
			}
			res, err := newClient().Verify(cmd.Context(), deviceID, args[1])
			if err != nil {
				printError(err.Error())
				return nil
			}
			if res.OK {
				printSuccess("Certificate verified on device.")
			} else {
				printError(res.Error)
			}
			return nil
		},
	}
}

// --- config ---

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Manage CLI configuration"}

	setCmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a config value (manager_url, token, tls_ca_cert)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case "manager_url":
				cfg.ManagerURL = args[1]
			case "token":
				cfg.Token = args[1]
			case "tls_ca_cert":
				cfg.TLSCACert = args[1]
			default:
				return fmt.Errorf("unknown config key: %s", args[0])
			}
			if err := saveConfig(); err != nil {
				return err
			}
			printSuccess("Saved.")
			return nil
		},
	}

	cmd.AddCommand(setCmd)
	return cmd
}

// confirm prompts for a y/N answer on stdin.
func confirm(prompt string) bool {
	fmt.Printf("%s (y/N): ", prompt)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Scan()
	answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
	return answer == "y" || answer == "yes"
}
