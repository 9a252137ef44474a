package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/mcptrust/execgate/internal/crypto"
	"github.com/mcptrust/execgate/internal/integrity"
	"github.com/mcptrust/execgate/internal/kernel"
	"github.com/mcptrust/execgate/internal/models"
	"github.com/mcptrust/execgate/internal/observability/logging"
	"github.com/mcptrust/execgate/internal/observability/receipt"
	"github.com/spf13/cobra"
)

var integrityCmd = &cobra.Command{
	Use:   "integrity",
	Short: "Baseline and verify file integrity",
	Long: `Record SHA-256 baselines of critical files, verify them later, and accept
approved changes. Baselines persist in the configured baseline store.`,
}

var integrityBaselineCmd = &cobra.Command{
	Use:   "baseline [paths...]",
	Short: "Record baselines (configured paths when none given)",
	RunE:  runIntegrityBaseline,
}

var integrityVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Compare tracked files against their baselines",
	Args:  cobra.NoArgs,
	RunE:  runIntegrityVerify,
}

var integrityAcceptCmd = &cobra.Command{
	Use:   "accept <path>...",
	Short: "Accept the current content of paths as the new baseline",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIntegrityAccept,
}

var (
	integrityStoreFlag   string
	integrityFormatFlag  string
	integritySignKeyFlag string
	integrityPubKeyFlag  string
)

func init() {
	integrityCmd.PersistentFlags().StringVar(&integrityStoreFlag, "store", "", "Baseline store path (overrides integrity.baseline_store)")
	integrityCmd.PersistentFlags().StringVar(&integritySignKeyFlag, "sign-key", "", "Private key used to sign the store on save (overrides integrity.signing_key)")
	integrityCmd.PersistentFlags().StringVar(&integrityPubKeyFlag, "public-key", "", "Public key the store signature must verify against (overrides integrity.public_key)")
	integrityVerifyCmd.Flags().StringVar(&integrityFormatFlag, "format", formatText, "Output format: text or json")
	integrityCmd.AddCommand(integrityBaselineCmd)
	integrityCmd.AddCommand(integrityVerifyCmd)
	integrityCmd.AddCommand(integrityAcceptCmd)
}

func GetIntegrityCmd() *cobra.Command {
	return integrityCmd
}

func baselineStore(cmd *cobra.Command) (string, error) {
	if integrityStoreFlag != "" {
		return integrityStoreFlag, nil
	}
	if cfg := configFrom(cmd.Context()); cfg != nil && cfg.Integrity.BaselineStore != "" {
		return cfg.Integrity.BaselineStore, nil
	}
	return "", usagef("no baseline store configured (set integrity.baseline_store or --store)")
}

func signingKeys(cmd *cobra.Command) (signKey, pubKey string) {
	if cfg := configFrom(cmd.Context()); cfg != nil {
		signKey, pubKey = cfg.Integrity.SigningKey, cfg.Integrity.PublicKey
	}
	if integritySignKeyFlag != "" {
		signKey = integritySignKeyFlag
	}
	if integrityPubKeyFlag != "" {
		pubKey = integrityPubKeyFlag
	}
	return signKey, pubKey
}

// newIntegrityGuardian returns a guardian preloaded from the store. A
// missing store yields an empty guardian.
func newIntegrityGuardian(store, pubKey string) (*integrity.Guardian, error) {
	g := integrity.NewGuardian(nil, nil)
	if _, err := os.Stat(store); err == nil {
		if pubKey != "" {
			if err := crypto.VerifyFile(store, pubKey); err != nil {
				return nil, err
			}
		}
		if err := g.LoadBaselines(store); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// saveStore writes the store and, with a signing key, its detached signature.
func saveStore(g *integrity.Guardian, store, signKey string) error {
	if err := g.SaveBaselines(store); err != nil {
		return err
	}
	if signKey == "" {
		return nil
	}
	return crypto.SignFile(store, signKey)
}

func runIntegrityBaseline(cmd *cobra.Command, args []string) (err error) {
	ctx := cmd.Context()
	ctx, end := startCommand(ctx, "integrity.baseline")
	defer func() { end(err) }()

	store, err := baselineStore(cmd)
	if err != nil {
		return err
	}
	paths := args
	if len(paths) == 0 {
		paths = configFrom(ctx).Integrity.Paths
	}
	if len(paths) == 0 {
		return usagef("no paths given and integrity.paths is empty")
	}

	signKey, pubKey := signingKeys(cmd)
	g, err := newIntegrityGuardian(store, pubKey)
	if err != nil {
		return err
	}
	recorded, err := g.RecordBaseline(ctx, paths...)
	if err != nil {
		return err
	}
	if err := saveStore(g, store, signKey); err != nil {
		return err
	}
	for _, b := range recorded {
		fmt.Printf("%s  %s\n", truncHash(b.Hash), b.Path)
	}
	fmt.Printf("%d baseline(s) saved to %s\n", len(recorded), store)
	return nil
}

func runIntegrityVerify(cmd *cobra.Command, args []string) (err error) {
	if err := checkFormat(integrityFormatFlag); err != nil {
		return err
	}
	ctx := cmd.Context()
	sess := receipt.Start(ctx, "execgate integrity verify", os.Args[1:])
	var report integrity.Report
	defer func() { _ = sess.Finish(err, receipt.WithIntegrity(report.Checked, len(report.Violations))) }()

	ctx, end := startCommand(ctx, "integrity.verify")
	defer func() { end(err) }()

	store, err := baselineStore(cmd)
	if err != nil {
		return err
	}
	if _, statErr := os.Stat(store); statErr != nil {
		return fmt.Errorf("baseline store not found: %s (run 'execgate integrity baseline' first)", store)
	}

	// Through the kernel so tamper events reach the configured publishers.
	cfg := *configFrom(ctx)
	cfg.Integrity.BaselineStore = store
	_, cfg.Integrity.PublicKey = signingKeys(cmd)
	k, err := kernel.New(ctx, &cfg, logging.From(ctx))
	if err != nil {
		return err
	}
	defer k.Close()

	report = k.Integrity.Verify(ctx)

	if integrityFormatFlag == formatJSON {
		if err := writeJSON(os.Stdout, report); err != nil {
			return err
		}
	} else {
		writeIntegrityText(os.Stdout, report)
	}
	if !report.Valid {
		return &models.DenialError{
			Category: models.DenialIntegrity,
			Reason:   fmt.Sprintf("%d integrity violation(s)", len(report.Violations)),
		}
	}
	return nil
}

func runIntegrityAccept(cmd *cobra.Command, args []string) (err error) {
	_, end := startCommand(cmd.Context(), "integrity.accept")
	defer func() { end(err) }()

	store, err := baselineStore(cmd)
	if err != nil {
		return err
	}
	signKey, pubKey := signingKeys(cmd)
	g, err := newIntegrityGuardian(store, pubKey)
	if err != nil {
		return err
	}
	for _, p := range args {
		if err := g.UpdateBaseline(p); err != nil {
			return err
		}
		fmt.Printf("accepted %s\n", p)
	}
	return saveStore(g, store, signKey)
}

func writeIntegrityText(w io.Writer, r integrity.Report) {
	if r.Valid {
		fmt.Fprintf(w, "%s (%d file(s) checked)\n", paint(colorGreen, "execgate integrity: OK"), r.Checked)
		return
	}
	fmt.Fprintf(w, "%s (%d file(s) checked)\n", paint(colorRed, "execgate integrity: TAMPERED"), r.Checked)
	for _, v := range r.Violations {
		switch v.Type {
		case models.ViolationModified:
			fmt.Fprintf(w, "- modified: %s\n    %s → %s\n", v.Path, truncHash(v.ExpectedHash), truncHash(v.ActualHash))
		default:
			fmt.Fprintf(w, "- %s: %s\n", v.Type, v.Path)
		}
	}
}
