// Package cmd implements the packager CLI: stream descriptor parsing,
// flag binding, and the top-level run/exit-code contract (spec §6/§7).
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/tetsuo/dashpack/internal/observability"
	"github.com/tetsuo/dashpack/media"
	"github.com/tetsuo/dashpack/mux"
	"github.com/tetsuo/dashpack/segment"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string

	flagSegmentDuration    float64
	flagFragmentDuration   float64
	flagSegmentSapAligned  bool
	flagFragmentSapAligned bool
	flagNumSubsegments     int
	flagSingleSegment      bool
	flagOutput             string
	flagSegmentTemplate    string
	flagTempFile           string
	flagNormalizePTS       bool
	flagClearLead          float64
	flagCryptoPeriod       float64
	flagMaxSDPixels        int
	flagSchemeIDURI        string
	flagEnableFixedKey     bool
	flagKeyID              string
	flagKey                string
	flagPssh               string
	flagIV                 string
)

// rootCmd is packager's single command: there are no subcommands, since
// the CLI's whole surface is "parse descriptors, pack them, exit" (§6).
var rootCmd = &cobra.Command{
	Use:   "packager [flags] <stream_descriptor>...",
	Short: "Remux, encrypt, and segment media into fragmented MP4 for DASH",
	Long: `packager reads one or more input files and, for each
<input>#<selector>,<output>[,<segment_template>] stream descriptor, remuxes
the selected track into fragmented MP4, optionally applying Common
Encryption, and writes single- or multi-segment output per the selected
segmenting mode.`,
	Args:          cobra.MinimumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		return initLogging()
	},
	RunE: runPackager,
}

// Execute runs the root command; its returned error already carries exit
// code 1 semantics (§6: "Exit codes: 0 success, 1 any failure").
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.Flags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: ./packager.yaml)")
	flags.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flags.StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	flags.Float64Var(&flagSegmentDuration, "segment_duration", 10, "target segment duration in seconds")
	flags.Float64Var(&flagFragmentDuration, "fragment_duration", 2, "target fragment duration in seconds, must not exceed segment_duration")
	flags.BoolVar(&flagSegmentSapAligned, "segment_sap_aligned", true, "require segment boundaries to land on a SAP")
	flags.BoolVar(&flagFragmentSapAligned, "fragment_sap_aligned", true, "require fragment boundaries to land on a SAP (requires segment_sap_aligned)")
	flags.IntVar(&flagNumSubsegments, "num_subsegments_per_sidx", 0, "subsegments packed per sidx entry (0 = one sidx per segment, -1 = no sidx)")
	flags.BoolVar(&flagSingleSegment, "single_segment", false, "produce one self-indexed output file instead of a segment template series")
	flags.StringVar(&flagOutput, "output", "", "default output path used by descriptors that omit one")
	flags.StringVar(&flagSegmentTemplate, "segment_template", "", "default $Number$/$Time$/$Bandwidth$ template used by descriptors that omit one")
	flags.StringVar(&flagTempFile, "temp_file", "", "directory for the single-segment mode's scratch file (default: os.TempDir())")
	flags.BoolVar(&flagNormalizePTS, "normalize_presentation_timestamp", false, "shift each track's timestamps so its first sample starts at PTS 0")

	flags.Float64Var(&flagClearLead, "clear_lead", 0, "seconds of unencrypted media at the start of each track")
	flags.Float64Var(&flagCryptoPeriod, "crypto_period_duration", 0, "seconds per crypto period (0 disables key rotation)")
	flags.IntVar(&flagMaxSDPixels, "max_sd_pixels", 0, "pixel count at/below which a video representation is tagged SD in the manifest (0 = unset)")
	flags.StringVar(&flagSchemeIDURI, "scheme_id_uri", "", "ContentProtection schemeIdUri passed through to the manifest writer")
	flags.BoolVar(&flagEnableFixedKey, "enable_fixed_key_encryption", false, "encrypt with a single operator-supplied key instead of a rotating KeySource")
	flags.StringVar(&flagKeyID, "key_id", "", "hex-encoded 16-byte key id (fixed-key mode)")
	flags.StringVar(&flagKey, "key", "", "hex-encoded 16-byte content key (fixed-key mode)")
	flags.StringVar(&flagPssh, "pssh", "", "hex-encoded pssh system data, wrapped in a Widevine pssh box (fixed-key mode)")
	flags.StringVar(&flagIV, "iv", "", "hex-encoded IV override (fixed-key mode; default: random 8 bytes)")

	for _, f := range []string{
		"log-level", "log-format",
		"segment_duration", "fragment_duration", "segment_sap_aligned", "fragment_sap_aligned",
		"num_subsegments_per_sidx", "single_segment", "output", "segment_template", "temp_file",
		"normalize_presentation_timestamp", "clear_lead", "crypto_period_duration", "max_sd_pixels",
		"scheme_id_uri", "enable_fixed_key_encryption", "key_id", "key", "pssh", "iv",
	} {
		mustBindPFlag(f, flags.Lookup(f))
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("packager")
	}
	viper.SetEnvPrefix("PACKAGER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func initLogging() error {
	logger := observability.NewLogger(observability.Config{
		Level:  viper.GetString("log-level"),
		Format: viper.GetString("log-format"),
	})
	observability.SetDefault(logger)
	return nil
}

func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("packager: failed to bind flag %q to key %q: %v", flag.Name, key, err))
	}
}

// runPackager builds the MuxerOptions/EncryptionOptions from bound flags,
// parses the positional stream descriptors, and drives mux.Run (§6/§7).
func runPackager(_ *cobra.Command, args []string) error {
	opts := media.MuxerOptions{
		SingleSegment:                  viper.GetBool("single_segment"),
		SegmentDuration:                viper.GetFloat64("segment_duration"),
		FragmentDuration:               viper.GetFloat64("fragment_duration"),
		SegmentSapAligned:              viper.GetBool("segment_sap_aligned"),
		FragmentSapAligned:             viper.GetBool("fragment_sap_aligned"),
		NormalizePresentationTimestamp: viper.GetBool("normalize_presentation_timestamp"),
		NumSubsegmentsPerSidx:          viper.GetInt("num_subsegments_per_sidx"),
		OutputFileName:                 viper.GetString("output"),
		SegmentTemplate:                viper.GetString("segment_template"),
		TempDir:                        viper.GetString("temp_file"),
	}
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	if err := opts.Validate(); err != nil {
		return fmt.Errorf("packager: %w", err)
	}

	enc, err := buildEncryptionOptions()
	if err != nil {
		return fmt.Errorf("packager: %w", err)
	}

	groups, err := mux.ParseDescriptors(args)
	if err != nil {
		return fmt.Errorf("packager: %w", err)
	}
	for i := range groups {
		for j := range groups[i].Descriptors {
			d := &groups[i].Descriptors[j]
			if d.Output == "" {
				d.Output = opts.OutputFileName
			}
			if d.Template == "" {
				d.Template = opts.SegmentTemplate
			}
		}
	}

	if err := mux.Run(context.Background(), groups, segment.OSFileOpener{}, opts, enc, nil); err != nil {
		slog.Default().Error("packaging failed", "error", err)
		return err
	}
	slog.Default().Info("packaging completed", "groups", len(groups))
	return nil
}

// buildEncryptionOptions implements the fixed-key branch of §6's
// "--enable_fixed_key_encryption with --key_id/--key/--pssh"; a rotating
// KeySource is a library-level concern with no CLI flag surface today.
func buildEncryptionOptions() (mux.EncryptionOptions, error) {
	enc := mux.EncryptionOptions{
		CryptoPeriodDuration: viper.GetFloat64("crypto_period_duration"),
		ClearLeadDuration:    viper.GetFloat64("clear_lead"),
	}
	if !viper.GetBool("enable_fixed_key_encryption") {
		return enc, nil
	}
	keyID := viper.GetString("key_id")
	key := viper.GetString("key")
	pssh := viper.GetString("pssh")
	iv := viper.GetString("iv")
	if keyID == "" || key == "" {
		return mux.EncryptionOptions{}, fmt.Errorf("--enable_fixed_key_encryption requires --key_id and --key")
	}
	ek, err := media.CreateFromHexStrings(keyID, key, pssh, iv)
	if err != nil {
		return mux.EncryptionOptions{}, err
	}
	enc.FixedKey = ek
	return enc, nil
}
