package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"tiff-squeeze-go/internal/compressor"
	"tiff-squeeze-go/internal/config"
	"tiff-squeeze-go/internal/logger"
	"tiff-squeeze-go/internal/statistics"
	"tiff-squeeze-go/internal/tiffmeta"
	"tiff-squeeze-go/internal/web"
	"tiff-squeeze-go/internal/workspace"

	"github.com/barasher/go-exiftool"
	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile   string
	verbose   bool
	quiet     bool
	version   string
	buildTime string
	port      int

	outputPath        string
	targetSizeKB      int
	minSizePercentage float64
	scaleFactor       float64
	sharpnessFactor   float64
	contrastFactor    float64
	blurRadius        float64
	dpi               int
	decayRate         float64
	maxIterations     int
)

// rootCmd starts the HTTP compression service.
var rootCmd = &cobra.Command{
	Use:   "tiff-squeeze",
	Short: "Compress TIFF files down to a target size",
	Long: `TiffSqueeze compresses TIFF images until their encoded size falls at or
below a target, iteratively downscaling with Lanczos resampling, enhancing
sharpness and contrast, and re-encoding with LZW compression.

Running without a subcommand starts the HTTP service:
- POST /compress accepts a multipart TIFF upload plus tuning parameters
- GET / describes the service
- /ws streams per-iteration progress events

Use the compress subcommand for one-shot compression from the command line.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

// compressCmd compresses a single file without the HTTP boundary.
var compressCmd = &cobra.Command{
	Use:   "compress <file>",
	Short: "Compress a single TIFF file",
	Long: `Compresses the given TIFF file until it fits within the target size or
the minimum allowed scale is reached, and writes the result next to the
input (or to --output).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCompress(cmd, args[0])
	},
}

// inspectCmd prints information about a TIFF file.
var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Show dimensions, resolution and metadata of a TIFF file",
	Long: `Prints the dimensions and resolution tags of a TIFF file. When the
exiftool binary is installed, the full metadata is listed as well. This is
useful for verifying what a compression pass stripped or rewrote.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInspect(args[0])
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")

	rootCmd.Flags().IntVar(&port, "port", 0, "port to run the server on (overrides config)")

	compressCmd.Flags().StringVar(&outputPath, "output", "", "output path (default: compressed_<input> next to the input)")
	compressCmd.Flags().IntVar(&targetSizeKB, "target-size-kb", 0, "target file size in kilobytes (required)")
	compressCmd.Flags().Float64Var(&minSizePercentage, "min-size-percentage", 0, "minimum size as a fraction of the original dimensions")
	compressCmd.Flags().Float64Var(&scaleFactor, "scale-factor", 0, "initial scale factor for resizing")
	compressCmd.Flags().Float64Var(&sharpnessFactor, "sharpness-factor", 0, "sharpness enhancement factor")
	compressCmd.Flags().Float64Var(&contrastFactor, "contrast-factor", 0, "contrast enhancement factor")
	compressCmd.Flags().Float64Var(&blurRadius, "blur-radius", 0, "Gaussian blur radius, 0 disables")
	compressCmd.Flags().IntVar(&dpi, "dpi", 0, "DPI written into the output")
	compressCmd.Flags().Float64Var(&decayRate, "decay-rate", 0, "per-iteration decay of the scale factor")
	compressCmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "iteration budget of the compression loop")
	_ = compressCmd.MarkFlagRequired("target-size-kb")

	rootCmd.AddCommand(compressCmd)
	rootCmd.AddCommand(inspectCmd)
}

// initConfig loads configuration file and environment variables.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.tiff-squeeze")
		viper.AddConfigPath("/etc/tiff-squeeze")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// runServe starts the web server and handles graceful shutdown.
func runServe() error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if port != 0 {
		cfg.Server.Port = port
	}

	log := setupLogger(cfg)
	work, err := workspace.New(cfg.Server.WorkDir)
	if err != nil {
		return fmt.Errorf("failed to prepare workspace: %w", err)
	}

	stats := statistics.NewStatistics()
	comp := compressor.NewDefaultCompressor(log)
	server := web.NewServer(cfg, log, comp, work, stats)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := server.Start(cfg.Server.Port); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	if !quiet {
		fmt.Printf("TiffSqueeze listening on http://localhost:%d\n", cfg.Server.Port)
		fmt.Printf("Press Ctrl+C to stop the server\n\n")
	}

	<-sigChan
	fmt.Println("\nShutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	stats.Finalize()
	if !quiet {
		fmt.Println("\n" + stats.GetSummary())
	}
	return nil
}

// applyCompressFlags overrides the configured defaults with every flag the
// user set explicitly. Flag presence decides, not the value: --blur-radius 0
// is a valid request to disable blur and must not fall back to the default.
func applyCompressFlags(cmd *cobra.Command, params *compressor.Params) {
	flags := cmd.Flags()

	params.TargetSizeKB = targetSizeKB
	if flags.Changed("min-size-percentage") {
		params.MinSizePercentage = minSizePercentage
	}
	if flags.Changed("scale-factor") {
		params.ScaleFactor = scaleFactor
	}
	if flags.Changed("sharpness-factor") {
		params.SharpnessFactor = sharpnessFactor
	}
	if flags.Changed("contrast-factor") {
		params.ContrastFactor = contrastFactor
	}
	if flags.Changed("blur-radius") {
		params.BlurRadius = blurRadius
	}
	if flags.Changed("dpi") {
		params.DPI = dpi
	}
	if flags.Changed("decay-rate") {
		params.DecayRate = decayRate
	}
	if flags.Changed("max-iterations") {
		params.MaxIterations = maxIterations
	}
}

// runCompress executes a one-shot compression of a single file.
func runCompress(cmd *cobra.Command, inputPath string) error {
	if !fileExists(inputPath) {
		return fmt.Errorf("file does not exist: %s", inputPath)
	}

	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := setupLogger(cfg)

	params := cfg.CompressionParams()
	params.InputPath = inputPath
	if outputPath != "" {
		params.OutputPath = outputPath
	} else {
		params.OutputPath = filepath.Join(filepath.Dir(inputPath), "compressed_"+filepath.Base(inputPath))
	}
	applyCompressFlags(cmd, &params)
	if !quiet {
		params.Progress = func(p compressor.Progress) {
			fmt.Printf("  iteration %d: %dx%d at scale %.3f -> %.1f KB\n",
				p.Iteration, p.Width, p.Height, p.Scale, p.SizeKB)
		}
	}

	comp := compressor.NewDefaultCompressor(log)
	result, err := comp.Compress(context.Background(), params)
	if err != nil {
		return fmt.Errorf("compression failed: %w", err)
	}

	if !quiet {
		fmt.Printf("\n%s\n", result.Message)
		fmt.Printf("Wrote %s (%dx%d, %.1f KB, saved %.1f%%)\n",
			result.OutputPath, result.FinalWidth, result.FinalHeight,
			result.SizeKB(), result.PercentageSaved)
	}
	return nil
}

// runInspect prints dimensions, resolution tags and metadata for a file.
func runInspect(filePath string) error {
	if !fileExists(filePath) {
		return fmt.Errorf("file does not exist: %s", filePath)
	}

	img, err := imaging.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to decode image: %w", err)
	}
	fmt.Printf("File: %s\n", filePath)
	fmt.Printf("Dimensions: %dx%d\n", img.Bounds().Dx(), img.Bounds().Dy())

	if data, err := os.ReadFile(filePath); err == nil {
		if x, y, err := tiffmeta.Resolution(data); err == nil {
			fmt.Printf("Resolution: %dx%d dpi\n", x, y)
		} else {
			fmt.Printf("Resolution: not present (%v)\n", err)
		}
	}

	et, err := exiftool.NewExiftool()
	if err != nil {
		fmt.Printf("Metadata: exiftool not available (%v)\n", err)
		return nil
	}
	defer et.Close()

	metas := et.ExtractMetadata(filePath)
	if len(metas) == 0 || metas[0].Err != nil {
		fmt.Println("Metadata: none extracted")
		return nil
	}

	keys := make([]string, 0, len(metas[0].Fields))
	for k := range metas[0].Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Printf("Metadata (%d fields):\n", len(keys))
	for _, k := range keys {
		fmt.Printf("  %s: %v\n", k, metas[0].Fields[k])
	}
	return nil
}

// setupLogger configures and returns a logger.
func setupLogger(cfg *config.Config) *logrus.Logger {
	loggerCfg := logger.LoggerConfig{
		Level:      cfg.Logging.Level,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
		Console:    !quiet,
	}

	if verbose {
		loggerCfg.Level = "debug"
	}
	if quiet {
		loggerCfg.Level = "error"
	}

	log, err := logger.NewLogger(loggerCfg)
	if err != nil {
		log = logrus.New()
		log.SetLevel(logrus.InfoLevel)
	}

	return log
}

// fileExists returns true if the given path exists and is a file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
