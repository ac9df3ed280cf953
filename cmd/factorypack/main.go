package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/crosutil/factorypack/internal/scratch"
	"github.com/crosutil/factorypack/pkg/bundle"
	"github.com/crosutil/factorypack/pkg/cgpt"
	"github.com/crosutil/factorypack/pkg/fetch"
	"github.com/crosutil/factorypack/pkg/mount"
	"github.com/crosutil/factorypack/pkg/upload"
)

// tracker owns every scratch file and mount of the run. It is released
// on normal exit, on error and on interrupt.
var tracker = &scratch.Tracker{}

func loadDefinition(flags *pflag.FlagSet, path string) (*bundle.Definition, error) {
	def, err := bundle.LoadDefinition(path)
	if err != nil {
		return nil, err
	}
	// flag overrides beat the definition file
	if flags.Changed("target") {
		def.Target, _ = flags.GetString("target")
	}
	if flags.Changed("preserve") {
		def.Preserve, _ = flags.GetBool("preserve")
	}
	if flags.Changed("data-dir") {
		def.DataDir, _ = flags.GetString("data-dir")
	}
	if flags.Changed("subfolder") {
		def.Subfolder, _ = flags.GetString("subfolder")
	}
	return def, nil
}

func cmdCompose(cmd *cobra.Command, args []string) error {
	def, err := loadDefinition(cmd.Flags(), args[0])
	if err != nil {
		return err
	}
	tool := cgpt.New()
	composer := bundle.NewComposer(tool, tool, mount.NewLoopback(tool), tracker)
	return composer.Compose(def)
}

func cmdServerData(cmd *cobra.Command, args []string) error {
	def, err := loadDefinition(cmd.Flags(), args[0])
	if err != nil {
		return err
	}
	tool := cgpt.New()
	builder := bundle.NewDataBuilder(tool, mount.NewLoopback(tool), tracker)
	return builder.BuildServerData(def)
}

func parseImageKind(s string) (fetch.ImageKind, error) {
	switch s {
	case "release":
		return fetch.ReleaseImage, nil
	case "recovery":
		return fetch.RecoveryImage, nil
	case "factory":
		return fetch.FactoryImage, nil
	}
	return 0, fmt.Errorf("unknown image kind %q, want release, recovery or factory", s)
}

func cmdFetch(cmd *cobra.Command, args []string) error {
	kind, err := parseImageKind(args[1])
	if err != nil {
		return err
	}
	workDir, err := cmd.Flags().GetString("workdir")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return err
	}

	client := fetch.New(workDir)
	if prefix, _ := cmd.Flags().GetString("server"); prefix != "" {
		client.Prefix = prefix
	}
	local, err := client.FetchImage(args[0], kind, args[2])
	if err != nil {
		return err
	}
	fmt.Println(local)
	return nil
}

func cmdUpload(cmd *cobra.Command, args []string) error {
	bucket, err := cmd.Flags().GetString("bucket")
	if err != nil {
		return err
	}
	prefix, _ := cmd.Flags().GetString("prefix")

	ctx := context.Background()
	uploader, err := upload.New(ctx, bucket)
	if err != nil {
		return err
	}
	defer uploader.Close()

	fi, err := os.Stat(args[0])
	if err != nil {
		return err
	}
	if fi.IsDir() {
		return uploader.UploadDir(ctx, args[0], prefix)
	}
	return uploader.UploadFile(ctx, args[0], path.Join(prefix, fi.Name()))
}

func run() error {
	rootCmd := &cobra.Command{
		Use:   "factorypack",
		Short: "Compose factory disk images and update-server data sets",
		Long: `Compose factory disk images and update-server data sets

Factorypack combines a factory and a release image into a bootable
target image, or streams their partitions into the compressed artifact
set a factory update server serves.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
				logrus.SetLevel(logrus.DebugLevel)
			}
		},
	}
	rootCmd.PersistentFlags().Bool("verbose", false, "Show debug output")

	composeCmd := &cobra.Command{
		Use:          "compose <definition-file>",
		Short:        "Compose a bootable target image from a bundle definition",
		RunE:         cmdCompose,
		SilenceUsage: true,
		Args:         cobra.ExactArgs(1),
	}
	composeCmd.Flags().String("target", "", "Target image file or block device")
	composeCmd.Flags().Bool("preserve", false, "Reuse an existing target file of matching size")
	rootCmd.AddCommand(composeCmd)

	serverDataCmd := &cobra.Command{
		Use:          "server-data <definition-file>",
		Short:        "Build the compressed artifact set and manifest for an update server",
		RunE:         cmdServerData,
		SilenceUsage: true,
		Args:         cobra.ExactArgs(1),
	}
	serverDataCmd.Flags().String("data-dir", "", "Update server data directory")
	serverDataCmd.Flags().String("subfolder", "", "Namespace artifacts under a subfolder and append to the manifest")
	rootCmd.AddCommand(serverDataCmd)

	fetchCmd := &cobra.Command{
		Use:          "fetch <board> <release|recovery|factory> <version-spec>",
		Short:        "Download a signed image from the image server, e.g. x86-alex release 0.12.433.269/beta/mp",
		RunE:         cmdFetch,
		SilenceUsage: true,
		Args:         cobra.ExactArgs(3),
	}
	fetchCmd.Flags().String("workdir", ".", "Directory to download into")
	fetchCmd.Flags().String("server", "", "Image server prefix override")
	rootCmd.AddCommand(fetchCmd)

	uploadCmd := &cobra.Command{
		Use:          "upload <file-or-directory>",
		Short:        "Upload bundle artifacts to Google Storage",
		RunE:         cmdUpload,
		SilenceUsage: true,
		Args:         cobra.ExactArgs(1),
	}
	uploadCmd.Flags().String("bucket", upload.DefaultBucket, "Destination bucket")
	uploadCmd.Flags().String("prefix", "", "Object name prefix")
	rootCmd.AddCommand(uploadCmd)

	return rootCmd.Execute()
}

func main() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		logrus.Warnf("interrupted by %s, cleaning up", sig)
		if err := tracker.Release(); err != nil {
			logrus.Warnf("cleanup: %s", err)
		}
		os.Exit(1)
	}()

	err := run()
	if relErr := tracker.Release(); relErr != nil {
		logrus.Warnf("cleanup: %s", relErr)
	}
	if err != nil {
		log.Fatalf("error: %s", err)
	}
}
