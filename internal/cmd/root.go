/*
Package cmd provides the CLI commands for productbuild.
*/
package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/phovea/productbuild/internal/config"
)

var (
	cfgFile         string
	manifestFile    string
	packageFile     string
	buildDir        string
	tmpDir          string
	services        string
	productVersion  string
	dockerRegistry  string
	dockerTags      string
	dockerBuildArgs string
	imageFormat     string
	sourceFormat    string
	checksumAlg     string
	cacheDir        string
	skipTests       bool
	skipDocker      bool
	skipPush        bool
	saveImage       bool
	archiveSource   bool
	removeImages    bool
	injectVersion   bool
	useSSH          bool
	serial          bool
	cacheData       bool
	quiet           bool
	verbose         bool
	parallelism     int
	timeout         time.Duration
)

// rootCmd builds the product when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "productbuild",
	Short: "Build the parts of a phovea product",
	Long: `productbuild builds every part of a phovea product described in
phovea_product.json: it clones the part repositories, scaffolds a workspace,
installs dependencies, builds the web bundle or python source tree, builds and
pushes a docker image per part and writes a merged docker-compose.yml.

Every flag can also be given as an environment variable PHOVEA_<FLAG>,
e.g. --dockerRegistry as PHOVEA_DOCKER_REGISTRY.

Example:
  productbuild                                  # Build and push all parts
  productbuild --services web,api --skipPush    # Build two parts without pushing
  productbuild --skipDocker --serial            # Only build bundles, one part at a time
  productbuild check                            # Show the derived parts`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	RunE:              runBuild,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Flags shared with check
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&cfgFile, "config", "c", "", "defaults file (default is "+config.DefaultFile+" if present)")
	pf.StringVar(&manifestFile, "manifest", "", "product manifest (default phovea_product.json)")
	pf.StringVar(&packageFile, "package", "", "package.json providing product name and version")
	pf.StringVar(&tmpDir, "tmpDir", "", "directory holding the part workspaces")
	pf.StringVar(&services, "services", "", "comma separated part keys to build (default all)")
	pf.StringVar(&productVersion, "version", "", "product version overriding package.json")
	pf.StringVar(&dockerRegistry, "dockerRegistry", "", "registry prefixed to pushed images")
	pf.StringVar(&dockerTags, "dockerTags", "", "comma separated tags applied to every image")
	pf.StringVar(&cacheDir, "cacheDir", "", "directory of the data package cache")
	pf.BoolVar(&useSSH, "useSSH", false, "clone repositories over ssh")
	pf.BoolVarP(&quiet, "quiet", "q", false, "only print errors and subprocess output of failed commands")
	pf.BoolVarP(&verbose, "verbose", "v", false, "enable debug output")

	f := rootCmd.Flags()
	f.StringVar(&buildDir, "buildDir", "", "directory receiving bundles, archives and docker-compose.yml")
	f.StringVar(&dockerBuildArgs, "dockerBuildArgs", "", "extra arguments for docker build")
	f.StringVar(&imageFormat, "imageFormat", "", "format of saved images: tar, tar.gz or tar.zst")
	f.StringVar(&sourceFormat, "sourceFormat", "", "format of source archives: tar.gz, tar.zst or zip")
	f.StringVar(&checksumAlg, "checksum", "", "checksum algorithm: md5, sha1, sha256, sha512 or blake3")
	f.BoolVar(&skipTests, "skipTests", false, "skip test scripts and dev requirements")
	f.BoolVar(&skipDocker, "skipDocker", false, "skip docker build and push")
	f.BoolVar(&skipPush, "skipPush", false, "skip docker push")
	f.BoolVar(&saveImage, "saveImage", false, "save every image as an archive in the build directory")
	f.BoolVar(&archiveSource, "archiveSource", false, "pack the source tree of server parts into the build directory")
	f.BoolVar(&removeImages, "removeImages", false, "remove previous local images of the product first")
	f.BoolVar(&injectVersion, "injectVersion", false, "write the part version into the workspace package.json")
	f.BoolVar(&serial, "serial", false, "build parts one after another")
	f.BoolVar(&cacheData, "cacheData", false, "reuse data packages downloaded by previous builds")
	f.IntVarP(&parallelism, "parallelism", "p", 0, "number of parts built at once (default all)")
	f.DurationVar(&timeout, "timeout", 0, "timeout for every subprocess (default none)")

	// Add subcommands
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(cacheCmd)
}

// setup applies environment variables to unset flags and configures logging.
func setup(cmd *cobra.Command, _ []string) error {
	if err := applyEnv(cmd.Flags(), os.LookupEnv); err != nil {
		return err
	}

	switch {
	case verbose:
		log.SetLevel(log.DebugLevel)
	case quiet:
		log.SetLevel(log.ErrorLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}
	return nil
}

// applyEnv sets every flag not given on the command line from PHOVEA_<FLAG>.
func applyEnv(flags *pflag.FlagSet, lookup func(string) (string, bool)) error {
	var err error
	flags.VisitAll(func(f *pflag.Flag) {
		if err != nil || f.Changed || f.Name == "help" {
			return
		}
		name := config.EnvVar(f.Name)
		value, ok := lookup(name)
		if !ok {
			return
		}
		if serr := flags.Set(f.Name, value); serr != nil {
			err = fmt.Errorf("invalid value %q for %s: %w", value, name, serr)
		}
	})
	return err
}

// flagOptions returns the options given by flags and environment variables.
func flagOptions() config.Options {
	return config.Options{
		ManifestFile:    manifestFile,
		PackageFile:     packageFile,
		BuildDir:        buildDir,
		TmpDir:          tmpDir,
		Version:         productVersion,
		Services:        config.SplitList(services),
		SkipTests:       skipTests,
		SkipDocker:      skipDocker,
		SkipPush:        skipPush,
		SaveImage:       saveImage,
		ArchiveSource:   archiveSource,
		RemoveImages:    removeImages,
		InjectVersion:   injectVersion,
		UseSSH:          useSSH,
		Serial:          serial,
		Quiet:           quiet,
		Verbose:         verbose,
		DockerRegistry:  dockerRegistry,
		DockerTags:      config.SplitList(dockerTags),
		DockerBuildArgs: dockerBuildArgs,
		ImageFormat:     imageFormat,
		SourceFormat:    sourceFormat,
		Checksum:        checksumAlg,
		CacheData:       cacheData,
		CacheDir:        cacheDir,
		Parallelism:     parallelism,
		Timeout:         timeout,
	}
}

// loadOptions merges flags with the defaults file and the built-in defaults.
func loadOptions() (config.Options, error) {
	path := cfgFile
	if path == "" {
		path = config.DefaultFile
	}

	var file *config.Options
	if _, err := os.Stat(path); err == nil || cfgFile != "" {
		if file, err = config.LoadFile(path); err != nil {
			return config.Options{}, err
		}
		log.Debug("Loaded defaults file", "path", path)
	}

	opts, err := config.Merge(flagOptions(), file)
	if err != nil {
		return opts, err
	}
	if err := opts.Validate(); err != nil {
		return opts, fmt.Errorf("invalid options: %w", err)
	}
	return opts, nil
}
