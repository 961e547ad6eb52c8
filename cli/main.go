package main

import (
	"fmt"
	"io"
	"os"

	"github.com/Sirupsen/logrus"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/russross/gradesync/config"
	"github.com/russross/gradesync/lms"
	. "github.com/russross/gradesync/types"
)

const (
	defaultTokenFile = "../API_token"
	defaultJournal   = "gradesync.db"
	envFile          = ".env"
	envBaseURL       = "GRADESYNC_BASE_URL"
	envToken         = "GRADESYNC_TOKEN"
)

var Config struct {
	BaseURL   string
	TokenFile string
	Rate      float64
	Debug     bool
	LogFile   string
	apiReport bool
	apiDump   bool
}

var logger = logrus.New()

func main() {
	cmdGradesync := &cobra.Command{
		Use:   "gradesync",
		Short: "Upload grading spreadsheets and grades to Canvas",
		Long: "Attaches each student's grading spreadsheet to their Canvas submission\n" +
			"as a comment and posts the score it contains as their grade.",
		PersistentPreRun: setup,
	}
	flags := cmdGradesync.PersistentFlags()
	flags.StringVar(&Config.BaseURL, "base-url", lms.DefaultBaseURL, "Canvas API base URL (env "+envBaseURL+")")
	flags.StringVar(&Config.TokenFile, "token", defaultTokenFile, "file holding the Canvas access token (env "+envToken+" holds the token itself)")
	flags.Float64Var(&Config.Rate, "rate", 0, "maximum API requests per second (0 for no limit)")
	flags.BoolVar(&Config.Debug, "debug", false, "verbose debugging output")
	flags.StringVar(&Config.LogFile, "log-file", "", "also write log output to this file (rotated)")
	flags.BoolVar(&Config.apiReport, "api", false, "report all API requests")
	flags.BoolVar(&Config.apiDump, "api-dump", false, "dump API request and response data")

	cmdVersion := &cobra.Command{
		Use:   "version",
		Short: "print the version number of gradesync",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("gradesync %s (protocol %s)\n", CurrentVersion.Software, CurrentVersion.Version)
		},
	}
	cmdGradesync.AddCommand(cmdVersion)

	cmdSubmit := &cobra.Command{
		Use:   "submit [directory]",
		Short: "upload spreadsheets and post grades for a grading directory",
		Long: fmt.Sprintf("Run in a grading directory holding a config file and one spreadsheet per\n"+
			"student, named <name>-<student id>-<course id>.xlsx.\n\n"+
			"Each spreadsheet is attached to the student's submission and the score\n"+
			"in its Score row is posted as the grade for every attempt.\n\n"+
			"   Example: '%s submit -n' (dry run: show what would happen)\n\n"+
			"   Example: '%s submit --mode grades --flow quiz'", os.Args[0], os.Args[0]),
		Run: CommandSubmit,
	}
	cmdSubmit.Flags().String("config", "", "config file (default: the one file matching config* in the directory)")
	cmdSubmit.Flags().BoolP("dry-run", "n", false, "do everything but upload files or post grades")
	cmdSubmit.Flags().Bool("force", false, "do not ask before using an assignment whose name differs from the config")
	cmdSubmit.Flags().String("mode", "full", "what to send: full, comments, or grades")
	cmdSubmit.Flags().String("flow", "assignment", "how to post grades: assignment or quiz")
	cmdSubmit.Flags().Bool("text-comment", false, "also post each spreadsheet as a CSV text comment")
	cmdSubmit.Flags().Bool("direct", false, "look up each submission individually instead of listing them")
	cmdSubmit.Flags().String("journal", "", "record the run in this sqlite journal")
	cmdGradesync.AddCommand(cmdSubmit)

	cmdCopyRubric := &cobra.Command{
		Use:   "copy-rubric [directory]",
		Short: "copy the rubric spreadsheet once for every student",
		Long: "Lists every submission in each configured course and copies the rubric\n" +
			"to <sortable name>-<student id>-<course id>.xlsx, ready for grading.\n" +
			"Existing files are left alone.",
		Run: CommandCopyRubric,
	}
	cmdCopyRubric.Flags().String("config", "", "config file (default: the one file matching config* in the directory)")
	cmdCopyRubric.Flags().String("rubric", "", "rubric file (default: the one file matching "+rubricGlob+")")
	cmdCopyRubric.Flags().BoolP("dry-run", "n", false, "list the files that would be created")
	cmdGradesync.AddCommand(cmdCopyRubric)

	cmdReport := &cobra.Command{
		Use:   "report [run id]",
		Short: "print a recorded run from the journal",
		Run:   CommandReport,
	}
	cmdReport.Flags().String("journal", defaultJournal, "sqlite journal to read")
	cmdReport.Flags().Bool("html", false, "render as HTML instead of markdown")
	cmdGradesync.AddCommand(cmdReport)

	cmdSandbox := &cobra.Command{
		Use:   "sandbox [directory]",
		Short: "serve a fake Canvas seeded from a grading directory",
		Long: fmt.Sprintf("Starts a local stand-in for the Canvas API with the courses from the\n"+
			"config file and one submission per spreadsheet, so a run can be rehearsed:\n\n"+
			"   %s sandbox --port 8080 &\n"+
			"   %s --base-url http://localhost:8080/api/v1/ submit", os.Args[0], os.Args[0]),
		Run: CommandSandbox,
	}
	cmdSandbox.Flags().String("config", "", "config file (default: the one file matching config* in the directory)")
	cmdSandbox.Flags().Int("port", 8080, "port to listen on")
	cmdSandbox.Flags().String("sandbox-token", "sandbox", "bearer token the sandbox accepts")
	cmdSandbox.Flags().Int("attempts", 1, "attempts recorded for each seeded submission")
	cmdSandbox.Flags().Bool("quiz", false, "seed quizzes as well as assignments")
	cmdGradesync.AddCommand(cmdSandbox)

	if err := cmdGradesync.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup runs before every command: it loads .env, applies environment
// defaults, and configures logging.
func setup(cmd *cobra.Command, args []string) {
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			logger.Fatalf("loading %s: %v", envFile, err)
		}
	}
	if url := os.Getenv(envBaseURL); url != "" && !cmd.Flags().Changed("base-url") {
		Config.BaseURL = url
	}
	if Config.apiDump {
		Config.apiReport = true
	}

	var out io.Writer = os.Stderr
	if Config.LogFile != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   Config.LogFile,
			MaxSize:    10,
			MaxBackups: 5,
			MaxAge:     90,
		})
	}
	logger.Out = out
	if Config.Debug {
		logger.Level = logrus.DebugLevel
	}
}

func mustNewClient(cmd *cobra.Command) *lms.Client {
	token := os.Getenv(envToken)
	if token == "" || cmd.Flags().Changed("token") {
		var err error
		if token, err = config.LoadToken(Config.TokenFile); err != nil {
			logger.Fatalf("%v", err)
		}
	}
	client, err := lms.New(lms.Options{
		BaseURL:           Config.BaseURL,
		Token:             token,
		RequestsPerSecond: Config.Rate,
		APIReport:         Config.apiReport,
		APIDump:           Config.apiDump,
		Log:               logrus.NewEntry(logger),
	})
	if err != nil {
		logger.Fatalf("%v", err)
	}
	return client
}

// directoryArg returns the directory named on the command line, or ".".
func directoryArg(cmd *cobra.Command, args []string) string {
	switch len(args) {
	case 0:
		return "."
	case 1:
		return args[0]
	}
	cmd.Help()
	logger.Fatalf("Usage: %s %s", os.Args[0], cmd.Use)
	return ""
}

func mustLoadAssignment(cmd *cobra.Command, dir string) *config.Assignment {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		logger.Fatalf("%v", err)
	}
	if path == "" {
		if path, err = config.Discover(dir); err != nil {
			logger.Fatalf("%v", err)
		}
	}
	conf, err := config.Load(path)
	if err != nil {
		logger.Fatalf("%v", err)
	}
	return conf
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
